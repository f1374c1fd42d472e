package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"classtrack/internal/attendance"
	"classtrack/internal/ledger"
)

// QuarantineHandler serves the unknown-identity review queue.
type QuarantineHandler struct {
	ledger *ledger.Service
}

// NewQuarantineHandler creates a new quarantine handler.
func NewQuarantineHandler(svc *ledger.Service) *QuarantineHandler {
	return &QuarantineHandler{ledger: svc}
}

// List returns unresolved quarantine entries, oldest first, optionally
// filtered by room.
func (h *QuarantineHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.ledger.Unresolved(r.Context(), r.URL.Query().Get("room_id"))
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	if entries == nil {
		entries = []attendance.QuarantineEntry{}
	}
	respondJSON(w, http.StatusOK, entries)
}

// PromoteRequest is the request body for promoting a quarantine entry.
type PromoteRequest struct {
	StudentID string `json:"student_id"`
	Backfill  bool   `json:"backfill"`
}

// PromoteResponse reports what a promotion folded in.
type PromoteResponse struct {
	ResolvedEntries int  `json:"resolved_entries"`
	Backfilled      bool `json:"backfilled"`
}

// Promote resolves a quarantine entry into a student. Similar unresolved
// sightings in the same room are resolved along with it. Re-promoting an
// already-resolved entry is a conflict.
func (h *QuarantineHandler) Promote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "id is required")
		return
	}

	var req PromoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.StudentID == "" {
		respondError(w, http.StatusBadRequest, "student_id is required")
		return
	}

	result, err := h.ledger.Promote(r.Context(), id, req.StudentID, req.Backfill)
	if err != nil {
		log.Printf("promote quarantine %s failed: %v", sanitizeForLog(id), err)
		respondLedgerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, PromoteResponse{
		ResolvedEntries: result.ResolvedEntries,
		Backfilled:      result.Backfilled,
	})
}

// Ignore resolves a quarantine entry without promoting it. Used for
// passers-by and other faces that should never become attendance.
func (h *QuarantineHandler) Ignore(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "id is required")
		return
	}

	if err := h.ledger.Ignore(r.Context(), id); err != nil {
		respondLedgerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
}
