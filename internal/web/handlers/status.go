package handlers

import (
	"net/http"

	"classtrack/internal/export"
	"classtrack/internal/ledger"
)

// StatusHandler serves the per-room live attendance summary.
type StatusHandler struct {
	store ledger.Store
}

// NewStatusHandler creates a new status handler.
func NewStatusHandler(store ledger.Store) *StatusHandler {
	return &StatusHandler{store: store}
}

// Get returns one summary per room for the requested day (default today):
// who has a record so far, out of how many enrolled.
func (h *StatusHandler) Get(w http.ResponseWriter, r *http.Request) {
	day, ok := dayParam(w, r)
	if !ok {
		return
	}

	summary, err := export.Status(r.Context(), h.store, day)
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"date":  day,
		"rooms": summary,
	})
}
