package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"classtrack/internal/attendance"
	"classtrack/internal/ledger"
)

// EventsHandler ingests identity events from room agents.
type EventsHandler struct {
	ledger *ledger.Service
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(svc *ledger.Service) *EventsHandler {
	return &EventsHandler{ledger: svc}
}

// EventResponse tells the agent what happened to its event. Status is
// "accepted", "duplicate" or "quarantined"; all three mean delivered, so the
// agent marks the outbox row done either way.
type EventResponse struct {
	Status string `json:"status"`
}

// Ingest applies one identity event. Replays of an already-processed
// idempotency key succeed with status "duplicate".
func (h *EventsHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var ev attendance.IdentityEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	result, err := h.ledger.ApplyAuto(r.Context(), ev)
	if err != nil {
		log.Printf("event ingest failed for room %s: %v", sanitizeForLog(ev.RoomID), err)
		respondLedgerError(w, err)
		return
	}

	resp := EventResponse{Status: "accepted"}
	switch {
	case result.Duplicate:
		resp.Status = "duplicate"
	case result.Quarantined:
		resp.Status = "quarantined"
	}
	respondJSON(w, http.StatusOK, resp)
}
