package handlers

import (
	"encoding/json"
	"net/http"

	"classtrack/internal/attendance"
	"classtrack/internal/ledger"
)

// AttendanceHandler serves the attendance records and manual overrides.
type AttendanceHandler struct {
	ledger *ledger.Service
}

// NewAttendanceHandler creates a new attendance handler.
func NewAttendanceHandler(svc *ledger.Service) *AttendanceHandler {
	return &AttendanceHandler{ledger: svc}
}

// List returns attendance records for a day, optionally filtered by room.
func (h *AttendanceHandler) List(w http.ResponseWriter, r *http.Request) {
	day, ok := dayParam(w, r)
	if !ok {
		return
	}

	records, err := h.ledger.Query(r.Context(), ledger.RecordFilter{
		Day:    day,
		RoomID: r.URL.Query().Get("room_id"),
	})
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	if records == nil {
		records = []attendance.AttendanceRecord{}
	}
	respondJSON(w, http.StatusOK, records)
}

// OverrideRequest is the request body for a manual attendance override.
type OverrideRequest struct {
	RoomID    string `json:"room_id"`
	StudentID string `json:"student_id"`
	Date      string `json:"date"`
	Status    string `json:"status"`
}

// Override records a teacher correction. The override wins over any past or
// future auto event for the same (room, student, day).
func (h *AttendanceHandler) Override(w http.ResponseWriter, r *http.Request) {
	var req OverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.RoomID == "" || req.StudentID == "" {
		respondError(w, http.StatusBadRequest, "room_id and student_id are required")
		return
	}

	day, err := attendance.ParseDay(req.Date)
	if err != nil {
		respondError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	if err := h.ledger.ApplyManual(r.Context(), req.RoomID, req.StudentID, day, attendance.Status(req.Status)); err != nil {
		respondLedgerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// dayParam resolves the date query parameter, defaulting to today (UTC).
func dayParam(w http.ResponseWriter, r *http.Request) (attendance.Day, bool) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		return attendance.Today(), true
	}
	day, err := attendance.ParseDay(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return "", false
	}
	return day, true
}
