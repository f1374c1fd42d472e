package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"classtrack/internal/attendance"
	"classtrack/internal/ledger"
)

// RoomsHandler manages room reference data.
type RoomsHandler struct {
	store ledger.Store
}

// NewRoomsHandler creates a new rooms handler.
func NewRoomsHandler(store ledger.Store) *RoomsHandler {
	return &RoomsHandler{store: store}
}

// List returns all rooms.
func (h *RoomsHandler) List(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.store.ListRooms(r.Context())
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	if rooms == nil {
		rooms = []attendance.Room{}
	}
	respondJSON(w, http.StatusOK, rooms)
}

// Get returns a single room by id.
func (h *RoomsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "id is required")
		return
	}

	room, err := h.store.GetRoom(r.Context(), id)
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, room)
}

// RoomCreateRequest is the request body for creating a room.
type RoomCreateRequest struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CameraURL string `json:"camera_url"`
}

// Create registers a room. An explicit id is allowed so deployments can use
// stable room codes instead of generated ids.
func (h *RoomsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req RoomCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	room := &attendance.Room{
		ID:        req.ID,
		Name:      req.Name,
		CameraURL: req.CameraURL,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.CreateRoom(r.Context(), room); err != nil {
		respondLedgerError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, room)
}
