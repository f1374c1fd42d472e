package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"classtrack/internal/attendance"
	"classtrack/internal/ledger"
)

// StudentsHandler manages student reference data and serves room rosters.
type StudentsHandler struct {
	store        ledger.Store
	embeddingDim int
}

// NewStudentsHandler creates a new students handler. embeddingDim is the
// required face vector length for enrollment.
func NewStudentsHandler(store ledger.Store, embeddingDim int) *StudentsHandler {
	return &StudentsHandler{store: store, embeddingDim: embeddingDim}
}

// List returns students, optionally filtered to a room's roster. Face
// embeddings are omitted unless embeddings=1 is set; agents are the only
// callers that need the vectors and they are large.
func (h *StudentsHandler) List(w http.ResponseWriter, r *http.Request) {
	withEmbeddings := r.URL.Query().Get("embeddings") == "1"
	students, err := h.store.ListStudents(r.Context(), r.URL.Query().Get("room_id"), withEmbeddings)
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	if students == nil {
		students = []attendance.Student{}
	}
	respondJSON(w, http.StatusOK, students)
}

// Get returns a single student by id, without the embedding.
func (h *StudentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "id is required")
		return
	}

	student, err := h.store.GetStudent(r.Context(), id)
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	student.Embedding = nil
	respondJSON(w, http.StatusOK, student)
}

// StudentCreateRequest is the request body for enrolling a student.
type StudentCreateRequest struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	RollNo    string    `json:"roll_no"`
	RoomID    string    `json:"room_id"`
	PhotoURL  string    `json:"photo_url"`
	Embedding []float32 `json:"embedding"`
}

// Create enrolls a student. The embedding is optional at enrollment time but
// must have the configured dimension when present; students without one never
// match and only appear through manual overrides.
func (h *StudentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req StudentCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if len(req.Embedding) != 0 && len(req.Embedding) != h.embeddingDim {
		respondError(w, http.StatusBadRequest, "embedding has wrong dimension")
		return
	}
	if req.RoomID != "" {
		if _, err := h.store.GetRoom(r.Context(), req.RoomID); err != nil {
			respondLedgerError(w, err)
			return
		}
	}

	student := &attendance.Student{
		ID:        req.ID,
		Name:      attendance.NormalizeName(req.Name),
		RollNo:    req.RollNo,
		RoomID:    req.RoomID,
		PhotoURL:  req.PhotoURL,
		Embedding: req.Embedding,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.CreateStudent(r.Context(), student); err != nil {
		respondLedgerError(w, err)
		return
	}
	student.Embedding = nil
	respondJSON(w, http.StatusCreated, student)
}
