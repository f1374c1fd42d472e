// Package memory provides an in-memory ledger.Store for tests and for
// running the server without PostgreSQL. All operations are atomic under
// one mutex, matching the per-key upsert guarantees of the SQL store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"classtrack/internal/attendance"
	"classtrack/internal/ledger"
	"classtrack/internal/matcher"
)

// Store is a mutex-guarded in-memory implementation of ledger.Store.
type Store struct {
	mu         sync.Mutex
	rooms      map[string]attendance.Room
	students   map[string]attendance.Student
	records    map[attendance.RecordKey]attendance.AttendanceRecord
	processed  map[string]time.Time
	quarantine map[string]attendance.QuarantineEntry
	qOrder     []string // insertion order for deterministic listings

	// Error injection for tests.
	UpsertAutoError    error
	UpsertManualError  error
	MarkProcessedError error
	AddQuarantineError error
}

// New creates an empty store.
func New() *Store {
	return &Store{
		rooms:      make(map[string]attendance.Room),
		students:   make(map[string]attendance.Student),
		records:    make(map[attendance.RecordKey]attendance.AttendanceRecord),
		processed:  make(map[string]time.Time),
		quarantine: make(map[string]attendance.QuarantineEntry),
	}
}

// UpsertAuto creates the record, refines first_seen_at down for an
// existing auto record, and leaves manual records untouched.
func (s *Store) UpsertAuto(_ context.Context, rec attendance.AttendanceRecord) error {
	if s.UpsertAutoError != nil {
		return s.UpsertAutoError
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rec.Key()
	existing, ok := s.records[key]
	if !ok {
		rec.Source = attendance.SourceAuto
		rec.Status = attendance.StatusPresent
		s.records[key] = rec
		return nil
	}
	if existing.Source == attendance.SourceManual {
		return nil // manual wins, auto is accepted but ignored
	}
	if rec.FirstSeenAt.Before(existing.FirstSeenAt) {
		existing.FirstSeenAt = rec.FirstSeenAt
		s.records[key] = existing
	}
	return nil
}

// UpsertManual creates or overwrites the record with source=manual.
func (s *Store) UpsertManual(_ context.Context, rec attendance.AttendanceRecord) error {
	if s.UpsertManualError != nil {
		return s.UpsertManualError
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rec.Key()
	if existing, ok := s.records[key]; ok {
		existing.Source = attendance.SourceManual
		existing.Status = rec.Status
		s.records[key] = existing
		return nil
	}
	rec.Source = attendance.SourceManual
	s.records[key] = rec
	return nil
}

// ListRecords returns matching records ordered by (room_id, student_id).
func (s *Store) ListRecords(_ context.Context, filter ledger.RecordFilter) ([]attendance.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []attendance.AttendanceRecord
	for _, rec := range s.records {
		if filter.Day != "" && rec.Day != filter.Day {
			continue
		}
		if filter.RoomID != "" && rec.RoomID != filter.RoomID {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RoomID != out[j].RoomID {
			return out[i].RoomID < out[j].RoomID
		}
		return out[i].StudentID < out[j].StudentID
	})
	return out, nil
}

// SeenProcessed reports whether the key was recorded.
func (s *Store) SeenProcessed(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, seen := s.processed[key]
	return seen, nil
}

// MarkProcessed records an idempotency key, reporting first appearance.
func (s *Store) MarkProcessed(_ context.Context, key string) (bool, error) {
	if s.MarkProcessedError != nil {
		return false, s.MarkProcessedError
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.processed[key]; seen {
		return false, nil
	}
	s.processed[key] = time.Now().UTC()
	return true, nil
}

func (s *Store) CreateRoom(_ context.Context, room *attendance.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room.ID == "" {
		room.ID = uuid.NewString()
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now().UTC()
	}
	s.rooms[room.ID] = *room
	return nil
}

func (s *Store) GetRoom(_ context.Context, id string) (*attendance.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[id]
	if !ok {
		return nil, fmt.Errorf("room %s: %w", id, ledger.ErrNotFound)
	}
	return &room, nil
}

func (s *Store) ListRooms(_ context.Context) ([]attendance.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]attendance.Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		out = append(out, room)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) CreateStudent(_ context.Context, student *attendance.Student) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	if student.CreatedAt.IsZero() {
		student.CreatedAt = time.Now().UTC()
	}
	s.students[student.ID] = *student
	return nil
}

func (s *Store) GetStudent(_ context.Context, id string) (*attendance.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	student, ok := s.students[id]
	if !ok {
		return nil, fmt.Errorf("student %s: %w", id, ledger.ErrNotFound)
	}
	return &student, nil
}

func (s *Store) ListStudents(_ context.Context, roomID string, withEmbeddings bool) ([]attendance.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []attendance.Student
	for _, student := range s.students {
		// A room filter keeps floating students (no assigned room); they
		// belong to every room's roster, matching the SQL store.
		if roomID != "" && student.RoomID != "" && student.RoomID != roomID {
			continue
		}
		if !withEmbeddings {
			student.Embedding = nil
		}
		out = append(out, student)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) AddQuarantine(_ context.Context, entry *attendance.QuarantineEntry) error {
	if s.AddQuarantineError != nil {
		return s.AddQuarantineError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	s.quarantine[entry.ID] = *entry
	s.qOrder = append(s.qOrder, entry.ID)
	return nil
}

func (s *Store) GetQuarantine(_ context.Context, id string) (*attendance.QuarantineEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.quarantine[id]
	if !ok {
		return nil, fmt.Errorf("quarantine entry %s: %w", id, ledger.ErrNotFound)
	}
	return &entry, nil
}

func (s *Store) ListQuarantine(_ context.Context, roomID string, unresolvedOnly bool) ([]attendance.QuarantineEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []attendance.QuarantineEntry
	for _, id := range s.qOrder {
		entry := s.quarantine[id]
		if roomID != "" && entry.RoomID != roomID {
			continue
		}
		if unresolvedOnly && entry.Resolved {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *Store) ResolveQuarantine(_ context.Context, id, studentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.quarantine[id]
	if !ok {
		return false, fmt.Errorf("quarantine entry %s: %w", id, ledger.ErrNotFound)
	}
	if entry.Resolved {
		return false, nil
	}
	entry.Resolved = true
	entry.ResolvedStudentID = studentID
	s.quarantine[id] = entry
	return true, nil
}

func (s *Store) UnresolvedSimilar(_ context.Context, roomID string, embedding []float32, minSimilarity float64) ([]attendance.QuarantineEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []attendance.QuarantineEntry
	for _, id := range s.qOrder {
		entry := s.quarantine[id]
		if entry.Resolved || entry.RoomID != roomID || len(entry.Embedding) == 0 {
			continue
		}
		if matcher.CosineSimilarity(embedding, entry.Embedding) >= minSimilarity {
			out = append(out, entry)
		}
	}
	return out, nil
}
