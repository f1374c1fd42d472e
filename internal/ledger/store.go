package ledger

import (
	"context"

	"classtrack/internal/attendance"
)

// RecordFilter narrows a ledger query. Day is required; RoomID is optional.
type RecordFilter struct {
	Day    attendance.Day
	RoomID string
}

// Store is the transactional backing store for the ledger. Implementations
// must make UpsertAuto and UpsertManual atomic per record key; concurrent
// writers from multiple rooms partition cleanly by key, so no coordination
// beyond the per-key upsert is needed.
type Store interface {
	// UpsertAuto creates the record if absent, keeps the minimum
	// first_seen_at if an auto record exists, and leaves manual records
	// untouched. Never returns a conflict to the caller.
	UpsertAuto(ctx context.Context, rec attendance.AttendanceRecord) error

	// UpsertManual creates or overwrites the record with source=manual.
	UpsertManual(ctx context.Context, rec attendance.AttendanceRecord) error

	// ListRecords returns matching records ordered by (room_id, student_id).
	ListRecords(ctx context.Context, filter RecordFilter) ([]attendance.AttendanceRecord, error)

	// SeenProcessed reports whether an idempotency key was recorded.
	SeenProcessed(ctx context.Context, idempotencyKey string) (bool, error)

	// MarkProcessed records an idempotency key and reports whether this
	// was its first appearance.
	MarkProcessed(ctx context.Context, idempotencyKey string) (first bool, err error)

	// Reference data.
	CreateRoom(ctx context.Context, room *attendance.Room) error
	GetRoom(ctx context.Context, id string) (*attendance.Room, error)
	ListRooms(ctx context.Context) ([]attendance.Room, error)
	CreateStudent(ctx context.Context, student *attendance.Student) error
	GetStudent(ctx context.Context, id string) (*attendance.Student, error)
	// ListStudents returns students, optionally restricted to a room.
	// Embeddings are included only when withEmbeddings is set; the roster
	// fetch is the only caller that needs them.
	ListStudents(ctx context.Context, roomID string, withEmbeddings bool) ([]attendance.Student, error)

	// Quarantine.
	AddQuarantine(ctx context.Context, entry *attendance.QuarantineEntry) error
	GetQuarantine(ctx context.Context, id string) (*attendance.QuarantineEntry, error)
	// ListQuarantine returns entries, oldest first.
	ListQuarantine(ctx context.Context, roomID string, unresolvedOnly bool) ([]attendance.QuarantineEntry, error)
	// ResolveQuarantine conditionally marks an entry resolved. resolved
	// reports whether this call transitioned it; false means it was
	// already resolved. An empty studentID records an operator ignore.
	ResolveQuarantine(ctx context.Context, id, studentID string) (resolved bool, err error)
	// UnresolvedSimilar returns unresolved entries in the room whose
	// embedding is at least minSimilarity close to the given one.
	UnresolvedSimilar(ctx context.Context, roomID string, embedding []float32, minSimilarity float64) ([]attendance.QuarantineEntry, error)
}
