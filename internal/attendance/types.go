// Package attendance defines the domain types shared between the room
// agents and the central ledger: students, rooms, identity events,
// attendance records and quarantine entries.
package attendance

import (
	"fmt"
	"time"
)

// Source identifies who wrote an attendance record.
type Source string

const (
	SourceAuto   Source = "auto"
	SourceManual Source = "manual"
)

// Status is the attendance status recorded for a student on a day.
type Status string

const (
	StatusPresent Status = "present"
	StatusExcused Status = "excused"
	StatusAbsent  Status = "absent"
)

// ValidStatus reports whether s is one of the accepted status values.
func ValidStatus(s Status) bool {
	switch s {
	case StatusPresent, StatusExcused, StatusAbsent:
		return true
	}
	return false
}

// Day is a calendar day in UTC, formatted YYYY-MM-DD.
type Day string

const dayLayout = "2006-01-02"

// DayOf truncates t to its UTC calendar day.
func DayOf(t time.Time) Day {
	return Day(t.UTC().Format(dayLayout))
}

// Today returns the current UTC calendar day.
func Today() Day {
	return DayOf(time.Now())
}

// ParseDay parses a YYYY-MM-DD string.
func ParseDay(s string) (Day, error) {
	if _, err := time.Parse(dayLayout, s); err != nil {
		return "", fmt.Errorf("invalid day %q: %w", s, err)
	}
	return Day(s), nil
}

// Student is central reference data. The roster embedding is the canonical
// face vector used by room agents for matching; RoomID is empty for
// students not pinned to a single room.
type Student struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	RollNo    string    `json:"roll_no,omitempty"`
	RoomID    string    `json:"room_id,omitempty"`
	PhotoURL  string    `json:"photo_url,omitempty"`
	Embedding []float32 `json:"embedding,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Room is central reference data describing one monitored classroom.
type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CameraURL string    `json:"camera_url,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// IdentityEvent is one debounced sighting produced by a room agent.
// StudentID is empty for unknown identities, which the ledger routes to
// quarantine instead of the attendance table.
type IdentityEvent struct {
	RoomID         string    `json:"room_id"`
	StudentID      string    `json:"student_id,omitempty"`
	Day            Day       `json:"date"`
	DetectedAt     time.Time `json:"detected_at"`
	MatchScore     float64   `json:"match_score"`
	IdempotencyKey string    `json:"idempotency_key"`
	Embedding      []float32 `json:"embedding,omitempty"`
	SnapshotB64    string    `json:"snapshot_b64,omitempty"`
}

// Unknown reports whether the event carries an unresolved identity.
func (e *IdentityEvent) Unknown() bool { return e.StudentID == "" }

// AttendanceRecord is the durable unit of truth, unique per
// (room, student, day).
type AttendanceRecord struct {
	RoomID      string    `json:"room_id"`
	StudentID   string    `json:"student_id"`
	Day         Day       `json:"date"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	Source      Source    `json:"source"`
	Status      Status    `json:"status"`
}

// Key returns the natural key of the record.
func (r *AttendanceRecord) Key() RecordKey {
	return RecordKey{RoomID: r.RoomID, StudentID: r.StudentID, Day: r.Day}
}

// RecordKey identifies one attendance record.
type RecordKey struct {
	RoomID    string
	StudentID string
	Day       Day
}

// QuarantineEntry holds an unresolved sighting pending human review.
type QuarantineEntry struct {
	ID                string    `json:"id"`
	RoomID            string    `json:"room_id"`
	Embedding         []float32 `json:"embedding,omitempty"`
	SnapshotB64       string    `json:"snapshot_b64,omitempty"`
	DetectedAt        time.Time `json:"detected_at"`
	Resolved          bool      `json:"resolved"`
	ResolvedStudentID string    `json:"resolved_student_id,omitempty"`
}
