// Package ledger implements the central attendance reconciliation logic:
// idempotent auto-apply, manual-override precedence, unknown-identity
// quarantine and promotion. It is the single authority turning a stream of
// possibly-duplicated, possibly-late, possibly-wrong identity events into
// one attendance record per (room, student, day).
package ledger

import (
	"context"
	"fmt"
	"log"
	"time"

	"classtrack/internal/attendance"
)

// defaultClusterSimilarity is the minimum cosine similarity for two
// quarantined sightings to be treated as the same face during promotion.
const defaultClusterSimilarity = 0.92

// Service applies events and overrides against a Store.
type Service struct {
	store             Store
	clusterSimilarity float64
}

// NewService creates a ledger service over the given store.
func NewService(store Store) *Service {
	return &Service{store: store, clusterSimilarity: defaultClusterSimilarity}
}

// ApplyResult describes what ApplyAuto did with an event.
type ApplyResult struct {
	// Duplicate is set when the idempotency key was seen before; the
	// event had no effect.
	Duplicate bool
	// Quarantined is set when the event carried an unknown identity and
	// was routed to quarantine instead of the attendance table.
	Quarantined bool
}

// ApplyAuto applies a room-emitted candidate event. Duplicate deliveries
// are silent no-ops. Unknown identities go to quarantine. Resolved
// identities upsert an auto record keyed (room, student, day), keeping the
// earliest first_seen_at under replays and out-of-order delivery; a manual
// record for the same key is never touched. The idempotency key is marked
// only after the write lands, so a failed write leaves the key unmarked
// and redelivery applies the event instead of absorbing it as a duplicate.
func (s *Service) ApplyAuto(ctx context.Context, ev attendance.IdentityEvent) (ApplyResult, error) {
	if err := validateEvent(&ev); err != nil {
		return ApplyResult{}, err
	}

	if _, err := s.store.GetRoom(ctx, ev.RoomID); err != nil {
		return ApplyResult{}, fmt.Errorf("%w: %s", ErrUnknownRoom, ev.RoomID)
	}

	seen, err := s.store.SeenProcessed(ctx, ev.IdempotencyKey)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("check idempotency key: %w", err)
	}
	if seen {
		return ApplyResult{Duplicate: true}, nil
	}

	if ev.Unknown() {
		entry := &attendance.QuarantineEntry{
			RoomID:      ev.RoomID,
			Embedding:   ev.Embedding,
			SnapshotB64: ev.SnapshotB64,
			DetectedAt:  ev.DetectedAt.UTC(),
		}
		if err := s.store.AddQuarantine(ctx, entry); err != nil {
			return ApplyResult{}, fmt.Errorf("quarantine sighting: %w", err)
		}
		if _, err := s.store.MarkProcessed(ctx, ev.IdempotencyKey); err != nil {
			// Retried delivery adds a second entry for the same face;
			// similarity clustering folds them during promotion.
			return ApplyResult{}, fmt.Errorf("track idempotency key: %w", err)
		}
		return ApplyResult{Quarantined: true}, nil
	}

	if _, err := s.store.GetStudent(ctx, ev.StudentID); err != nil {
		return ApplyResult{}, fmt.Errorf("%w: %s", ErrUnknownStudent, ev.StudentID)
	}

	rec := attendance.AttendanceRecord{
		RoomID:      ev.RoomID,
		StudentID:   ev.StudentID,
		Day:         ev.Day,
		FirstSeenAt: ev.DetectedAt.UTC(),
		Source:      attendance.SourceAuto,
		Status:      attendance.StatusPresent,
	}
	if err := s.store.UpsertAuto(ctx, rec); err != nil {
		return ApplyResult{}, fmt.Errorf("apply auto event: %w", err)
	}
	first, err := s.store.MarkProcessed(ctx, ev.IdempotencyKey)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("track idempotency key: %w", err)
	}
	if !first {
		// A racing delivery marked the key between the check and here;
		// the keyed min-refining upsert made both writes agree.
		return ApplyResult{Duplicate: true}, nil
	}
	return ApplyResult{}, nil
}

// ApplyManual records a human override. It always wins: the record is
// created or overwritten with source=manual and is never superseded by
// later auto events for the same key.
func (s *Service) ApplyManual(ctx context.Context, roomID, studentID string, day attendance.Day, status attendance.Status) error {
	if !attendance.ValidStatus(status) {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if _, err := s.store.GetRoom(ctx, roomID); err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownRoom, roomID)
	}
	if _, err := s.store.GetStudent(ctx, studentID); err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownStudent, studentID)
	}

	rec := attendance.AttendanceRecord{
		RoomID:      roomID,
		StudentID:   studentID,
		Day:         day,
		FirstSeenAt: time.Now().UTC(),
		Source:      attendance.SourceManual,
		Status:      status,
	}
	if err := s.store.UpsertManual(ctx, rec); err != nil {
		return fmt.Errorf("apply manual override: %w", err)
	}
	return nil
}

// Query returns records matching the filter, ordered by (room, student).
func (s *Service) Query(ctx context.Context, filter RecordFilter) ([]attendance.AttendanceRecord, error) {
	return s.store.ListRecords(ctx, filter)
}

// PromoteResult describes a quarantine promotion.
type PromoteResult struct {
	// ResolvedEntries is how many quarantine entries (the target plus
	// similar siblings) were folded into the student.
	ResolvedEntries int
	// Backfilled is set when at least one attendance record was created
	// or refined from the resolved sightings.
	Backfilled bool
}

// Promote resolves a quarantine entry into a student. Unresolved entries
// in the same room whose embedding clusters with the target are resolved
// alongside it, so reviewing one sighting of a face clears them all.
// When backfill is set, one auto attendance record per (room, day) is
// applied using the earliest detected_at of the resolved set; promotion
// can never create a second record for a key thanks to the ledger's
// min-timestamp upsert. The back-fill runs before any entry is resolved:
// an interrupted promotion leaves the entries unresolved and a repeat
// promote re-applies the idempotent upserts and finishes the job.
// Promoting an already-resolved entry returns ErrAlreadyResolved and
// changes nothing.
func (s *Service) Promote(ctx context.Context, entryID, targetStudentID string, backfill bool) (PromoteResult, error) {
	if targetStudentID == "" {
		return PromoteResult{}, fmt.Errorf("%w: target student id is required", ErrInvalidEvent)
	}
	if _, err := s.store.GetStudent(ctx, targetStudentID); err != nil {
		return PromoteResult{}, fmt.Errorf("%w: %s", ErrUnknownStudent, targetStudentID)
	}

	entry, err := s.store.GetQuarantine(ctx, entryID)
	if err != nil {
		return PromoteResult{}, fmt.Errorf("load quarantine entry: %w", err)
	}
	if entry.Resolved {
		return PromoteResult{}, ErrAlreadyResolved
	}

	set := []attendance.QuarantineEntry{*entry}
	if len(entry.Embedding) > 0 {
		siblings, err := s.store.UnresolvedSimilar(ctx, entry.RoomID, entry.Embedding, s.clusterSimilarity)
		if err != nil {
			return PromoteResult{}, fmt.Errorf("find sibling sightings: %w", err)
		}
		for _, sib := range siblings {
			if sib.ID != entry.ID {
				set = append(set, sib)
			}
		}
	}

	var result PromoteResult
	if backfill {
		// Earliest sighting per day becomes the back-filled first_seen_at.
		earliest := make(map[attendance.Day]time.Time)
		for _, e := range set {
			day := attendance.DayOf(e.DetectedAt)
			if ts, ok := earliest[day]; !ok || e.DetectedAt.Before(ts) {
				earliest[day] = e.DetectedAt
			}
		}
		for day, ts := range earliest {
			rec := attendance.AttendanceRecord{
				RoomID:      entry.RoomID,
				StudentID:   targetStudentID,
				Day:         day,
				FirstSeenAt: ts.UTC(),
				Source:      attendance.SourceAuto,
				Status:      attendance.StatusPresent,
			}
			if err := s.store.UpsertAuto(ctx, rec); err != nil {
				return result, fmt.Errorf("backfill %s/%s: %w", entry.RoomID, day, err)
			}
			result.Backfilled = true
		}
	}

	resolved, err := s.store.ResolveQuarantine(ctx, entryID, targetStudentID)
	if err != nil {
		return result, fmt.Errorf("resolve quarantine entry: %w", err)
	}
	if !resolved {
		return PromoteResult{}, ErrAlreadyResolved
	}
	result.ResolvedEntries++
	for _, sib := range set[1:] {
		ok, err := s.store.ResolveQuarantine(ctx, sib.ID, targetStudentID)
		if err != nil {
			return result, fmt.Errorf("resolve sibling %s: %w", sib.ID, err)
		}
		if ok {
			result.ResolvedEntries++
		}
	}
	log.Printf("ledger: promoted quarantine entry %s into student %s (%d sightings)",
		entryID, targetStudentID, result.ResolvedEntries)
	return result, nil
}

// Ignore resolves a quarantine entry without promoting it. Ignoring an
// already-resolved entry returns ErrAlreadyResolved.
func (s *Service) Ignore(ctx context.Context, entryID string) error {
	if _, err := s.store.GetQuarantine(ctx, entryID); err != nil {
		return fmt.Errorf("load quarantine entry: %w", err)
	}
	resolved, err := s.store.ResolveQuarantine(ctx, entryID, "")
	if err != nil {
		return fmt.Errorf("resolve quarantine entry: %w", err)
	}
	if !resolved {
		return ErrAlreadyResolved
	}
	return nil
}

// Unresolved lists quarantine entries pending review, oldest first.
func (s *Service) Unresolved(ctx context.Context, roomID string) ([]attendance.QuarantineEntry, error) {
	return s.store.ListQuarantine(ctx, roomID, true)
}

func validateEvent(ev *attendance.IdentityEvent) error {
	switch {
	case ev.IdempotencyKey == "":
		return fmt.Errorf("%w: missing idempotency key", ErrInvalidEvent)
	case ev.RoomID == "":
		return fmt.Errorf("%w: missing room id", ErrInvalidEvent)
	case ev.DetectedAt.IsZero():
		return fmt.Errorf("%w: missing detected_at", ErrInvalidEvent)
	}
	if ev.Day == "" {
		ev.Day = attendance.DayOf(ev.DetectedAt)
	}
	if _, err := attendance.ParseDay(string(ev.Day)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return nil
}
