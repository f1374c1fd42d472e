package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"classtrack/internal/attendance"
	"classtrack/internal/ledger"
	"classtrack/internal/store/memory"
)

func newTestService(t *testing.T) (*ledger.Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	ctx := context.Background()
	if err := store.CreateRoom(ctx, &attendance.Room{ID: "r1", Name: "Room 101", IsActive: true}); err != nil {
		t.Fatalf("create room: %v", err)
	}
	if err := store.CreateStudent(ctx, &attendance.Student{ID: "s1", Name: "Jan Novak"}); err != nil {
		t.Fatalf("create student: %v", err)
	}
	return ledger.NewService(store), store
}

func autoEvent(key, studentID string, detectedAt time.Time) attendance.IdentityEvent {
	return attendance.IdentityEvent{
		RoomID:         "r1",
		StudentID:      studentID,
		Day:            attendance.DayOf(detectedAt),
		DetectedAt:     detectedAt,
		MatchScore:     0.95,
		IdempotencyKey: key,
	}
}

func TestApplyAutoCreatesRecord(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	detectedAt := time.Date(2024, 10, 1, 9, 0, 1, 0, time.UTC)

	res, err := svc.ApplyAuto(ctx, autoEvent("k1", "s1", detectedAt))
	if err != nil {
		t.Fatalf("apply auto: %v", err)
	}
	if res.Duplicate || res.Quarantined {
		t.Errorf("unexpected result: %+v", res)
	}

	recs, _ := store.ListRecords(ctx, ledger.RecordFilter{Day: attendance.DayOf(detectedAt)})
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	rec := recs[0]
	if rec.Source != attendance.SourceAuto || rec.Status != attendance.StatusPresent {
		t.Errorf("record = %+v", rec)
	}
	if !rec.FirstSeenAt.Equal(detectedAt) {
		t.Errorf("first_seen_at = %v, want %v", rec.FirstSeenAt, detectedAt)
	}
}

func TestApplyAutoDuplicateKeyIsNoOp(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	detectedAt := time.Date(2024, 10, 1, 9, 0, 1, 0, time.UTC)

	ev := autoEvent("k1", "s1", detectedAt)
	if _, err := svc.ApplyAuto(ctx, ev); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	res, err := svc.ApplyAuto(ctx, ev)
	if err != nil {
		t.Fatalf("duplicate apply must not error: %v", err)
	}
	if !res.Duplicate {
		t.Error("second apply with same key must report duplicate")
	}

	recs, _ := store.ListRecords(ctx, ledger.RecordFilter{Day: ev.Day})
	if len(recs) != 1 {
		t.Errorf("records = %d, want exactly 1 after duplicate delivery", len(recs))
	}
}

func TestApplyAutoKeepsEarliestFirstSeen(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	early := time.Date(2024, 10, 1, 9, 0, 1, 0, time.UTC)
	late := early.Add(10 * time.Minute)

	// The later sighting arrives first; the earlier one is delayed.
	if _, err := svc.ApplyAuto(ctx, autoEvent("k-late", "s1", late)); err != nil {
		t.Fatalf("apply late: %v", err)
	}
	if _, err := svc.ApplyAuto(ctx, autoEvent("k-early", "s1", early)); err != nil {
		t.Fatalf("apply early: %v", err)
	}

	recs, _ := store.ListRecords(ctx, ledger.RecordFilter{Day: attendance.DayOf(early)})
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	if !recs[0].FirstSeenAt.Equal(early) {
		t.Errorf("first_seen_at = %v, want the true first sighting %v", recs[0].FirstSeenAt, early)
	}
}

func TestManualPrecedence(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	morning := time.Date(2024, 10, 1, 9, 0, 1, 0, time.UTC)
	day := attendance.DayOf(morning)

	if _, err := svc.ApplyAuto(ctx, autoEvent("k1", "s1", morning)); err != nil {
		t.Fatalf("apply auto: %v", err)
	}
	if err := svc.ApplyManual(ctx, "r1", "s1", day, attendance.StatusExcused); err != nil {
		t.Fatalf("apply manual: %v", err)
	}

	// A later auto event (new cooldown window) must not disturb the override.
	if _, err := svc.ApplyAuto(ctx, autoEvent("k2", "s1", morning.Add(10*time.Minute))); err != nil {
		t.Fatalf("apply auto after manual: %v", err)
	}

	recs, _ := store.ListRecords(ctx, ledger.RecordFilter{Day: day})
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	if recs[0].Source != attendance.SourceManual || recs[0].Status != attendance.StatusExcused {
		t.Errorf("manual override was disturbed: %+v", recs[0])
	}
}

func TestManualBeforeAuto(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	morning := time.Date(2024, 10, 1, 9, 0, 1, 0, time.UTC)
	day := attendance.DayOf(morning)

	// Override arrives before any auto event for the key.
	if err := svc.ApplyManual(ctx, "r1", "s1", day, attendance.StatusAbsent); err != nil {
		t.Fatalf("apply manual: %v", err)
	}
	if _, err := svc.ApplyAuto(ctx, autoEvent("k1", "s1", morning)); err != nil {
		t.Fatalf("apply auto: %v", err)
	}

	recs, _ := store.ListRecords(ctx, ledger.RecordFilter{Day: day})
	if recs[0].Source != attendance.SourceManual || recs[0].Status != attendance.StatusAbsent {
		t.Errorf("manual must win regardless of arrival order: %+v", recs[0])
	}
}

func TestApplyManualRejectsBadStatus(t *testing.T) {
	svc, _ := newTestService(t)
	err := svc.ApplyManual(context.Background(), "r1", "s1", attendance.Day("2024-10-01"), attendance.Status("late"))
	if !errors.Is(err, ledger.ErrInvalidStatus) {
		t.Errorf("err = %v, want ErrInvalidStatus", err)
	}
}

func TestApplyAutoUnknownRoomIsPermanent(t *testing.T) {
	svc, _ := newTestService(t)
	ev := autoEvent("k1", "s1", time.Now().UTC())
	ev.RoomID = "no-such-room"
	if _, err := svc.ApplyAuto(context.Background(), ev); !errors.Is(err, ledger.ErrUnknownRoom) {
		t.Errorf("err = %v, want ErrUnknownRoom", err)
	}
}

func TestApplyAutoUnknownIdentityQuarantines(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	detectedAt := time.Date(2024, 10, 1, 9, 0, 1, 0, time.UTC)

	ev := autoEvent("k1", "", detectedAt)
	ev.Embedding = []float32{1, 0, 0}
	res, err := svc.ApplyAuto(ctx, ev)
	if err != nil {
		t.Fatalf("apply unknown: %v", err)
	}
	if !res.Quarantined {
		t.Error("unknown identity must be quarantined")
	}

	// No attendance record was written.
	recs, _ := store.ListRecords(ctx, ledger.RecordFilter{Day: ev.Day})
	if len(recs) != 0 {
		t.Errorf("records = %d, want 0", len(recs))
	}
	entries, _ := svc.Unresolved(ctx, "r1")
	if len(entries) != 1 {
		t.Errorf("quarantine entries = %d, want 1", len(entries))
	}
}

func TestPromoteBackfillsOnce(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	early := time.Date(2024, 10, 1, 9, 0, 1, 0, time.UTC)
	late := early.Add(3 * time.Minute)
	face := []float32{1, 0, 0}

	// The same face is quarantined twice before review (separate cooldown
	// windows on the agent, so two events arrive).
	for i, ts := range []time.Time{late, early} {
		ev := autoEvent("", "", ts)
		ev.IdempotencyKey = attendance.IdempotencyKey("r1", "", ev.Day, int64(i))
		ev.Embedding = face
		if _, err := svc.ApplyAuto(ctx, ev); err != nil {
			t.Fatalf("quarantine sighting: %v", err)
		}
	}
	if err := store.CreateStudent(ctx, &attendance.Student{ID: "t1", Name: "New Student"}); err != nil {
		t.Fatalf("create target: %v", err)
	}

	entries, _ := svc.Unresolved(ctx, "r1")
	if len(entries) != 2 {
		t.Fatalf("quarantine entries = %d, want 2", len(entries))
	}

	res, err := svc.Promote(ctx, entries[0].ID, "t1", true)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if res.ResolvedEntries != 2 {
		t.Errorf("resolved = %d, want both sightings of the face", res.ResolvedEntries)
	}
	if !res.Backfilled {
		t.Error("expected a back-filled record")
	}

	recs, _ := store.ListRecords(ctx, ledger.RecordFilter{Day: attendance.DayOf(early)})
	if len(recs) != 1 {
		t.Fatalf("records = %d, want exactly 1 back-filled record", len(recs))
	}
	if !recs[0].FirstSeenAt.Equal(early) {
		t.Errorf("first_seen_at = %v, want the earlier sighting %v", recs[0].FirstSeenAt, early)
	}
	if recs[0].StudentID != "t1" || recs[0].Source != attendance.SourceAuto {
		t.Errorf("record = %+v", recs[0])
	}
}

func TestPromoteTwiceConflicts(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	detectedAt := time.Date(2024, 10, 1, 9, 0, 1, 0, time.UTC)

	ev := autoEvent("k1", "", detectedAt)
	ev.Embedding = []float32{1, 0, 0}
	if _, err := svc.ApplyAuto(ctx, ev); err != nil {
		t.Fatalf("quarantine sighting: %v", err)
	}
	if err := store.CreateStudent(ctx, &attendance.Student{ID: "t1", Name: "New Student"}); err != nil {
		t.Fatalf("create target: %v", err)
	}
	entries, _ := svc.Unresolved(ctx, "r1")

	if _, err := svc.Promote(ctx, entries[0].ID, "t1", true); err != nil {
		t.Fatalf("first promote: %v", err)
	}
	if _, err := svc.Promote(ctx, entries[0].ID, "t1", true); !errors.Is(err, ledger.ErrAlreadyResolved) {
		t.Errorf("second promote: err = %v, want ErrAlreadyResolved", err)
	}

	recs, _ := store.ListRecords(ctx, ledger.RecordFilter{Day: ev.Day})
	if len(recs) != 1 {
		t.Errorf("records = %d, double promotion must not create a second record", len(recs))
	}
}

func TestApplyAutoRetriesAfterStoreFailure(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	ev := autoEvent("k1", "s1", time.Date(2024, 10, 1, 9, 0, 1, 0, time.UTC))

	store.UpsertAutoError = errors.New("connection reset")
	if _, err := svc.ApplyAuto(ctx, ev); err == nil {
		t.Fatal("expected the store failure to surface")
	}
	store.UpsertAutoError = nil

	// Redelivery of the same event must apply it, not absorb it: the key
	// is only marked once the record is written.
	res, err := svc.ApplyAuto(ctx, ev)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if res.Duplicate {
		t.Error("retry after a failed write must not report duplicate")
	}
	recs, _ := store.ListRecords(ctx, ledger.RecordFilter{Day: ev.Day})
	if len(recs) != 1 {
		t.Errorf("records = %d, want the retried event applied", len(recs))
	}
}

func TestApplyAutoQuarantineRetriesAfterStoreFailure(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	ev := autoEvent("k1", "", time.Date(2024, 10, 1, 9, 0, 1, 0, time.UTC))
	ev.Embedding = []float32{1, 0, 0}

	store.AddQuarantineError = errors.New("connection reset")
	if _, err := svc.ApplyAuto(ctx, ev); err == nil {
		t.Fatal("expected the store failure to surface")
	}
	store.AddQuarantineError = nil

	res, err := svc.ApplyAuto(ctx, ev)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !res.Quarantined {
		t.Error("retried unknown sighting must still be quarantined")
	}
	entries, _ := svc.Unresolved(ctx, "r1")
	if len(entries) != 1 {
		t.Errorf("quarantine entries = %d, want 1", len(entries))
	}
}

func TestPromoteRetriesAfterBackfillFailure(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	detectedAt := time.Date(2024, 10, 1, 9, 0, 1, 0, time.UTC)

	ev := autoEvent("k1", "", detectedAt)
	ev.Embedding = []float32{1, 0, 0}
	if _, err := svc.ApplyAuto(ctx, ev); err != nil {
		t.Fatalf("quarantine sighting: %v", err)
	}
	if err := store.CreateStudent(ctx, &attendance.Student{ID: "t1", Name: "New Student"}); err != nil {
		t.Fatalf("create target: %v", err)
	}
	entries, _ := svc.Unresolved(ctx, "r1")

	store.UpsertAutoError = errors.New("connection reset")
	if _, err := svc.Promote(ctx, entries[0].ID, "t1", true); err == nil {
		t.Fatal("expected the backfill failure to surface")
	}
	store.UpsertAutoError = nil

	// Nothing was resolved yet, so the promotion can simply be repeated.
	left, _ := svc.Unresolved(ctx, "r1")
	if len(left) != 1 {
		t.Fatalf("unresolved = %d, want the entry still pending", len(left))
	}

	res, err := svc.Promote(ctx, entries[0].ID, "t1", true)
	if err != nil {
		t.Fatalf("repeat promote: %v", err)
	}
	if res.ResolvedEntries != 1 || !res.Backfilled {
		t.Errorf("repeat promote result = %+v", res)
	}
	recs, _ := store.ListRecords(ctx, ledger.RecordFilter{Day: ev.Day})
	if len(recs) != 1 || recs[0].StudentID != "t1" {
		t.Errorf("records = %+v, want one back-filled record", recs)
	}
}

func TestIgnoreResolvesWithoutRecord(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	ev := autoEvent("k1", "", time.Date(2024, 10, 1, 9, 0, 1, 0, time.UTC))
	ev.Embedding = []float32{1, 0, 0}
	if _, err := svc.ApplyAuto(ctx, ev); err != nil {
		t.Fatalf("quarantine sighting: %v", err)
	}
	entries, _ := svc.Unresolved(ctx, "r1")

	if err := svc.Ignore(ctx, entries[0].ID); err != nil {
		t.Fatalf("ignore: %v", err)
	}
	if err := svc.Ignore(ctx, entries[0].ID); !errors.Is(err, ledger.ErrAlreadyResolved) {
		t.Errorf("second ignore: err = %v, want ErrAlreadyResolved", err)
	}

	left, _ := svc.Unresolved(ctx, "r1")
	if len(left) != 0 {
		t.Errorf("unresolved = %d, want 0", len(left))
	}
	recs, _ := store.ListRecords(ctx, ledger.RecordFilter{Day: ev.Day})
	if len(recs) != 0 {
		t.Errorf("ignore must not create records, got %d", len(recs))
	}
}

// End-to-end morning: two sightings in one cooldown window produce one
// record at the first detection time; a manual override survives a later
// auto event in a fresh window.
func TestCooldownAndOverrideScenario(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	cooldown := 5 * time.Minute

	t0901 := time.Date(2024, 10, 1, 9, 0, 1, 0, time.UTC)
	t0905 := time.Date(2024, 10, 1, 9, 0, 5, 0, time.UTC)
	t0910 := time.Date(2024, 10, 1, 9, 10, 0, 0, time.UTC)
	day := attendance.DayOf(t0901)

	key := func(ts time.Time) string {
		return attendance.IdempotencyKey("r1", "s1", day, attendance.WindowIndex(ts, cooldown))
	}

	// Both early sightings fall into the same cooldown window, so they
	// share an idempotency key; only the first takes effect.
	if key(t0901) != key(t0905) {
		t.Fatal("sightings 4s apart must share a cooldown window key")
	}
	for _, ts := range []time.Time{t0901, t0905} {
		if _, err := svc.ApplyAuto(ctx, autoEvent(key(ts), "s1", ts)); err != nil {
			t.Fatalf("apply %v: %v", ts, err)
		}
	}

	recs, _ := store.ListRecords(ctx, ledger.RecordFilter{Day: day})
	if len(recs) != 1 || !recs[0].FirstSeenAt.Equal(t0901) {
		t.Fatalf("after window: %+v", recs)
	}

	if err := svc.ApplyManual(ctx, "r1", "s1", day, attendance.StatusExcused); err != nil {
		t.Fatalf("override: %v", err)
	}
	if _, err := svc.ApplyAuto(ctx, autoEvent(key(t0910), "s1", t0910)); err != nil {
		t.Fatalf("later auto: %v", err)
	}

	recs, _ = store.ListRecords(ctx, ledger.RecordFilter{Day: day})
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	if recs[0].Status != attendance.StatusExcused || recs[0].Source != attendance.SourceManual {
		t.Errorf("override lost: %+v", recs[0])
	}
}
