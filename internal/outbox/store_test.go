package outbox

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"classtrack/internal/attendance"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "outbox.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testEvent(key, studentID string, detectedAt time.Time) attendance.IdentityEvent {
	return attendance.IdentityEvent{
		RoomID:         "r1",
		StudentID:      studentID,
		Day:            attendance.DayOf(detectedAt),
		DetectedAt:     detectedAt,
		MatchScore:     0.97,
		IdempotencyKey: key,
		Embedding:      []float32{0.1, 0.2, 0.3},
	}
}

func TestEnqueueAndNextDue(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	detectedAt := time.Date(2024, 10, 1, 9, 0, 1, 0, time.UTC)

	if err := store.Enqueue(ctx, testEvent("k1", "s1", detectedAt)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	item, err := store.NextDue(ctx, time.Now())
	if err != nil {
		t.Fatalf("next due: %v", err)
	}
	if item == nil {
		t.Fatal("expected a due event")
	}
	if item.Event.IdempotencyKey != "k1" || item.Event.StudentID != "s1" {
		t.Errorf("unexpected event: %+v", item.Event)
	}
	if !item.Event.DetectedAt.Equal(detectedAt) {
		t.Errorf("detected_at = %v, want %v", item.Event.DetectedAt, detectedAt)
	}
	if len(item.Event.Embedding) != 3 {
		t.Errorf("embedding round-trip failed: %v", item.Event.Embedding)
	}
}

func TestEnqueueIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	detectedAt := time.Now().UTC()

	ev := testEvent("k1", "s1", detectedAt)
	if err := store.Enqueue(ctx, ev); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := store.Enqueue(ctx, ev); err != nil {
		t.Fatalf("second enqueue must be a no-op, got: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats[StatusPending] != 1 {
		t.Errorf("pending = %d, want 1", stats[StatusPending])
	}
}

func TestEnqueueRequiresKey(t *testing.T) {
	store := openTestStore(t)
	ev := testEvent("", "s1", time.Now())
	if err := store.Enqueue(context.Background(), ev); err == nil {
		t.Error("enqueue without idempotency key must fail")
	}
}

func TestFIFOOrder(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i, key := range []string{"k1", "k2", "k3"} {
		if err := store.Enqueue(ctx, testEvent(key, "s1", base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("enqueue %s: %v", key, err)
		}
	}

	for _, want := range []string{"k1", "k2", "k3"} {
		item, err := store.NextDue(ctx, time.Now())
		if err != nil || item == nil {
			t.Fatalf("next due: item=%v err=%v", item, err)
		}
		if item.Event.IdempotencyKey != want {
			t.Fatalf("got %s, want %s (FIFO)", item.Event.IdempotencyKey, want)
		}
		if err := store.MarkDelivered(ctx, item.ID); err != nil {
			t.Fatalf("mark delivered: %v", err)
		}
	}
}

func TestRescheduleDefersEvent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Enqueue(ctx, testEvent("k1", "s1", time.Now().UTC())); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	item, err := store.NextDue(ctx, time.Now())
	if err != nil || item == nil {
		t.Fatalf("next due: item=%v err=%v", item, err)
	}

	future := time.Now().Add(time.Hour)
	if err := store.Reschedule(ctx, item.ID, future, "connection refused"); err != nil {
		t.Fatalf("reschedule: %v", err)
	}

	// Not due now, due after the retry time.
	if got, _ := store.NextDue(ctx, time.Now()); got != nil {
		t.Error("rescheduled event must not be due before its retry time")
	}
	got, err := store.NextDue(ctx, future.Add(time.Second))
	if err != nil || got == nil {
		t.Fatalf("event must be due after retry time: item=%v err=%v", got, err)
	}
	if got.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", got.Attempts)
	}
	if got.LastError != "connection refused" {
		t.Errorf("last error = %q", got.LastError)
	}
}

func TestDeadLetter(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Enqueue(ctx, testEvent("k1", "s1", time.Now().UTC())); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	item, _ := store.NextDue(ctx, time.Now())
	if err := store.MarkDead(ctx, item.ID, "unknown room"); err != nil {
		t.Fatalf("mark dead: %v", err)
	}

	if got, _ := store.NextDue(ctx, time.Now().Add(time.Hour)); got != nil {
		t.Error("dead event must never become due again")
	}

	dead, err := store.DeadLetters(ctx, 10)
	if err != nil {
		t.Fatalf("dead letters: %v", err)
	}
	if len(dead) != 1 || dead[0].LastError != "unknown room" {
		t.Errorf("dead letters = %+v", dead)
	}
}

func TestPruneDelivered(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Enqueue(ctx, testEvent("k1", "s1", time.Now().UTC())); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	item, _ := store.NextDue(ctx, time.Now())
	if err := store.MarkDelivered(ctx, item.ID); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}

	// Zero retention prunes everything delivered.
	n, err := store.PruneDelivered(ctx, -time.Second)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d rows, want 1", n)
	}
}

func TestReopenKeepsQueue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.db")
	ctx := context.Background()

	store, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Enqueue(ctx, testEvent("k1", "s1", time.Now().UTC())); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	store.Close()

	// Simulates an agent restart: pending events survive.
	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	item, err := reopened.NextDue(ctx, time.Now())
	if err != nil || item == nil {
		t.Fatalf("queued event lost across restart: item=%v err=%v", item, err)
	}
}
