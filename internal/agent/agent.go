// Package agent implements the room-side pipeline: consume face detections
// from the camera sidecar, match them against the roster, debounce repeat
// sightings and enqueue identity events for durable delivery to the ledger.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"classtrack/internal/attendance"
	"classtrack/internal/debounce"
	"classtrack/internal/matcher"
	"classtrack/internal/outbox"
)

// RosterSource provides the room roster used for matching.
type RosterSource interface {
	FetchRoster(ctx context.Context, roomID string) ([]matcher.RosterEntry, error)
}

// Params configures an Agent. RoomID, Source, Roster and Outbox are
// required; Sender is optional so tests can drive delivery by hand.
type Params struct {
	RoomID string
	Source DetectionSource
	Roster RosterSource
	Outbox *outbox.Store
	Sender *outbox.Sender

	MatchThreshold    float64
	Cooldown          time.Duration
	ClusterSimilarity float64
	MinConfidence     float64
	RosterRefresh     time.Duration
}

// Agent runs the per-room pipeline. The matcher is an immutable snapshot
// swapped wholesale on roster refresh, so the hot path takes only a read
// lock.
type Agent struct {
	params    Params
	debouncer *debounce.Debouncer
	now       func() time.Time

	mu      sync.RWMutex
	matcher *matcher.Matcher
}

// Option customizes an Agent.
type Option func(*Agent)

// WithClock overrides the time source for tests. It only matters for
// detections that carry no capture time.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

// New creates an agent. The matcher starts empty; Run loads the roster
// before consuming detections.
func New(p Params, opts ...Option) (*Agent, error) {
	switch {
	case p.RoomID == "":
		return nil, errors.New("agent: room id is required")
	case p.Source == nil:
		return nil, errors.New("agent: detection source is required")
	case p.Roster == nil:
		return nil, errors.New("agent: roster source is required")
	case p.Outbox == nil:
		return nil, errors.New("agent: outbox store is required")
	}
	if p.RosterRefresh <= 0 {
		p.RosterRefresh = 5 * time.Minute
	}

	a := &Agent{
		params:  p,
		now:     time.Now,
		matcher: matcher.New(nil, p.MatchThreshold),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.debouncer = debounce.New(p.Cooldown, p.ClusterSimilarity)
	return a, nil
}

// RefreshRoster fetches the roster and swaps in a new matcher snapshot.
func (a *Agent) RefreshRoster(ctx context.Context) error {
	entries, err := a.params.Roster.FetchRoster(ctx, a.params.RoomID)
	if err != nil {
		return fmt.Errorf("refresh roster for %s: %w", a.params.RoomID, err)
	}

	m := matcher.New(entries, a.params.MatchThreshold)
	a.mu.Lock()
	a.matcher = m
	a.mu.Unlock()
	log.Printf("agent %s: roster refreshed, %d matchable students", a.params.RoomID, m.Size())
	return nil
}

// Run consumes detections until the context is cancelled. The outbox sender
// and the roster refresher run alongside; a ledger outage stalls delivery
// but never detection, events pile up in the outbox and drain later.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.RefreshRoster(ctx); err != nil {
		// Start anyway: everything quarantines until the refresher
		// gets through, which still beats losing sightings.
		log.Printf("agent %s: initial roster load failed: %v", a.params.RoomID, err)
	}

	var wg sync.WaitGroup
	if a.params.Sender != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.params.Sender.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("agent %s: sender stopped: %v", a.params.RoomID, err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(a.params.RosterRefresh)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := a.RefreshRoster(ctx); err != nil {
					log.Printf("agent %s: %v", a.params.RoomID, err)
				}
			}
		}
	}()

	err := a.consume(ctx)
	wg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *Agent) consume(ctx context.Context) error {
	for {
		detections, err := a.params.Source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("detection source failed: %w", err)
		}
		for _, det := range detections {
			a.Process(ctx, det)
		}
	}
}

// Process runs one detection through match, debounce and enqueue. Low
// confidence detections are dropped before matching. The detection's
// capture time stamps the event and drives the cooldown window; a sidecar
// that omits it gets the processing time instead.
func (a *Agent) Process(ctx context.Context, det Detection) {
	if det.Confidence < a.params.MinConfidence {
		return
	}

	a.mu.RLock()
	m := a.matcher
	a.mu.RUnlock()

	detectedAt := det.CapturedAt
	if detectedAt.IsZero() {
		detectedAt = a.now()
	}

	studentID, score, ok := m.Match(det.Embedding)
	if ok {
		if !a.debouncer.Observe(studentID, detectedAt) {
			return
		}
		a.enqueue(ctx, attendance.IdentityEvent{
			RoomID:     a.params.RoomID,
			StudentID:  studentID,
			DetectedAt: detectedAt,
			MatchScore: score,
		})
		return
	}

	if !a.debouncer.ObserveUnknown(det.Embedding, detectedAt) {
		return
	}
	a.enqueue(ctx, attendance.IdentityEvent{
		RoomID:      a.params.RoomID,
		DetectedAt:  detectedAt,
		Embedding:   det.Embedding,
		SnapshotB64: det.SnapshotB64,
	})
}

func (a *Agent) enqueue(ctx context.Context, ev attendance.IdentityEvent) {
	ev.Day = attendance.DayOf(ev.DetectedAt)
	identity := ev.StudentID
	if identity == "" {
		identity = attendance.UnknownIdentity(ev.Embedding)
	}
	ev.IdempotencyKey = attendance.IdempotencyKey(ev.RoomID, identity, ev.Day,
		attendance.WindowIndex(ev.DetectedAt, a.params.Cooldown))

	if err := a.params.Outbox.Enqueue(ctx, ev); err != nil {
		// The sighting is lost only if it never recurs inside the
		// cooldown window; the next one gets a fresh enqueue.
		log.Printf("agent %s: enqueue failed: %v", a.params.RoomID, err)
	}
}
