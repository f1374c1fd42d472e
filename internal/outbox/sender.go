package outbox

import (
	"context"
	"errors"
	"log"
	"math/rand/v2"
	"time"

	"classtrack/internal/attendance"
)

// Ledger is the delivery target for queued events. Implementations return
// a PermanentError (or any error whose chain reports Permanent() == true)
// for definitive rejections; every other error counts as transient and the
// event is retried.
type Ledger interface {
	SendEvent(ctx context.Context, ev attendance.IdentityEvent) error
}

// PermanentError marks a delivery failure that must never be retried, such
// as a malformed payload or an unknown room. The sender moves the event to
// the dead-letter log.
type PermanentError struct {
	Reason string
}

func (e *PermanentError) Error() string  { return "permanent rejection: " + e.Reason }
func (e *PermanentError) Permanent() bool { return true }

// IsPermanent reports whether the error chain declares itself permanent.
func IsPermanent(err error) bool {
	var classifier interface{ Permanent() bool }
	return errors.As(err, &classifier) && classifier.Permanent()
}

const (
	defaultPollInterval   = time.Second
	defaultBaseDelay      = time.Second
	defaultMaxDelay       = 5 * time.Minute
	defaultPruneInterval  = time.Hour
	defaultPruneRetention = 24 * time.Hour
)

// Sender drains the outbox to the central ledger, one event per network
// round-trip, retrying transient failures with capped exponential backoff
// and jitter. There is no cap on total retry duration; delivery is
// eventually guaranteed as long as the queue database survives.
type Sender struct {
	store  *Store
	ledger Ledger

	pollInterval time.Duration
	baseDelay    time.Duration
	maxDelay     time.Duration
	now          func() time.Time
}

// SenderOption customizes a Sender.
type SenderOption func(*Sender)

// WithBackoff overrides the retry backoff delays.
func WithBackoff(base, max time.Duration) SenderOption {
	return func(s *Sender) {
		s.baseDelay = base
		s.maxDelay = max
	}
}

// WithPollInterval overrides how often an idle sender checks for due events.
func WithPollInterval(d time.Duration) SenderOption {
	return func(s *Sender) { s.pollInterval = d }
}

// WithSenderClock overrides the time source (useful for tests).
func WithSenderClock(now func() time.Time) SenderOption {
	return func(s *Sender) { s.now = now }
}

// NewSender creates a sender draining store into ledger.
func NewSender(store *Store, ledger Ledger, opts ...SenderOption) *Sender {
	s := &Sender{
		store:        store,
		ledger:       ledger,
		pollInterval: defaultPollInterval,
		baseDelay:    defaultBaseDelay,
		maxDelay:     defaultMaxDelay,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run drains the queue until the context is cancelled. The in-flight
// event, if any, finishes its store update before Run returns, so shutdown
// never loses queue state.
func (s *Sender) Run(ctx context.Context) error {
	lastPrune := s.now()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delivered, err := s.DeliverNext(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("outbox: deliver: %v", err)
		}

		if s.now().Sub(lastPrune) >= defaultPruneInterval {
			if _, err := s.store.PruneDelivered(ctx, defaultPruneRetention); err != nil {
				log.Printf("outbox: prune delivered: %v", err)
			}
			lastPrune = s.now()
		}

		if delivered {
			continue // drain back-to-back while events are due
		}
		select {
		case <-time.After(s.pollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// DeliverNext attempts delivery of the oldest due event. It reports
// whether an event was processed (delivered, dead-lettered, or
// rescheduled); false means the queue had nothing due.
func (s *Sender) DeliverNext(ctx context.Context) (bool, error) {
	item, err := s.store.NextDue(ctx, s.now())
	if err != nil {
		return false, err
	}
	if item == nil {
		return false, nil
	}

	sendErr := s.ledger.SendEvent(ctx, item.Event)
	switch {
	case sendErr == nil:
		return true, s.store.MarkDelivered(ctx, item.ID)
	case IsPermanent(sendErr):
		log.Printf("outbox: dead-lettering event %s: %v", item.Event.IdempotencyKey, sendErr)
		return true, s.store.MarkDead(ctx, item.ID, sendErr.Error())
	case errors.Is(sendErr, context.Canceled):
		return false, sendErr
	default:
		next := s.now().Add(s.backoff(item.Attempts))
		return true, s.store.Reschedule(ctx, item.ID, next, sendErr.Error())
	}
}

// backoff computes the delay before the next attempt: exponential in the
// attempt count, capped at maxDelay, with up to 25% added jitter.
func (s *Sender) backoff(attempts int) time.Duration {
	delay := s.baseDelay
	for i := 0; i < attempts && delay < s.maxDelay; i++ {
		delay *= 2
	}
	if delay > s.maxDelay {
		delay = s.maxDelay
	}
	jitter := time.Duration(rand.Int64N(int64(delay)/4 + 1))
	return delay + jitter
}
