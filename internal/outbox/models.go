package outbox

import (
	"time"

	"classtrack/internal/attendance"
)

// Status is the delivery lifecycle state of a queued event.
type Status string

const (
	// StatusPending events are waiting for delivery or a retry.
	StatusPending Status = "pending"
	// StatusDelivered events were accepted by the ledger (including
	// accepted-as-duplicate). Kept briefly for auditing, then pruned.
	StatusDelivered Status = "delivered"
	// StatusDead events were rejected permanently and will never be
	// retried. They stay in the database as the dead-letter log.
	StatusDead Status = "dead"
)

// Item is one queued candidate event together with its delivery state.
type Item struct {
	ID            int64
	Event         attendance.IdentityEvent
	Status        Status
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
}
