package ledger

import "errors"

var (
	// ErrNotFound is returned by stores when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnknownRoom marks an event referencing a room the ledger does not
	// know. Permanent: the sender dead-letters instead of retrying.
	ErrUnknownRoom = errors.New("unknown room")

	// ErrUnknownStudent marks an event referencing a missing student.
	// Permanent for the same reason.
	ErrUnknownStudent = errors.New("unknown student")

	// ErrInvalidEvent marks a structurally invalid event payload. Permanent.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrInvalidStatus marks a manual override with an unsupported status.
	ErrInvalidStatus = errors.New("invalid status")

	// ErrAlreadyResolved is the explicit conflict signal for promoting or
	// ignoring a quarantine entry that was already resolved.
	ErrAlreadyResolved = errors.New("quarantine entry already resolved")
)
