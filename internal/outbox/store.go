// Package outbox persists candidate attendance events in a room-local
// SQLite database and drains them to the central ledger at least once.
//
// The database is the room's only durable state: an agent restart resumes
// delivery exactly where it stopped, and nothing is lost on shutdown.
// Events rejected permanently by the ledger move to a dead-letter status
// and stay queryable for operators; transient failures are retried without
// a time bound.
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"classtrack/internal/attendance"
)

// Store manages outbox persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// Open initializes or connects to the outbox database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

const timeLayout = time.RFC3339Nano

// Enqueue appends a candidate event to the queue. Enqueueing an event whose
// idempotency key is already present is a no-op, so a crash between emit
// and enqueue-ack cannot double-queue a sighting.
func (s *Store) Enqueue(ctx context.Context, ev attendance.IdentityEvent) error {
	if ev.IdempotencyKey == "" {
		return errors.New("event idempotency key is required")
	}
	var embJSON []byte
	if len(ev.Embedding) > 0 {
		b, err := json.Marshal(ev.Embedding)
		if err != nil {
			return fmt.Errorf("marshal embedding: %w", err)
		}
		embJSON = b
	}

	now := time.Now().UTC()
	_, err := s.execWithRetry(ctx, `
		INSERT INTO events (idempotency_key, room_id, student_id, day, detected_at, match_score,
		                    embedding, snapshot_b64, status, attempts, next_attempt_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		ev.IdempotencyKey, ev.RoomID, nullString(ev.StudentID), string(ev.Day),
		ev.DetectedAt.UTC().Format(timeLayout), ev.MatchScore,
		nullString(string(embJSON)), nullString(ev.SnapshotB64),
		string(StatusPending), now.Format(timeLayout), now.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("enqueue event: %w", err)
	}
	return nil
}

// NextDue returns the oldest pending event whose retry time has passed, or
// nil when nothing is due. Events drain strictly FIFO.
func (s *Store) NextDue(ctx context.Context, now time.Time) (*Item, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, idempotency_key, room_id, student_id, day, detected_at, match_score,
		       embedding, snapshot_b64, status, attempts, next_attempt_at, last_error, created_at
		FROM events
		WHERE status = ? AND next_attempt_at <= ?
		ORDER BY id
		LIMIT 1`,
		string(StatusPending), now.UTC().Format(timeLayout),
	)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next due event: %w", err)
	}
	return item, nil
}

// MarkDelivered records a successful delivery.
func (s *Store) MarkDelivered(ctx context.Context, id int64) error {
	if _, err := s.execWithRetry(ctx,
		"UPDATE events SET status = ? WHERE id = ?", string(StatusDelivered), id); err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	return nil
}

// MarkDead moves an event to the dead-letter status with the rejection
// reason. Dead events are never retried.
func (s *Store) MarkDead(ctx context.Context, id int64, reason string) error {
	if _, err := s.execWithRetry(ctx,
		"UPDATE events SET status = ?, last_error = ? WHERE id = ?",
		string(StatusDead), reason, id); err != nil {
		return fmt.Errorf("mark dead: %w", err)
	}
	return nil
}

// Reschedule records a failed attempt and schedules the next retry.
func (s *Store) Reschedule(ctx context.Context, id int64, nextAttempt time.Time, attemptErr string) error {
	if _, err := s.execWithRetry(ctx, `
		UPDATE events
		SET attempts = attempts + 1, next_attempt_at = ?, last_error = ?
		WHERE id = ?`,
		nextAttempt.UTC().Format(timeLayout), attemptErr, id); err != nil {
		return fmt.Errorf("reschedule event: %w", err)
	}
	return nil
}

// DeadLetters returns dead events, newest first, for operator review.
func (s *Store) DeadLetters(ctx context.Context, limit int) ([]Item, error) {
	return s.listByStatus(ctx, StatusDead, "id DESC", limit)
}

// Pending returns queued events in delivery order.
func (s *Store) Pending(ctx context.Context, limit int) ([]Item, error) {
	return s.listByStatus(ctx, StatusPending, "id", limit)
}

func (s *Store) listByStatus(ctx context.Context, status Status, order string, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, idempotency_key, room_id, student_id, day, detected_at, match_score,
		       embedding, snapshot_b64, status, attempts, next_attempt_at, last_error, created_at
		FROM events
		WHERE status = ?
		ORDER BY %s
		LIMIT ?`, order),
		string(status), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list %s events: %w", status, err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return items, nil
}

// Stats returns event counts per status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(1) FROM events GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats[Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats: %w", err)
	}
	return stats, nil
}

// PruneDelivered removes delivered events older than the retention window.
func (s *Store) PruneDelivered(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	res, err := s.execWithRetry(ctx,
		"DELETE FROM events WHERE status = ? AND created_at < ?",
		string(StatusDelivered), cutoff.Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("prune delivered: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*Item, error) {
	var (
		item                          Item
		studentID, embJSON, snapshot  sql.NullString
		day, detectedAt, nextAttempt  string
		createdAt, status             string
	)
	err := row.Scan(&item.ID, &item.Event.IdempotencyKey, &item.Event.RoomID, &studentID,
		&day, &detectedAt, &item.Event.MatchScore, &embJSON, &snapshot,
		&status, &item.Attempts, &nextAttempt, &item.LastError, &createdAt)
	if err != nil {
		return nil, err
	}

	item.Event.StudentID = studentID.String
	item.Event.Day = attendance.Day(day)
	item.Event.SnapshotB64 = snapshot.String
	item.Status = Status(status)

	if item.Event.DetectedAt, err = time.Parse(timeLayout, detectedAt); err != nil {
		return nil, fmt.Errorf("parse detected_at: %w", err)
	}
	if item.NextAttemptAt, err = time.Parse(timeLayout, nextAttempt); err != nil {
		return nil, fmt.Errorf("parse next_attempt_at: %w", err)
	}
	if item.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if embJSON.Valid && embJSON.String != "" {
		if err := json.Unmarshal([]byte(embJSON.String), &item.Event.Embedding); err != nil {
			return nil, fmt.Errorf("unmarshal embedding: %w", err)
		}
	}
	return &item, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
