package postgres

import (
	"context"
	"fmt"

	"classtrack/internal/attendance"
	"classtrack/internal/ledger"
)

// Store implements ledger.Store on a PostgreSQL pool.
type Store struct {
	pool *Pool
}

// NewStore creates a ledger store over the pool.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

// UpsertAuto writes an auto record atomically: insert if absent, refine
// first_seen_at down for an existing auto record, and leave manual
// records untouched. The conditional upsert runs as one statement, so
// concurrent rooms writing the same key resolve deterministically inside
// the database.
func (s *Store) UpsertAuto(ctx context.Context, rec attendance.AttendanceRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO attendance_records (room_id, student_id, day, first_seen_at, source, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (room_id, student_id, day) DO UPDATE
		SET first_seen_at = LEAST(attendance_records.first_seen_at, EXCLUDED.first_seen_at)
		WHERE attendance_records.source = $5`,
		rec.RoomID, rec.StudentID, string(rec.Day), rec.FirstSeenAt.UTC(),
		string(attendance.SourceAuto), string(attendance.StatusPresent),
	)
	if err != nil {
		return fmt.Errorf("upsert auto record: %w", err)
	}
	return nil
}

// UpsertManual creates or overwrites the record with source=manual. An
// existing record keeps its first_seen_at; only source and status change.
func (s *Store) UpsertManual(ctx context.Context, rec attendance.AttendanceRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO attendance_records (room_id, student_id, day, first_seen_at, source, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (room_id, student_id, day) DO UPDATE
		SET source = EXCLUDED.source, status = EXCLUDED.status`,
		rec.RoomID, rec.StudentID, string(rec.Day), rec.FirstSeenAt.UTC(),
		string(attendance.SourceManual), string(rec.Status),
	)
	if err != nil {
		return fmt.Errorf("upsert manual record: %w", err)
	}
	return nil
}

// ListRecords returns matching records ordered by (room_id, student_id).
func (s *Store) ListRecords(ctx context.Context, filter ledger.RecordFilter) ([]attendance.AttendanceRecord, error) {
	query := `
		SELECT room_id, student_id, day, first_seen_at, source, status
		FROM attendance_records
		WHERE day = $1`
	args := []any{string(filter.Day)}
	if filter.RoomID != "" {
		query += " AND room_id = $2"
		args = append(args, filter.RoomID)
	}
	query += " ORDER BY room_id, student_id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []attendance.AttendanceRecord
	for rows.Next() {
		var (
			rec           attendance.AttendanceRecord
			day           string
			source, state string
		)
		if err := rows.Scan(&rec.RoomID, &rec.StudentID, &day, &rec.FirstSeenAt, &source, &state); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		// DATE columns scan as "2006-01-02T00:00:00Z" through lib/pq's
		// string path; keep only the calendar day.
		if len(day) > 10 {
			day = day[:10]
		}
		rec.Day = attendance.Day(day)
		rec.Source = attendance.Source(source)
		rec.Status = attendance.Status(state)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// SeenProcessed reports whether an idempotency key was recorded.
func (s *Store) SeenProcessed(ctx context.Context, idempotencyKey string) (bool, error) {
	var seen bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM processed_events WHERE idempotency_key = $1)",
		idempotencyKey,
	).Scan(&seen)
	if err != nil {
		return false, fmt.Errorf("check processed key: %w", err)
	}
	return seen, nil
}

// MarkProcessed records an idempotency key; first is false when the key
// was already present.
func (s *Store) MarkProcessed(ctx context.Context, idempotencyKey string) (bool, error) {
	res, err := s.pool.Exec(ctx,
		"INSERT INTO processed_events (idempotency_key) VALUES ($1) ON CONFLICT DO NOTHING",
		idempotencyKey,
	)
	if err != nil {
		return false, fmt.Errorf("insert processed key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}
