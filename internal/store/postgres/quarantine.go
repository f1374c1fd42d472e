package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"classtrack/internal/attendance"
	"classtrack/internal/ledger"
)

// AddQuarantine stores an unresolved sighting for review.
func (s *Store) AddQuarantine(ctx context.Context, entry *attendance.QuarantineEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	var embedding any
	if len(entry.Embedding) > 0 {
		embedding = pgvector.NewVector(entry.Embedding)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO quarantine_entries (id, room_id, embedding, snapshot_b64, detected_at)
		VALUES ($1, $2, $3, $4, $5)`,
		entry.ID, entry.RoomID, embedding, entry.SnapshotB64, entry.DetectedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert quarantine entry: %w", err)
	}
	return nil
}

// GetQuarantine loads one entry by id.
func (s *Store) GetQuarantine(ctx context.Context, id string) (*attendance.QuarantineEntry, error) {
	var (
		entry    attendance.QuarantineEntry
		vec      pgvector.Vector
		resolved sql.NullString
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, room_id, embedding, snapshot_b64, detected_at, resolved, resolved_student_id
		FROM quarantine_entries WHERE id = $1`, id,
	).Scan(&entry.ID, &entry.RoomID, &nullVector{v: &vec}, &entry.SnapshotB64,
		&entry.DetectedAt, &entry.Resolved, &resolved)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("quarantine entry %s: %w", id, ledger.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query quarantine entry: %w", err)
	}
	entry.Embedding = vec.Slice()
	entry.ResolvedStudentID = resolved.String
	return &entry, nil
}

// ListQuarantine returns entries oldest first.
func (s *Store) ListQuarantine(ctx context.Context, roomID string, unresolvedOnly bool) ([]attendance.QuarantineEntry, error) {
	query := `
		SELECT id, room_id, embedding, snapshot_b64, detected_at, resolved, resolved_student_id
		FROM quarantine_entries
		WHERE 1 = 1`
	var args []any
	if roomID != "" {
		args = append(args, roomID)
		query += fmt.Sprintf(" AND room_id = $%d", len(args))
	}
	if unresolvedOnly {
		query += " AND NOT resolved"
	}
	query += " ORDER BY detected_at, id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query quarantine entries: %w", err)
	}
	defer rows.Close()
	return scanQuarantine(rows)
}

// ResolveQuarantine conditionally resolves an entry. The UPDATE carries
// the resolved guard, so racing reviewers cannot both win.
func (s *Store) ResolveQuarantine(ctx context.Context, id, studentID string) (bool, error) {
	res, err := s.pool.Exec(ctx, `
		UPDATE quarantine_entries
		SET resolved = TRUE, resolved_student_id = NULLIF($2, '')
		WHERE id = $1 AND NOT resolved`,
		id, studentID,
	)
	if err != nil {
		return false, fmt.Errorf("resolve quarantine entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return true, nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM quarantine_entries WHERE id = $1)", id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check quarantine entry: %w", err)
	}
	if !exists {
		return false, fmt.Errorf("quarantine entry %s: %w", id, ledger.ErrNotFound)
	}
	return false, nil
}

// UnresolvedSimilar finds unresolved sightings of the same face in a room
// using pgvector cosine distance.
func (s *Store) UnresolvedSimilar(ctx context.Context, roomID string, embedding []float32, minSimilarity float64) ([]attendance.QuarantineEntry, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	maxDistance := 1 - minSimilarity
	rows, err := s.pool.Query(ctx, `
		SELECT id, room_id, embedding, snapshot_b64, detected_at, resolved, resolved_student_id
		FROM quarantine_entries
		WHERE room_id = $1 AND NOT resolved AND embedding IS NOT NULL
		  AND embedding <=> $2::vector <= $3
		ORDER BY detected_at, id`,
		roomID, pgvector.NewVector(embedding), maxDistance,
	)
	if err != nil {
		return nil, fmt.Errorf("query similar quarantine entries: %w", err)
	}
	defer rows.Close()
	return scanQuarantine(rows)
}

func scanQuarantine(rows *sql.Rows) ([]attendance.QuarantineEntry, error) {
	var out []attendance.QuarantineEntry
	for rows.Next() {
		var (
			entry    attendance.QuarantineEntry
			vec      pgvector.Vector
			resolved sql.NullString
		)
		if err := rows.Scan(&entry.ID, &entry.RoomID, &nullVector{v: &vec}, &entry.SnapshotB64,
			&entry.DetectedAt, &entry.Resolved, &resolved); err != nil {
			return nil, fmt.Errorf("scan quarantine entry: %w", err)
		}
		entry.Embedding = vec.Slice()
		entry.ResolvedStudentID = resolved.String
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quarantine entries: %w", err)
	}
	return out, nil
}
