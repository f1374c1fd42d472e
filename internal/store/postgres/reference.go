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

// CreateRoom inserts a room, assigning an id when the caller left it empty.
func (s *Store) CreateRoom(ctx context.Context, room *attendance.Room) error {
	if room.ID == "" {
		room.ID = uuid.NewString()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO rooms (id, name, camera_url, is_active)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		room.ID, room.Name, room.CameraURL, room.IsActive,
	).Scan(&room.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert room: %w", err)
	}
	return nil
}

// GetRoom loads one room by id.
func (s *Store) GetRoom(ctx context.Context, id string) (*attendance.Room, error) {
	var room attendance.Room
	err := s.pool.QueryRow(ctx,
		"SELECT id, name, camera_url, is_active, created_at FROM rooms WHERE id = $1", id,
	).Scan(&room.ID, &room.Name, &room.CameraURL, &room.IsActive, &room.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("room %s: %w", id, ledger.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query room: %w", err)
	}
	return &room, nil
}

// ListRooms returns all rooms ordered by id.
func (s *Store) ListRooms(ctx context.Context) ([]attendance.Room, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT id, name, camera_url, is_active, created_at FROM rooms ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}
	defer rows.Close()

	var out []attendance.Room
	for rows.Next() {
		var room attendance.Room
		if err := rows.Scan(&room.ID, &room.Name, &room.CameraURL, &room.IsActive, &room.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		out = append(out, room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rooms: %w", err)
	}
	return out, nil
}

// CreateStudent inserts a student with their canonical roster embedding.
func (s *Store) CreateStudent(ctx context.Context, student *attendance.Student) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	var embedding any
	if len(student.Embedding) > 0 {
		embedding = pgvector.NewVector(student.Embedding)
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO students (id, name, roll_no, room_id, photo_url, embedding)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)
		RETURNING created_at`,
		student.ID, student.Name, student.RollNo, student.RoomID, student.PhotoURL, embedding,
	).Scan(&student.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert student: %w", err)
	}
	return nil
}

// GetStudent loads one student by id, without the embedding.
func (s *Store) GetStudent(ctx context.Context, id string) (*attendance.Student, error) {
	var (
		student attendance.Student
		roomID  sql.NullString
	)
	err := s.pool.QueryRow(ctx,
		"SELECT id, name, roll_no, room_id, photo_url, created_at FROM students WHERE id = $1", id,
	).Scan(&student.ID, &student.Name, &student.RollNo, &roomID, &student.PhotoURL, &student.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("student %s: %w", id, ledger.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query student: %w", err)
	}
	student.RoomID = roomID.String
	return &student, nil
}

// ListStudents returns students, optionally restricted to a room. A room
// filter also includes floating students (no assigned room), because they
// belong to every room's roster.
func (s *Store) ListStudents(ctx context.Context, roomID string, withEmbeddings bool) ([]attendance.Student, error) {
	cols := "id, name, roll_no, room_id, photo_url, created_at"
	if withEmbeddings {
		cols += ", embedding"
	}
	query := "SELECT " + cols + " FROM students"
	var args []any
	if roomID != "" {
		query += " WHERE room_id = $1 OR room_id IS NULL"
		args = append(args, roomID)
	}
	query += " ORDER BY id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query students: %w", err)
	}
	defer rows.Close()

	var out []attendance.Student
	for rows.Next() {
		var (
			student attendance.Student
			room    sql.NullString
			vec     pgvector.Vector
		)
		dest := []any{&student.ID, &student.Name, &student.RollNo, &room, &student.PhotoURL, &student.CreatedAt}
		if withEmbeddings {
			dest = append(dest, &nullVector{v: &vec})
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		student.RoomID = room.String
		if withEmbeddings {
			student.Embedding = vec.Slice()
		}
		out = append(out, student)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate students: %w", err)
	}
	return out, nil
}

// nullVector scans a possibly-NULL vector column.
type nullVector struct {
	v *pgvector.Vector
}

func (n *nullVector) Scan(src any) error {
	if src == nil {
		return nil
	}
	return n.v.Scan(src)
}
