// Package export is the read-only aggregation path over the ledger: the
// per-room live status view and the CSV export. It never writes.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"time"

	"classtrack/internal/attendance"
	"classtrack/internal/ledger"
)

// csvHeader is the stable export column schema. Order is part of the
// contract; consumers and tests rely on it.
var csvHeader = []string{"room_id", "student_id", "date", "first_seen_at", "source", "status"}

// WriteCSV renders records as CSV with the stable column schema. The
// records come from the ledger already ordered by (room_id, student_id),
// which makes the output reproducible.
func WriteCSV(w io.Writer, records []attendance.AttendanceRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, rec := range records {
		row := []string{
			rec.RoomID,
			rec.StudentID,
			string(rec.Day),
			rec.FirstSeenAt.UTC().Format(time.RFC3339),
			string(rec.Source),
			string(rec.Status),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// RoomStatus is one room's live attendance summary.
type RoomStatus struct {
	RoomID       string   `json:"id"`
	Name         string   `json:"name"`
	PresentCount int      `json:"present_count"`
	Total        int      `json:"total"`
	PresentIDs   []string `json:"present_student_ids"`
}

// Status builds the per-room summary for a day: which students have a
// record, out of how many enrolled. Rooms come back ordered by id.
func Status(ctx context.Context, store ledger.Store, day attendance.Day) ([]RoomStatus, error) {
	rooms, err := store.ListRooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	records, err := store.ListRecords(ctx, ledger.RecordFilter{Day: day})
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}

	presentByRoom := make(map[string][]string)
	for _, rec := range records {
		presentByRoom[rec.RoomID] = append(presentByRoom[rec.RoomID], rec.StudentID)
	}

	out := make([]RoomStatus, 0, len(rooms))
	for _, room := range rooms {
		students, err := store.ListStudents(ctx, room.ID, false)
		if err != nil {
			return nil, fmt.Errorf("list students for %s: %w", room.ID, err)
		}
		present := presentByRoom[room.ID]
		sort.Strings(present)
		out = append(out, RoomStatus{
			RoomID:       room.ID,
			Name:         room.Name,
			PresentCount: len(present),
			Total:        len(students),
			PresentIDs:   present,
		})
	}
	return out, nil
}
