package handlers

import (
	"fmt"
	"log"
	"net/http"

	"classtrack/internal/export"
	"classtrack/internal/ledger"
)

// ExportHandler serves attendance as downloadable CSV.
type ExportHandler struct {
	ledger *ledger.Service
}

// NewExportHandler creates a new export handler.
func NewExportHandler(svc *ledger.Service) *ExportHandler {
	return &ExportHandler{ledger: svc}
}

// CSV streams the day's attendance records as a CSV attachment, optionally
// filtered by room.
func (h *ExportHandler) CSV(w http.ResponseWriter, r *http.Request) {
	day, ok := dayParam(w, r)
	if !ok {
		return
	}

	records, err := h.ledger.Query(r.Context(), ledger.RecordFilter{
		Day:    day,
		RoomID: r.URL.Query().Get("room_id"),
	})
	if err != nil {
		respondLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=attendance-%s.csv", day))
	if err := export.WriteCSV(w, records); err != nil {
		// Headers are already out; all we can do is log.
		log.Printf("csv export for %s failed: %v", day, err)
	}
}
