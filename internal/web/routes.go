package web

import (
	"github.com/go-chi/chi/v5"

	"classtrack/internal/web/handlers"
	"classtrack/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	// Create handlers
	eventsHandler := handlers.NewEventsHandler(s.ledger)
	attendanceHandler := handlers.NewAttendanceHandler(s.ledger)
	roomsHandler := handlers.NewRoomsHandler(s.store)
	studentsHandler := handlers.NewStudentsHandler(s.store, s.config.Matcher.EmbeddingDim)
	quarantineHandler := handlers.NewQuarantineHandler(s.ledger)
	statusHandler := handlers.NewStatusHandler(s.store)
	exportHandler := handlers.NewExportHandler(s.ledger)

	// Health check (no auth required)
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireToken(s.config.Server.APIToken))

		// Event ingest from room agents
		r.Post("/events", eventsHandler.Ingest)

		// Attendance
		r.Get("/attendance", attendanceHandler.List)
		r.Post("/attendance/override", attendanceHandler.Override)

		// Rooms
		r.Get("/rooms", roomsHandler.List)
		r.Post("/rooms", roomsHandler.Create)
		r.Get("/rooms/{id}", roomsHandler.Get)

		// Students
		r.Get("/students", studentsHandler.List)
		r.Post("/students", studentsHandler.Create)
		r.Get("/students/{id}", studentsHandler.Get)

		// Quarantine review
		r.Get("/quarantine", quarantineHandler.List)
		r.Post("/quarantine/{id}/promote", quarantineHandler.Promote)
		r.Post("/quarantine/{id}/ignore", quarantineHandler.Ignore)

		// Dashboard
		r.Get("/status", statusHandler.Get)
		r.Get("/attendance/export.csv", exportHandler.CSV)
	})
}
