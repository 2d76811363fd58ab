package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/attendance/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	classesHandler := handlers.NewClassesHandler(s.svc)
	studentsHandler := handlers.NewStudentsHandler(s.svc)
	attendanceHandler := handlers.NewAttendanceHandler(s.svc)
	historyHandler := handlers.NewHistoryHandler(s.svc)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handlers.HealthCheck)
		r.Get("/summary", historyHandler.Summary)

		r.Get("/classes", classesHandler.List)
		r.Post("/classes", classesHandler.Create)

		r.Route("/classes/{class}", func(r chi.Router) {
			r.Get("/", classesHandler.Get)
			r.Delete("/", classesHandler.Delete)
			r.Post("/encodings", classesHandler.Regenerate)

			// Roster and enrollment
			r.Post("/students", studentsHandler.Upsert)
			r.Post("/students/form", studentsHandler.UpsertForm)
			r.Delete("/students/{student}", studentsHandler.Delete)
			r.Post("/students/{student}/photos", studentsHandler.AddPhotos)

			// Recognition runs
			r.Post("/attendance", attendanceHandler.Recognize)
			r.Post("/attendance/save", attendanceHandler.Save)

			// History and reports
			r.Get("/history", historyHandler.List)
			r.Get("/history/{session}", historyHandler.View)
			r.Get("/history/{session}/download", historyHandler.Download)
			r.Get("/report", historyHandler.Report)
		})
	})
}
