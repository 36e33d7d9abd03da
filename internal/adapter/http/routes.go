package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Cell evaluation (called by the GENAI custom function)
		r.Post("/evaluate", h.HandleEvaluate)

		// Scheduler (called by the add-on menu)
		r.Post("/scheduler/start", h.StartScheduler)
		r.Post("/scheduler/stop", h.StopScheduler)
		r.Get("/scheduler", h.GetScheduler)

		// Pending tasks (sidebar view)
		r.Get("/tasks", h.ListTasks)
		r.Delete("/tasks/{row}/{col}", h.DeleteTask)
	})
}
