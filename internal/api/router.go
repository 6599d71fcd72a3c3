package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(apiHandler *APIHandler, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)       // Basic request logging
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	// All API routes will be under /api
	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Post("/signup", apiHandler.SignupHandler)
		r.Post("/login", apiHandler.LoginHandler)
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})
		if metricsHandler != nil {
			r.Handle("/metrics", metricsHandler)
		}

		// User-authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.JWTAuthMiddleware)

			r.Get("/conversation", apiHandler.GetConversationHandler)
			r.Delete("/conversation", apiHandler.ClearConversationHandler)
			r.Post("/queries", apiHandler.SubmitQueryHandler)

			r.Delete("/messages/{messageID}", apiHandler.DeleteMessageHandler)
			r.Post("/messages/{messageID}/navigate", apiHandler.NavigateFromMessageHandler)
			r.Delete("/analyses/{analysisID}", apiHandler.DeleteAnalysisHandler)
			r.Post("/analyses/{analysisID}/navigate", apiHandler.NavigateFromAnalysisHandler)

			r.Put("/view", apiHandler.UpdateViewHandler)
			r.Get("/events", apiHandler.EventsHandler)
			r.Get("/data", apiHandler.DataOverviewHandler)
		})
	})

	return r
}
