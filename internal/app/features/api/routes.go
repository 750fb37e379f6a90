// internal/app/features/api/routes.go
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes returns the router for the REST API. mw runs before every route;
// in production it is the bearer-token identity middleware.
func Routes(h *Handler, mw ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(mw...)

	r.Route("/conversations/{conversationId}", func(r chi.Router) {
		r.Use(h.requireMember)

		r.Get("/sessions", h.ServeListSessions)
		r.Post("/sessions", h.ServeStartSession)
		r.Get("/sessions/active", h.ServeActiveSession)
		r.Get("/sessions/{sessionId}", h.ServeLeaderboard)
		r.Patch("/sessions/{sessionId}", h.ServeUpdateSession)
		r.Post("/sessions/{sessionId}/questions", h.ServeSubmitQuestion)
		r.Patch("/sessions/{sessionId}/questions/{questionId}", h.ServeUpdateQuestion)
	})

	return r
}
