// internal/app/features/botevents/routes.go
package botevents

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes returns the router for the bot endpoint, mounted at /api/messages.
func Routes(h *Handler, mw ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(mw...)
	r.Post("/", h.ServeActivity)
	return r
}
