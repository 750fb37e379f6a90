// internal/app/features/fanout/routes.go
package fanout

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes returns the fan-out router, mounted at /api/fanout. streamMW guards
// the client stream only; the publish route is guarded by the shared key.
func Routes(h *Handler, streamMW ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.ServePublish)
	r.With(streamMW...).Get("/groups/{group}/events", h.ServeStream)
	return r
}
