// internal/app/features/metrics/routes.go
package metrics

import (
	"github.com/dalemusser/askaway/internal/app/system/metrics"
	"github.com/go-chi/chi/v5"
)

// Routes exposes the Prometheus registry at the mount point.
func Routes() chi.Router {
	r := chi.NewRouter()
	r.Handle("/", metrics.Handler())
	return r
}
