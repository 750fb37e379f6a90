// internal/app/features/health/handler.go
package health

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/dalemusser/askaway/internal/app/system/timeouts"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// Check is one dependency the health endpoint pings.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// MongoCheck pings the primary.
func MongoCheck(client *mongo.Client) Check {
	return Check{Name: "database", Ping: func(ctx context.Context) error {
		return client.Ping(ctx, readpref.Primary())
	}}
}

// RedisCheck pings the fan-out broker.
func RedisCheck(rdb *redis.Client) Check {
	return Check{Name: "redis", Ping: func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}}
}

// Handler holds dependencies needed for health checks.
type Handler struct {
	Checks []Check
	Log    *zap.Logger
}

// NewHandler constructs a health Handler.
func NewHandler(logger *zap.Logger, checks ...Check) *Handler {
	return &Handler{Checks: checks, Log: logger}
}

// healthResponse is the JSON structure for the health check response.
type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
	Errors map[string]string `json:"errors,omitempty"`
}

// Serve handles GET /health.
//
// On success: 200 and
//
//	{ "status":"ok", "checks":{"database":"connected","redis":"connected"} }
//
// If any check fails: 503 with "status":"error" and the failing check's
// error under "errors".
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Ping())
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: map[string]string{}}
	for _, c := range h.Checks {
		if err := c.Ping(ctx); err != nil {
			h.Log.Error("health-check: ping failed", zap.String("check", c.Name), zap.Error(err))
			resp.Status = "error"
			resp.Checks[c.Name] = "disconnected"
			if resp.Errors == nil {
				resp.Errors = map[string]string{}
			}
			resp.Errors[c.Name] = err.Error()
			continue
		}
		resp.Checks[c.Name] = "connected"
	}

	w.Header().Set("Content-Type", "application/json")
	if resp.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}
