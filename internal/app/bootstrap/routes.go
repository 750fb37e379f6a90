// internal/app/bootstrap/routes.go
package bootstrap

import (
	"context"
	"errors"
	"net/http"

	apifeature "github.com/dalemusser/askaway/internal/app/features/api"
	boteventsfeature "github.com/dalemusser/askaway/internal/app/features/botevents"
	fanoutfeature "github.com/dalemusser/askaway/internal/app/features/fanout"
	healthfeature "github.com/dalemusser/askaway/internal/app/features/health"
	metricsfeature "github.com/dalemusser/askaway/internal/app/features/metrics"
	"github.com/dalemusser/askaway/internal/app/system/auth"
	"github.com/dalemusser/askaway/internal/app/system/ratelimit"
	"github.com/dalemusser/waffle/config"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// BuildHandler constructs the root HTTP handler (router) for this WAFFLE app.
//
// WAFFLE calls this after configuration, DB connections, schema setup, and
// the Startup hook have completed, so deps.Runtime is populated.
//
// Routes:
//   - /health         liveness and backend checks
//   - /metrics        Prometheus collectors
//   - /api/messages   Bot Framework conversationUpdate activities
//   - /api/fanout     data event fan-out (only when Redis is configured)
//   - /api/...        the REST API, bearer token, per-user write limit and
//     conversation membership
func BuildHandler(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) (http.Handler, error) {
	rt := deps.Runtime
	if rt == nil || rt.Service == nil {
		return nil, errors.New("build handler: runtime not initialized")
	}
	requireIdentity := auth.RequireIdentity(rt.Verifier, logger)

	r := chi.NewRouter()

	checks := []healthfeature.Check{healthfeature.MongoCheck(deps.MongoClient)}
	if deps.Redis != nil {
		checks = append(checks, healthfeature.RedisCheck(deps.Redis))
	}
	r.Mount("/health", healthfeature.Routes(healthfeature.NewHandler(logger, checks...)))
	r.Mount("/metrics", metricsfeature.Routes())

	r.Route("/api", func(r chi.Router) {
		botHandler := boteventsfeature.NewHandler(rt.Service, logger)
		r.Mount("/messages", boteventsfeature.Routes(botHandler, requireIdentity))

		if deps.Redis != nil {
			authorize := func(ctx context.Context, group, userID string) error {
				_, err := rt.Service.AuthorizeMember(ctx, group, userID)
				return err
			}
			fanoutHandler := fanoutfeature.NewHandler(fanoutfeature.NewRedisBroker(deps.Redis), rt.FanoutKey, authorize, logger)
			r.Mount("/fanout", fanoutfeature.Routes(fanoutHandler, requireIdentity))
		} else {
			logger.Info("fan-out endpoint disabled: no Redis configured")
		}

		apiHandler := apifeature.NewHandler(rt.Service, logger)
		r.Mount("/", apifeature.Routes(apiHandler, requireIdentity, ratelimit.PerUser(rt.Writes, logger)))
	})

	return r, nil
}
