// internal/app/bootstrap/shutdown.go
package bootstrap

import (
	"context"
	"errors"

	"github.com/dalemusser/waffle/config"
	"go.uber.org/zap"
)

// Shutdown drains background delivery, stops the card worker and closes the
// database clients. Queued events are delivered before Mongo goes away.
func Shutdown(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	var errs []error

	if rt := deps.Runtime; rt != nil {
		if rt.Queue != nil {
			if err := rt.Queue.Stop(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if rt.Cards != nil {
			rt.Cards.Stop()
		}
		if rt.Writes != nil {
			rt.Writes.Stop()
		}
	}

	if deps.Redis != nil {
		if err := deps.Redis.Close(); err != nil {
			logger.Error("Redis close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if deps.MongoClient != nil {
		logger.Info("disconnecting MongoDB client")
		if err := deps.MongoClient.Disconnect(ctx); err != nil {
			logger.Error("MongoDB disconnect failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
