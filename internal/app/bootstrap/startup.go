// internal/app/bootstrap/startup.go
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dalemusser/askaway/internal/app/features/fanout"
	"github.com/dalemusser/askaway/internal/app/services/qna"
	"github.com/dalemusser/askaway/internal/app/store/conversations"
	"github.com/dalemusser/askaway/internal/app/store/incidents"
	"github.com/dalemusser/askaway/internal/app/store/qnasessions"
	"github.com/dalemusser/askaway/internal/app/store/questions"
	userstore "github.com/dalemusser/askaway/internal/app/store/users"
	"github.com/dalemusser/askaway/internal/app/system/auth"
	"github.com/dalemusser/askaway/internal/app/system/events"
	"github.com/dalemusser/askaway/internal/app/system/ratelimit"
	"github.com/dalemusser/askaway/internal/app/system/roster"
	"github.com/dalemusser/askaway/internal/app/system/secrets"
	"github.com/dalemusser/askaway/internal/app/system/timeouts"
	"github.com/dalemusser/askaway/internal/app/system/txn"
	"github.com/dalemusser/askaway/internal/app/system/workers"
	"github.com/dalemusser/askaway/internal/domain/models"
	"github.com/dalemusser/waffle/config"
	"go.uber.org/zap"
)

// Runtime holds what Startup builds and BuildHandler and Shutdown use.
type Runtime struct {
	Service   *qna.Service
	Queue     *events.Queue
	Cards     *workers.CardRefresh
	Verifier  *auth.Verifier
	Secrets   *secrets.Cache
	Writes    *ratelimit.Limiter
	FanoutKey string
}

// Startup resolves secrets and builds the Q&A service with its delivery
// workers. The workers are started here and stopped in Shutdown.
func Startup(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	timeouts.Configure(timeouts.Config{Dispatch: appCfg.DispatchTimeout})

	if deps.Runtime == nil {
		return errors.New("startup: DBDeps.Runtime is nil")
	}
	sec, err := secrets.New(ctx, secrets.Config{
		Provider:    appCfg.SecretsProvider,
		EnvPrefix:   appCfg.SecretEnvPrefix,
		KeyVaultURL: appCfg.KeyVaultURL,
		SSMPrefix:   appCfg.SSMPrefix,
		TTL:         appCfg.SecretCacheTTL,
	})
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}
	return deps.Runtime.build(ctx, appCfg, deps, sec, logger)
}

func (rt *Runtime) build(ctx context.Context, appCfg AppConfig, deps DBDeps, sec *secrets.Cache, logger *zap.Logger) error {
	lookup := func(name string) (string, error) {
		ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Medium(), logger, "secret "+name)
		defer cancel()
		v, err := sec.GetSecret(ctx, name)
		if err != nil {
			return "", fmt.Errorf("secret %q: %w", name, err)
		}
		return v, nil
	}

	jwtKey, err := lookup(appCfg.AuthJWTSecret)
	if err != nil {
		return err
	}
	verifier, err := auth.NewVerifier(auth.Config{
		Secret:   []byte(jwtKey),
		Issuer:   appCfg.AuthJWTIssuer,
		Audience: appCfg.AuthJWTAudience,
	})
	if err != nil {
		return err
	}

	botPassword, err := lookup(appCfg.BotAppPasswordSecret)
	if err != nil {
		return err
	}
	connector, err := roster.New(roster.Config{AppID: appCfg.BotAppID, AppPassword: botPassword})
	if err != nil {
		return err
	}

	var fanoutKey string
	if appCfg.FanoutKeySecret != "" {
		if fanoutKey, err = lookup(appCfg.FanoutKeySecret); err != nil {
			return err
		}
	}

	dispatchOpts := []events.Option{
		events.WithHTTPClient(&http.Client{Timeout: timeouts.Dispatch()}),
	}
	if fanoutKey != "" {
		dispatchOpts = append(dispatchOpts, events.WithHeader(fanout.KeyHeader, fanoutKey))
	}
	dispatcher := events.NewDispatcher(appCfg.DispatchURI(), logger, dispatchOpts...)
	queue := events.NewQueue(dispatcher, logger, appCfg.DispatchWorkers, appCfg.DispatchBuffer)

	db := deps.MongoDatabase
	sessions := qnasessions.New(db)

	// The card worker and the host card need each other; the worker reaches
	// the card through this indirection.
	var host *qna.HostCard
	cards := workers.NewCardRefresh(sessions, workers.CardUpdaterFunc(func(ctx context.Context, sess models.QnASession) error {
		return host.UpdateCard(ctx, sess)
	}), logger, appCfg.CardRefreshInterval, appCfg.CardRefreshSweep)

	svc := qna.New(qna.Deps{
		Conversations: conversations.New(db),
		Users:         userstore.New(db),
		Sessions:      sessions,
		Questions:     questions.New(db),
		Incidents:     incidents.New(db),
		Roster:        connector,
		Dispatcher:    dispatcher,
		Queue:         queue,
		Cards:         cards,
		RunTx: func(ctx context.Context, fn func(ctx context.Context) error) error {
			return txn.Run(ctx, db, logger, fn)
		},
	}, logger)
	host = qna.NewHostCard(svc, connector)

	queue.Start()
	cards.Start()

	*rt = Runtime{
		Service:   svc,
		Queue:     queue,
		Cards:     cards,
		Verifier:  verifier,
		Secrets:   sec,
		Writes:    ratelimit.New(appCfg.WriteRateLimit, appCfg.WriteRateWindow),
		FanoutKey: fanoutKey,
	}
	logger.Info("askaway runtime ready",
		zap.String("dispatch_uri", appCfg.DispatchURI()),
		zap.Bool("fanout", deps.Redis != nil))
	return nil
}
