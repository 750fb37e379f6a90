// internal/app/bootstrap/config.go
package bootstrap

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dalemusser/askaway/internal/app/system/secrets"
	"github.com/dalemusser/askaway/internal/app/system/workers"
	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.uber.org/zap"
)

// appConfigKeys defines the configuration keys for Ask Away.
// These are loaded via WAFFLE's config system with support for:
//   - Config files: mongo_uri, redis_url, etc.
//   - Environment variables: ASKAWAY_MONGO_URI, ASKAWAY_REDIS_URL, etc.
//   - Command-line flags: --mongo_uri, --redis_url, etc.
var appConfigKeys = []config.AppKey{
	{Name: "mongo_uri", Default: "mongodb://localhost:27017", Desc: "MongoDB connection URI"},
	{Name: "mongo_database", Default: "askaway", Desc: "MongoDB database name"},
	{Name: "mongo_max_pool_size", Default: 100, Desc: "MongoDB max connection pool size (default: 100)"},
	{Name: "mongo_min_pool_size", Default: 10, Desc: "MongoDB min connection pool size (default: 10)"},

	// Fan-out
	{Name: "redis_url", Default: "", Desc: "Redis URL or host:port for the fan-out endpoint (blank disables fan-out)"},
	{Name: "fanout_enabled", Default: true, Desc: "Serve /api/fanout when Redis is configured"},
	{Name: "fanout_key_secret", Default: "", Desc: "Secret name of the key the dispatcher presents to /api/fanout"},

	// Event dispatch
	{Name: "background_job_uri", Default: "", Desc: "Endpoint receiving data events (default: <public_base_url>/api/fanout)"},
	{Name: "public_base_url", Default: "http://localhost:8080", Desc: "Externally reachable base URL of this service"},
	{Name: "dispatch_workers", Default: 4, Desc: "Background event delivery workers"},
	{Name: "dispatch_buffer", Default: 256, Desc: "Background event queue size"},
	{Name: "dispatch_timeout", Default: "10s", Desc: "Timeout of a single event delivery attempt"},

	// Secrets
	{Name: "secrets_provider", Default: "env", Desc: "Secret provider: 'env', 'keyvault' or 'ssm'"},
	{Name: "secret_env_prefix", Default: "ASKAWAY_SECRET_", Desc: "Environment variable prefix of the env provider"},
	{Name: "key_vault_url", Default: "", Desc: "Azure Key Vault URL (keyvault provider)"},
	{Name: "ssm_prefix", Default: "/askaway/", Desc: "SSM parameter path prefix (ssm provider)"},
	{Name: "secret_cache_ttl", Default: "24h", Desc: "How long resolved secrets are cached"},

	// Bot
	{Name: "bot_app_id", Default: "", Desc: "Microsoft App ID of the bot"},
	{Name: "bot_app_password_secret", Default: "bot-app-password", Desc: "Secret name of the bot app password"},

	// Bearer tokens
	{Name: "auth_jwt_secret", Default: "auth-jwt-secret", Desc: "Secret name of the HS256 token signing key"},
	{Name: "auth_jwt_issuer", Default: "", Desc: "Required token issuer (blank accepts any)"},
	{Name: "auth_jwt_audience", Default: "", Desc: "Required token audience (blank accepts any)"},

	// Write throttle
	{Name: "write_rate_limit", Default: 60, Desc: "State-changing API calls allowed per user per window"},
	{Name: "write_rate_window", Default: "1m", Desc: "Window of write_rate_limit"},

	// Host card
	{Name: "card_refresh_interval", Default: "5s", Desc: "Minimum time between two redraws of a host card"},
	{Name: "card_refresh_sweep", Default: "1m", Desc: "How often orphaned card refreshes are picked up"},
}

// LoadConfig loads WAFFLE core config and app-specific config.
//
// WAFFLE's config.LoadWithAppConfig merges, in order of precedence,
// flags > env (WAFFLE_* for core, ASKAWAY_* for app) > files > defaults.
func LoadConfig(logger *zap.Logger) (*config.CoreConfig, AppConfig, error) {
	coreCfg, appValues, err := config.LoadWithAppConfig(logger, "ASKAWAY", appConfigKeys)
	if err != nil {
		return nil, AppConfig{}, err
	}

	appCfg := AppConfig{
		MongoURI:         appValues.String("mongo_uri"),
		MongoDatabase:    appValues.String("mongo_database"),
		MongoMaxPoolSize: uint64(appValues.Int("mongo_max_pool_size")),
		MongoMinPoolSize: uint64(appValues.Int("mongo_min_pool_size")),

		RedisURL:        appValues.String("redis_url"),
		FanoutEnabled:   appValues.Bool("fanout_enabled"),
		FanoutKeySecret: appValues.String("fanout_key_secret"),

		BackgroundJobURI: appValues.String("background_job_uri"),
		PublicBaseURL:    appValues.String("public_base_url"),
		DispatchWorkers:  appValues.Int("dispatch_workers"),
		DispatchBuffer:   appValues.Int("dispatch_buffer"),
		DispatchTimeout:  appValues.Duration("dispatch_timeout", 10*time.Second),

		SecretsProvider: appValues.String("secrets_provider"),
		SecretEnvPrefix: appValues.String("secret_env_prefix"),
		KeyVaultURL:     appValues.String("key_vault_url"),
		SSMPrefix:       appValues.String("ssm_prefix"),
		SecretCacheTTL:  appValues.Duration("secret_cache_ttl", secrets.DefaultTTL),

		BotAppID:             appValues.String("bot_app_id"),
		BotAppPasswordSecret: appValues.String("bot_app_password_secret"),

		AuthJWTSecret:   appValues.String("auth_jwt_secret"),
		AuthJWTIssuer:   appValues.String("auth_jwt_issuer"),
		AuthJWTAudience: appValues.String("auth_jwt_audience"),

		WriteRateLimit:  appValues.Int("write_rate_limit"),
		WriteRateWindow: appValues.Duration("write_rate_window", time.Minute),

		CardRefreshInterval: appValues.Duration("card_refresh_interval", workers.DefaultCardRefreshInterval),
		CardRefreshSweep:    appValues.Duration("card_refresh_sweep", time.Minute),
	}

	return coreCfg, appCfg, nil
}

// ValidateConfig performs app-specific config validation. All problems are
// reported together so a bad deployment is fixed in one pass.
func ValidateConfig(coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) error {
	var errs []error

	if err := wafflemongo.ValidateURI(appCfg.MongoURI); err != nil {
		logger.Error("invalid MongoDB URI", zap.Error(err))
		errs = append(errs, fmt.Errorf("invalid MongoDB URI: %w", err))
	}
	if strings.TrimSpace(appCfg.MongoDatabase) == "" {
		errs = append(errs, errors.New("mongo_database is required"))
	}
	if appCfg.BotAppID == "" {
		errs = append(errs, errors.New("bot_app_id is required"))
	}
	if appCfg.AuthJWTSecret == "" {
		errs = append(errs, errors.New("auth_jwt_secret is required"))
	}

	if u, err := url.Parse(appCfg.DispatchURI()); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("background job endpoint %q is not an absolute URL", appCfg.DispatchURI()))
	}

	switch appCfg.SecretsProvider {
	case secrets.ProviderEnv, "":
	case secrets.ProviderKeyVault:
		if appCfg.KeyVaultURL == "" {
			errs = append(errs, errors.New("secrets_provider keyvault requires key_vault_url"))
		}
	case secrets.ProviderSSM:
	default:
		errs = append(errs, fmt.Errorf("unknown secrets_provider %q", appCfg.SecretsProvider))
	}

	if appCfg.DispatchWorkers < 1 {
		errs = append(errs, errors.New("dispatch_workers must be at least 1"))
	}
	if appCfg.WriteRateLimit < 1 || appCfg.WriteRateWindow <= 0 {
		errs = append(errs, errors.New("write_rate_limit and write_rate_window must be positive"))
	}
	if appCfg.CardRefreshInterval <= 0 || appCfg.CardRefreshSweep <= 0 {
		errs = append(errs, errors.New("card refresh interval and sweep must be positive"))
	}

	return errors.Join(errs...)
}
