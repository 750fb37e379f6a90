// internal/app/bootstrap/appconfig.go
package bootstrap

import "time"

// AppConfig holds service-specific configuration for this WAFFLE app.
//
// These values come from environment variables, configuration files, or
// command-line flags (loaded in LoadConfig). WAFFLE's CoreConfig covers the
// HTTP server, logging and CORS; everything below is Ask Away's own.
type AppConfig struct {
	// MongoDB connection configuration
	MongoURI         string
	MongoDatabase    string
	MongoMaxPoolSize uint64
	MongoMinPoolSize uint64

	// Redis backs the fan-out endpoint. Blank disables fan-out.
	RedisURL      string
	FanoutEnabled bool
	// FanoutKeySecret names the secret the dispatcher presents to the
	// fan-out endpoint. Blank accepts unauthenticated publishes.
	FanoutKeySecret string

	// BackgroundJobURI receives every data event. Defaults to the local
	// fan-out endpoint under PublicBaseURL.
	BackgroundJobURI string
	PublicBaseURL    string
	DispatchWorkers  int
	DispatchBuffer   int
	DispatchTimeout  time.Duration

	// Secrets
	SecretsProvider string // env, keyvault or ssm
	SecretEnvPrefix string
	KeyVaultURL     string
	SSMPrefix       string
	SecretCacheTTL  time.Duration

	// Bot identity used for roster, membership and card updates
	BotAppID             string
	BotAppPasswordSecret string

	// Bearer tokens of the REST API
	AuthJWTSecret   string // secret name, not the key itself
	AuthJWTIssuer   string
	AuthJWTAudience string

	// Per-user limit on state-changing API calls
	WriteRateLimit  int
	WriteRateWindow time.Duration

	// Host card refresh throttle
	CardRefreshInterval time.Duration
	CardRefreshSweep    time.Duration
}

// DispatchURI returns the endpoint data events are POSTed to.
func (c AppConfig) DispatchURI() string {
	if c.BackgroundJobURI != "" {
		return c.BackgroundJobURI
	}
	return trimSlash(c.PublicBaseURL) + "/api/fanout"
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
