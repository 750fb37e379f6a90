package secrets

import (
	"context"
	"os"
	"strings"
)

// Env reads secrets from environment variables. The name "bot-app-password"
// with prefix "ASKAWAY_SECRET_" is read from ASKAWAY_SECRET_BOT_APP_PASSWORD.
type Env struct {
	prefix string
	lookup func(string) (string, bool)
}

// NewEnv creates an environment provider.
func NewEnv(prefix string) *Env {
	return &Env{prefix: prefix, lookup: os.LookupEnv}
}

func (e *Env) GetSecret(_ context.Context, name string) (string, error) {
	key := e.prefix + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_", "/", "_").Replace(strings.TrimSpace(name)))
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return "", ErrNotFound
	}
	return v, nil
}
