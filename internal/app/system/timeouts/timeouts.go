// Package timeouts holds the deadlines applied to store and network calls.
//
// Guidelines for choosing a timeout:
//   - Ping: health checks and connectivity verification
//   - Short: single-document reads and writes
//   - Medium: list queries and the leaderboard fan-in
//   - Long: session start/end, which write, notify and may roll back
//   - Dispatch: one POST to the background job service
//
// Values can be overridden once at startup with Configure.
package timeouts

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Default timeout values.
const (
	DefaultPing     = 2 * time.Second
	DefaultShort    = 5 * time.Second
	DefaultMedium   = 10 * time.Second
	DefaultLong     = 45 * time.Second
	DefaultDispatch = 10 * time.Second
)

// Config holds timeout values. Zero values are ignored.
type Config struct {
	Ping     time.Duration
	Short    time.Duration
	Medium   time.Duration
	Long     time.Duration
	Dispatch time.Duration
}

func defaults() Config {
	return Config{
		Ping:     DefaultPing,
		Short:    DefaultShort,
		Medium:   DefaultMedium,
		Long:     DefaultLong,
		Dispatch: DefaultDispatch,
	}
}

var (
	mu  sync.RWMutex
	cur = defaults()
)

func get(pick func(Config) time.Duration) time.Duration {
	mu.RLock()
	defer mu.RUnlock()
	return pick(cur)
}

// Ping returns the timeout for health checks.
func Ping() time.Duration { return get(func(c Config) time.Duration { return c.Ping }) }

// Short returns the timeout for single-document operations.
func Short() time.Duration { return get(func(c Config) time.Duration { return c.Short }) }

// Medium returns the timeout for list queries.
func Medium() time.Duration { return get(func(c Config) time.Duration { return c.Medium }) }

// Long returns the timeout for operations that notify and may roll back.
func Long() time.Duration { return get(func(c Config) time.Duration { return c.Long }) }

// Dispatch returns the timeout for one background job request.
func Dispatch() time.Duration { return get(func(c Config) time.Duration { return c.Dispatch }) }

// Configure overrides the current values. Zero fields keep their value.
func Configure(cfg Config) {
	mu.Lock()
	defer mu.Unlock()
	set := func(dst *time.Duration, v time.Duration) {
		if v > 0 {
			*dst = v
		}
	}
	set(&cur.Ping, cfg.Ping)
	set(&cur.Short, cfg.Short)
	set(&cur.Medium, cfg.Medium)
	set(&cur.Long, cfg.Long)
	set(&cur.Dispatch, cfg.Dispatch)
}

// Reset restores the defaults. Used by tests.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	cur = defaults()
}

// Current returns the configuration in effect.
func Current() Config {
	mu.RLock()
	defer mu.RUnlock()
	return cur
}

// WithTimeout creates a context with timeout and returns a cancel function that
// logs a warning if the deadline was what ended the operation.
//
//	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Long(), h.Log, "end session")
//	defer cancel()
func WithTimeout(parent context.Context, timeout time.Duration, log *zap.Logger, operation string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	return ctx, func() {
		if ctx.Err() == context.DeadlineExceeded && log != nil {
			log.Warn("operation timed out",
				zap.String("operation", operation),
				zap.Duration("timeout", timeout),
			)
		}
		cancel()
	}
}
