// internal/app/system/ratelimit/ratelimit.go

// Package ratelimit throttles writes per caller with fixed windows kept in
// process memory.
package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/dalemusser/askaway/internal/app/system/auth"
	"go.uber.org/zap"
)

// Limiter counts requests per key in fixed windows. It is safe for
// concurrent use.
type Limiter struct {
	mu       sync.Mutex
	windows  map[string]*window
	limit    int
	duration time.Duration
	now      func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

type window struct {
	count     int
	expiresAt time.Time
}

// New creates a limiter allowing limit requests per key per duration.
// Call Stop to end its cleanup loop.
func New(limit int, duration time.Duration) *Limiter {
	l := &Limiter{
		windows:  make(map[string]*window),
		limit:    limit,
		duration: duration,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
	go l.cleanupLoop(duration * 2)
	return l
}

// Allow reports whether a request for key fits in the current window and
// counts it if so.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.After(w.expiresAt) {
		l.windows[key] = &window{count: 1, expiresAt: now.Add(l.duration)}
		return true
	}
	if w.count >= l.limit {
		return false
	}
	w.count++
	return true
}

// Remaining returns how many requests key has left in the current window.
func (l *Limiter) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || l.now().After(w.expiresAt) {
		return l.limit
	}
	if r := l.limit - w.count; r > 0 {
		return r
	}
	return 0
}

// Stop ends the cleanup loop. It is safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

func (l *Limiter) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.mu.Lock()
			now := l.now()
			for key, w := range l.windows {
				if now.After(w.expiresAt) {
					delete(l.windows, key)
				}
			}
			l.mu.Unlock()
		}
	}
}

// PerUser limits state-changing requests (anything but GET and HEAD) per
// authenticated user. It must run after the identity middleware; requests
// without an identity pass through.
func PerUser(l *Limiter, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			id, ok := auth.IdentityFrom(r.Context())
			if !ok || l.Allow(id.UserID) {
				next.ServeHTTP(w, r)
				return
			}
			logger.Debug("write rate limited", zap.String("user_id", id.UserID), zap.String("path", r.URL.Path))
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(int(l.duration.Seconds())))
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"code":"RATE_LIMITED","message":"too many changes, try again shortly"}`))
		})
	}
}
