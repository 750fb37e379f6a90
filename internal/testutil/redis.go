package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTestRedisURL is used when ASKAWAY_TEST_REDIS_URL is unset.
const DefaultTestRedisURL = "redis://localhost:6379/15"

// SetupTestRedis returns a client for the test Redis server. The test is
// skipped when no server is reachable.
func SetupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	url := os.Getenv("ASKAWAY_TEST_REDIS_URL")
	if url == "" {
		url = DefaultTestRedisURL
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse %s: %v", url, err)
	}
	rdb := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		t.Skipf("redis not reachable (%s): %v", url, err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}
