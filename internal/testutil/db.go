package testutil

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DefaultTestMongoURI is used when ASKAWAY_TEST_MONGO_URI is unset.
const DefaultTestMongoURI = "mongodb://localhost:27017"

var dbSeq atomic.Int64

// TestContext returns a context bounded for a single test's store calls.
func TestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// SetupTestDB connects to the test Mongo deployment and returns a fresh,
// uniquely named database that is dropped when the test ends.
// The test is skipped when no deployment is reachable.
func SetupTestDB(t *testing.T) *mongo.Database {
	t.Helper()

	uri := os.Getenv("ASKAWAY_TEST_MONGO_URI")
	if uri == "" {
		uri = DefaultTestMongoURI
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(2*time.Second))
	if err != nil {
		t.Skipf("mongo not available (%s): %v", uri, err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		t.Skipf("mongo not reachable (%s): %v", uri, err)
	}

	name := fmt.Sprintf("askaway_test_%s_%d_%d",
		sanitizeName(t.Name()), time.Now().UnixNano()%1_000_000, dbSeq.Add(1))
	if len(name) > 60 {
		name = name[len(name)-60:]
	}
	db := client.Database(name)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = db.Drop(ctx)
		_ = client.Disconnect(ctx)
	})
	return db
}

func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
