// internal/app/bootstrap/dbdeps.go
package bootstrap

import (
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// DBDeps holds database/back-end dependencies for the app.
//
// Runtime is allocated by ConnectDB and filled in by Startup; WAFFLE passes
// DBDeps by value, so the pointer is how later hooks see what Startup built.
type DBDeps struct {
	MongoClient   *mongo.Client
	MongoDatabase *mongo.Database
	Redis         *redis.Client // nil when fan-out is disabled

	Runtime *Runtime
}
