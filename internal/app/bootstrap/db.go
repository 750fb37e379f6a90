// internal/app/bootstrap/db.go
package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/dalemusser/askaway/internal/app/system/indexes"
	"github.com/dalemusser/askaway/internal/app/system/timeouts"
	"github.com/dalemusser/waffle/config"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// ConnectDB connects MongoDB and, when fan-out is configured, Redis.
func ConnectDB(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) (DBDeps, error) {
	opts := options.Client().
		ApplyURI(appCfg.MongoURI).
		SetAppName("askaway").
		SetMaxPoolSize(appCfg.MongoMaxPoolSize).
		SetMinPoolSize(appCfg.MongoMinPoolSize)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return DBDeps{}, fmt.Errorf("mongo connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeouts.Ping())
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return DBDeps{}, fmt.Errorf("mongo ping: %w", err)
	}
	logger.Info("connected to MongoDB", zap.String("database", appCfg.MongoDatabase))

	deps := DBDeps{
		MongoClient:   client,
		MongoDatabase: client.Database(appCfg.MongoDatabase),
		Runtime:       &Runtime{},
	}

	if appCfg.FanoutEnabled && appCfg.RedisURL != "" {
		rdb, err := connectRedis(appCfg.RedisURL)
		if err != nil {
			_ = client.Disconnect(context.Background())
			return DBDeps{}, err
		}
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			_ = rdb.Close()
			_ = client.Disconnect(context.Background())
			return DBDeps{}, fmt.Errorf("redis ping: %w", err)
		}
		deps.Redis = rdb
		logger.Info("connected to Redis")
	}

	return deps, nil
}

// connectRedis accepts a redis:// URL or a bare host:port.
func connectRedis(redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// EnsureSchema creates or reconciles the indexes of every collection.
func EnsureSchema(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, timeouts.Long())
	defer cancel()
	if err := indexes.EnsureAll(ctx, deps.MongoDatabase); err != nil {
		logger.Error("index setup failed", zap.Error(err))
		return err
	}
	return nil
}
