// internal/app/bootstrap/db.go
package bootstrap

import (
	"context"
	"fmt"

	"github.com/dalemusser/liveplay/internal/app/services"
	"github.com/dalemusser/liveplay/internal/app/store"
	"github.com/dalemusser/liveplay/internal/app/store/activity"
	"github.com/dalemusser/liveplay/internal/app/store/decisions"
	"github.com/dalemusser/liveplay/internal/app/store/livesessions"
	"github.com/dalemusser/liveplay/internal/app/store/memory"
	"github.com/dalemusser/liveplay/internal/app/store/participants"
	"github.com/dalemusser/liveplay/internal/app/store/quotas"
	"github.com/dalemusser/liveplay/internal/app/store/roles"
	"github.com/dalemusser/liveplay/internal/app/system/broadcast"
	"github.com/dalemusser/liveplay/internal/app/system/indexes"
	"github.com/dalemusser/liveplay/internal/app/system/timeouts"
	"github.com/dalemusser/liveplay/internal/app/system/validators"
	"github.com/dalemusser/waffle/config"
	"github.com/go-redis/redis/v8"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// ConnectDB connects the configured store backend and the optional Redis
// relay, then wires the runtime services over them.
func ConnectDB(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) (DBDeps, error) {
	var deps DBDeps
	var set store.Set

	switch appCfg.StoreBackend {
	case BackendMemory:
		set = memory.New().Set()
	default:
		client, err := ConnectMongo(ctx, appCfg.MongoURI)
		if err != nil {
			logger.Error("MongoDB connect failed", zap.Error(err))
			return DBDeps{}, err
		}
		db := client.Database(appCfg.MongoDatabase)
		deps.MongoClient = client
		deps.MongoDatabase = db
		set = MongoSet(db)
		logger.Info("connected to MongoDB", zap.String("database", appCfg.MongoDatabase))
	}

	deps.Runtime = services.New(set, nil, logger, servicesConfig(appCfg))

	if appCfg.RedisAddr != "" {
		deps.Redis = redis.NewClient(&redis.Options{Addr: appCfg.RedisAddr})
		deps.Relay = broadcast.NewRedisRelay(deps.Redis, deps.Runtime.Hub, logger, 0)
	}
	return deps, nil
}

// ConnectMongo connects to uri and pings the server.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, timeouts.Ping())
	defer cancel()
	if err := client.Ping(pctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping: %w", err)
	}
	return client, nil
}

// MongoSet returns the repositories backed by db.
func MongoSet(db *mongo.Database) store.Set {
	return store.Set{
		Sessions:     livesessions.New(db),
		Participants: participants.New(db),
		Decisions:    decisions.New(db),
		Roles:        roles.New(db),
		Activity:     activity.New(db),
		Quotas:       quotas.New(db),
	}
}

// EnsureSchema applies collection validators and indexes on the mongo
// backend. The memory backend needs neither.
func EnsureSchema(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	if deps.MongoDatabase == nil {
		return nil
	}
	if err := validators.EnsureAll(ctx, deps.MongoDatabase); err != nil {
		logger.Error("collection validators failed", zap.Error(err))
		return err
	}
	if err := indexes.EnsureAll(ctx, deps.MongoDatabase); err != nil {
		logger.Error("index setup failed", zap.Error(err))
		return err
	}
	return nil
}
