// internal/app/bootstrap/dbdeps.go
package bootstrap

import (
	"github.com/dalemusser/liveplay/internal/app/services"
	"github.com/dalemusser/liveplay/internal/app/system/broadcast"
	"github.com/go-redis/redis/v8"
	"go.mongodb.org/mongo-driver/mongo"
)

// DBDeps holds the backends and the runtime wired over them. The Mongo
// fields are nil on the memory backend; the Redis fields are nil when no
// relay is configured.
type DBDeps struct {
	MongoClient   *mongo.Client
	MongoDatabase *mongo.Database

	Redis *redis.Client
	Relay *broadcast.RedisRelay

	Runtime *services.Services
}
