package store

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"tripboard/config"
)

// Conns carries the shared hosted-store connections dialed by main.
type Conns struct {
	Redis *redis.Client
	Mongo *mongo.Database
}

// Open builds the record store for the configured backend.
func Open(cfg config.Config, conns Conns, opts Options) (Store, error) {
	backend, err := cfg.Backend()
	if err != nil {
		return nil, err
	}
	switch backend {
	case config.BackendRedis:
		if conns.Redis == nil {
			return nil, fmt.Errorf("redis backend selected without a connection")
		}
		return NewRedisStore(conns.Redis, opts), nil
	case config.BackendMongo:
		if conns.Mongo == nil {
			return nil, fmt.Errorf("mongo backend selected without a connection")
		}
		return NewMongoStore(conns.Mongo, opts), nil
	case config.BackendFile:
		return NewFileStore(cfg.DataFile, cfg.CacheTTL, opts)
	default:
		return NewMemoryStore(opts), nil
	}
}
