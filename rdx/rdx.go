package rdx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Keys shared by every Redis-backed component.
const (
	TripDataKey    = "trip-data"
	TripStampKey   = "trip-data:lastUpdated"
	TrainImagesKey = "train-images"
	ChangesChannel = "trip-data:changes"
)

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	conn := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Ping(ctx).Err(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return conn, nil
}
