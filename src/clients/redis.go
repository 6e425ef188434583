package clients

import (
	"context"
	"fmt"
	"strings"
	"time"

	"timesheet-auth-svc/src/internal/config"

	"github.com/redis/go-redis/v9"
)

type RedisClient struct {
	Client *redis.Client
}

// NewRedisClient accepts either a redis:// URL or a host:port address.
func NewRedisClient(cfg *config.Redis) (*RedisClient, error) {
	opts := &redis.Options{Addr: cfg.Url}
	if strings.Contains(cfg.Url, "://") {
		parsed, err := redis.ParseURL(cfg.Url)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		opts = parsed
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.Db != 0 {
		opts.DB = cfg.Db
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	opts.DialTimeout = 5 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.WithError(err).Error("Failed to connect to Redis")
		if closeErr := client.Close(); closeErr != nil {
			log.WithError(closeErr).Warn("Error closing Redis after ping failure")
		}
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	log.WithField("db", opts.DB).Info("Connected to Redis")
	return &RedisClient{Client: client}, nil
}

func (r *RedisClient) Close() error {
	if err := r.Client.Close(); err != nil {
		log.WithError(err).Error("Failed to close Redis client")
		return err
	}
	log.Info("Redis connection closed")
	return nil
}
