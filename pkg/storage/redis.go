package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sunvim/ethprovider/pkg/logger"
)

// RedisConfig holds the configuration for the Redis backend
type RedisConfig struct {
	Address      string
	Password     string
	DB           int
	PoolSize     int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns a default Redis configuration
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Address:      "localhost:6379",
		PoolSize:     10,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Redis stores values in a Redis (or protocol compatible) server
type Redis struct {
	client redis.UniversalClient
	logger *zap.Logger
}

// NewRedis connects to Redis and verifies the connection with a ping
func NewRedis(ctx context.Context, cfg *RedisConfig) (*Redis, error) {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log := logger.Component("redis")
	log.Info("redis client connected",
		zap.String("address", cfg.Address),
		zap.Int("db", cfg.DB),
		zap.Int("pool_size", cfg.PoolSize))

	return NewRedisFromClient(client, log), nil
}

// NewRedisFromClient wraps an existing client
func NewRedisFromClient(client redis.UniversalClient, log *zap.Logger) *Redis {
	return &Redis{client: client, logger: logger.Or(log)}
}

// Get reads key. redis.Nil maps to Absent; any other failure to Unreadable.
func (r *Redis) Get(ctx context.Context, key string) Lookup {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return absent()
		}
		r.logger.Warn("failed to get key", zap.String("key", key), zap.Error(err))
		return unreadable(fmt.Errorf("get key %s: %w", key, err))
	}
	return found(val)
}

// Set stores value under key without expiration
func (r *Redis) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, key, value, 0).Err(); err != nil {
		r.logger.Warn("failed to set key", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("set key %s: %w", key, err)
	}
	return nil
}

// Close closes the connection pool
func (r *Redis) Close() error {
	r.logger.Info("closing redis client connection")
	if err := r.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}
