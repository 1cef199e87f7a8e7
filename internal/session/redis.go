package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/raaihank/llm-anonymizer/internal/logger"
)

// RedisRepository stores session snapshots in Redis with a TTL.
type RedisRepository struct {
	client *redis.Client
	config *Config
	logger *logger.Logger
}

// NewRedisRepository connects to Redis and verifies the connection.
func NewRedisRepository(config *Config, log *logger.Logger) (*RedisRepository, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Configure connection pool
	if config.MaxConnections > 0 {
		opts.PoolSize = config.MaxConnections
	}
	opts.MinIdleConns = config.MinIdleConns

	if log == nil {
		log = logger.NewNop()
	}
	repo := &RedisRepository{
		client: redis.NewClient(opts),
		config: config,
		logger: log.WithComponent("session-store"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := repo.client.Ping(ctx).Err(); err != nil {
		_ = repo.client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	repo.logger.Info("Redis session store initialized",
		zap.String("redis_url", maskRedisURL(config.RedisURL)),
		zap.Int("max_connections", opts.PoolSize),
		zap.Duration("ttl", config.TTL))

	return repo, nil
}

func (r *RedisRepository) key(id string) string {
	return fmt.Sprintf("%s:session:%s", r.config.KeyPrefix, id)
}

// Load reads a snapshot; missing keys yield ErrSessionNotFound.
func (r *RedisRepository) Load(ctx context.Context, id string) (*Snapshot, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		r.logger.Error("Dropping corrupted session snapshot", zap.String("session_id", id), zap.Error(err))
		r.client.Del(ctx, r.key(id))
		return nil, ErrSessionNotFound
	}
	return &snap, nil
}

// Save writes a snapshot and refreshes its TTL.
func (r *RedisRepository) Save(ctx context.Context, snapshot *Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := r.client.Set(ctx, r.key(snapshot.ID), data, r.config.TTL).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	r.logger.Debug("Session saved",
		zap.String("session_id", snapshot.ID),
		zap.Int("entries", len(snapshot.Entries)))
	return nil
}

// Delete removes one snapshot.
func (r *RedisRepository) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteAll removes every snapshot under the key prefix.
func (r *RedisRepository) DeleteAll(ctx context.Context) (int, error) {
	pattern := r.key("*")

	// Use SCAN to find all keys with our prefix
	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan session keys: %w", err)
	}

	// Delete keys in batches
	const batchSize = 100
	for i := 0; i < len(keys); i += batchSize {
		end := i + batchSize
		if end > len(keys) {
			end = len(keys)
		}
		if err := r.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			return i, fmt.Errorf("failed to delete session keys: %w", err)
		}
	}

	r.logger.Info("Session store cleared", zap.Int("deleted_keys", len(keys)))
	return len(keys), nil
}

// Close closes the Redis connection
func (r *RedisRepository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// maskRedisURL masks the password of a Redis URL for logging
func maskRedisURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userinfo := url[:at]
	colon := strings.LastIndex(userinfo, ":")
	if colon < 0 || colon < strings.Index(userinfo, "//") {
		return url
	}
	return userinfo[:colon+1] + "***" + url[at:]
}
