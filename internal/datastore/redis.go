package datastore

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/tphakala/pawdentify/internal/errors"
	"github.com/tphakala/pawdentify/internal/logger"
)

// RedisStore keeps the slot under a single Redis key. No TTL is set; the
// cache rechecks expiry on restore.
type RedisStore struct {
	client *redis.Client
	key    string
	log    logger.Logger
}

// OpenRedis connects and pings the server
func OpenRedis(ctx context.Context, cfg *RedisConfig, name string, log logger.Logger) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.ValidationError("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		log.Error("Failed to reach Redis", logger.String("addr", cfg.Addr), logger.Error(err))
		return nil, persistenceError(err, TypeRedis, "open")
	}
	return NewRedisStore(client, name, log), nil
}

// NewRedisStore wraps an existing client
func NewRedisStore(client *redis.Client, name string, log logger.Logger) *RedisStore {
	if name == "" {
		name = DefaultSlotName
	}
	if log == nil {
		log = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}
	return &RedisStore{client: client, key: name, log: log}
}

func (s *RedisStore) Load(ctx context.Context) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSlotEmpty
	}
	if err != nil {
		return nil, persistenceError(err, TypeRedis, "load")
	}
	if len(data) == 0 {
		return nil, ErrSlotEmpty
	}
	return data, nil
}

func (s *RedisStore) Save(ctx context.Context, payload []byte) error {
	if err := s.client.Set(ctx, s.key, payload, 0).Err(); err != nil {
		return persistenceError(err, TypeRedis, "save")
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
