package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/NikhilSetiya/textbook-assistant/pkg/config"
	"github.com/NikhilSetiya/textbook-assistant/pkg/errors"
	"github.com/NikhilSetiya/textbook-assistant/pkg/logging"
	"github.com/NikhilSetiya/textbook-assistant/pkg/resilience"
)

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(cfg *config.RedisConfig) (*redis.Client, error) {
	if cfg == nil {
		return nil, errors.NewValidationError("Redis configuration is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		PoolTimeout:     4 * time.Second,
		ConnMaxIdleTime: 5 * time.Minute,

		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.NewInternalError("failed to connect to Redis").WithCause(err)
	}

	return client, nil
}

// Decoder rebuilds a cached value from its JSON form
type Decoder func(data []byte) (interface{}, error)

// JSONDecoder returns a Decoder producing *T values
func JSONDecoder[T any]() Decoder {
	return func(data []byte) (interface{}, error) {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return &v, nil
	}
}

// RedisStoreConfig holds shared-cache settings
type RedisStoreConfig struct {
	KeyPrefix string
	TTL       time.Duration
	// Timeout bounds each Redis round trip
	Timeout time.Duration
	Decode  Decoder
	Logger  *logging.Logger
}

// RedisStore is a response cache shared by every gateway replica. Values
// are stored as JSON under KeyPrefix with a server-side expiry. Redis errors
// are logged and treated as misses so the cache never fails a request.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	timeout time.Duration
	decode  Decoder
	logger  *logging.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewRedisStore creates a store over an existing client
func NewRedisStore(client *redis.Client, cfg RedisStoreConfig) *RedisStore {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "textbook-assistant:answers"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 500 * time.Millisecond
	}
	if cfg.Decode == nil {
		cfg.Decode = func(data []byte) (interface{}, error) {
			var v interface{}
			err := json.Unmarshal(data, &v)
			return v, err
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.GetLogger()
	}

	return &RedisStore{
		client:  client,
		prefix:  cfg.KeyPrefix,
		ttl:     cfg.TTL,
		timeout: cfg.Timeout,
		decode:  cfg.Decode,
		logger:  cfg.Logger,
	}
}

func (s *RedisStore) key(key string) string {
	return fmt.Sprintf("%s:%s", s.prefix, key)
}

// Get returns the decoded value stored under key
func (s *RedisStore) Get(key string) (interface{}, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn("Shared cache read failed", "key", key, "error", err.Error())
		}
		s.misses.Add(1)
		return nil, false
	}

	value, err := s.decode(data)
	if err != nil {
		s.logger.Warn("Shared cache entry could not be decoded", "key", key, "error", err.Error())
		s.misses.Add(1)
		return nil, false
	}

	s.hits.Add(1)
	return value, true
}

// Put stores value under key with the store TTL
func (s *RedisStore) Put(key string, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn("Shared cache value could not be encoded", "key", key, "error", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.client.Set(ctx, s.key(key), data, s.ttl).Err(); err != nil {
		s.logger.Warn("Shared cache write failed", "key", key, "error", err.Error())
	}
}

// Clear removes every key under the store prefix
func (s *RedisStore) Clear() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := s.deletePrefix(ctx); err != nil {
		s.logger.Warn("Shared cache clear failed", "error", err.Error())
	}
}

func (s *RedisStore) deletePrefix(ctx context.Context) (int, error) {
	var cursor uint64
	deleted := 0

	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+":*", 100).Result()
		if err != nil {
			return deleted, errors.NewInternalError("failed to scan cache keys").WithCause(err)
		}

		if len(keys) > 0 {
			n, err := s.client.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, errors.NewInternalError("failed to delete cache keys").WithCause(err)
			}
			deleted += int(n)
		}

		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

// Len counts the keys under the store prefix
func (s *RedisStore) Len() int {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	var cursor uint64
	count := 0
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+":*", 100).Result()
		if err != nil {
			return count
		}
		count += len(keys)
		cursor = next
		if cursor == 0 {
			return count
		}
	}
}

// Stats reports hit counters; MaxSize is zero because Redis bounds memory itself
func (s *RedisStore) Stats() resilience.CacheStats {
	hits, misses := s.hits.Load(), s.misses.Load()

	stats := resilience.CacheStats{
		Size:   s.Len(),
		TTL:    s.ttl.String(),
		Hits:   hits,
		Misses: misses,
	}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	return stats
}

// Health pings Redis
func (s *RedisStore) Health(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return errors.NewInternalError("Redis health check failed").WithCause(err)
	}
	return nil
}
