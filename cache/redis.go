package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultNamespace prefixes every key the RedisStore writes.
const DefaultNamespace = "calcops:"

const scanBatch = 500

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Namespace    string        `yaml:"namespace"`
	MaxRetries   int           `yaml:"max_retries"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DefaultRedisConfig returns the default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Namespace:    DefaultNamespace,
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	}
}

// RedisStore is a Store on Redis. Keys are namespaced so prefix deletes
// never touch foreign keys in a shared database.
type RedisStore struct {
	client redis.UniversalClient
	ns     string
	owned  bool

	mu     sync.RWMutex
	closed bool
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: connect to redis %s: %w", cfg.Addr, err)
	}

	s := NewRedisStoreFromClient(client, cfg.Namespace)
	s.owned = true
	return s, nil
}

// NewRedisStoreFromClient wraps an existing client. The caller keeps
// ownership of the client; Close will not close it.
func NewRedisStoreFromClient(client redis.UniversalClient, namespace string) *RedisStore {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &RedisStore{client: client, ns: namespace}
}

func (s *RedisStore) key(k string) string { return s.ns + k }

func (s *RedisStore) checkOpen() error {
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, false, err
	}

	b, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: redis get: %w", err)
	}
	return b, true, nil
}

// Set implements Store. ttl <= 0 stores without expiry.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("cache: redis delete: %w", err)
	}
	return nil
}

// DeletePrefix scans the namespace for matching keys and deletes them in
// batches.
func (s *RedisStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	pattern := globEscape(s.key(prefix)) + "*"
	iter := s.client.Scan(ctx, 0, pattern, scanBatch).Iterator()

	var (
		total int
		batch = make([]string, 0, scanBatch)
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := s.client.Del(ctx, batch...).Result()
		if err != nil {
			return fmt.Errorf("cache: redis delete prefix: %w", err)
		}
		total += int(n)
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return total, fmt.Errorf("cache: redis scan: %w", err)
	}
	if err := flush(); err != nil {
		return total, err
	}
	return total, nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.client.Ping(ctx).Err()
}

// Close marks the store closed and closes the client if the store owns it.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.owned {
		return s.client.Close()
	}
	return nil
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func globEscape(s string) string { return globEscaper.Replace(s) }

var (
	_ Store  = (*RedisStore)(nil)
	_ Pinger = (*RedisStore)(nil)
)
