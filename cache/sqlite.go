package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonwraymond/calcops/resilience"

	_ "modernc.org/sqlite"
)

// DefaultDurableEntries bounds the L3 store.
const DefaultDurableEntries = 100000

// SQLiteConfig configures a SQLiteStore.
type SQLiteConfig struct {
	// Path is the database file. It is created if missing.
	Path string `yaml:"path"`

	// MaxEntries bounds the table; the least recently accessed rows are
	// evicted on write. Zero is unbounded.
	MaxEntries int `yaml:"max_entries"`

	MaxOpenConns int `yaml:"max_open_conns"`
}

// SQLiteStore is a durable Store on SQLite in WAL mode. Expiry is checked
// lazily on read; capacity is enforced by LRU on accessed_at.
type SQLiteStore struct {
	db         *sql.DB
	maxEntries int
	retry      *resilience.Retry
	clock      func() time.Time

	tickMu    sync.Mutex
	lastTick  int64
	evictions atomic.Uint64
}

// OpenSQLiteStore opens (or creates) the database and initializes the schema.
func OpenSQLiteStore(ctx context.Context, cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, errors.New("cache: sqlite path is required")
	}
	dsn := cfg.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cache: open sqlite: %w", err)
	}
	conns := cfg.MaxOpenConns
	if conns <= 0 {
		conns = 4
	}
	db.SetMaxOpenConns(conns)
	db.SetMaxIdleConns(min(conns, 2))
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &SQLiteStore{
		db:         db,
		maxEntries: cfg.MaxEntries,
		clock:      time.Now,
		retry: resilience.NewRetry(resilience.RetryConfig{
			MaxAttempts:  4,
			InitialDelay: 50 * time.Millisecond,
			MaxDelay:     500 * time.Millisecond,
			RetryIf:      isTransientSQLiteErr,
		}),
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: migrate sqlite: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS cache_entries (
		key         TEXT PRIMARY KEY,
		value       BLOB NOT NULL,
		expires_at  INTEGER NOT NULL DEFAULT 0,
		accessed_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cache_entries_accessed ON cache_entries(accessed_at);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// tick returns a strictly increasing access stamp so LRU order is total.
func (s *SQLiteStore) tick() int64 {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	t := s.clock().UnixNano()
	if t <= s.lastTick {
		t = s.lastTick + 1
	}
	s.lastTick = t
	return t
}

func (s *SQLiteStore) onContention(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.retry.Execute(ctx, fn)
}

// Get implements Store. A hit refreshes accessed_at.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value     []byte
		expiresAt int64
	)
	err := s.onContention(ctx, func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx,
			`SELECT value, expires_at FROM cache_entries WHERE key = ?`, key,
		).Scan(&value, &expiresAt)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: sqlite get: %w", err)
	}

	if expiresAt > 0 && s.clock().UnixNano() >= expiresAt {
		if err := s.Delete(ctx, key); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}

	stamp := s.tick()
	err = s.onContention(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE cache_entries SET accessed_at = ? WHERE key = ?`, stamp, key)
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("cache: sqlite touch: %w", err)
	}
	return value, true, nil
}

// Set implements Store and evicts the least recently accessed rows past
// MaxEntries.
func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = s.clock().Add(ttl).UnixNano()
	}
	stamp := s.tick()

	err := s.onContention(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO cache_entries (key, value, expires_at, accessed_at)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET
			   value = excluded.value,
			   expires_at = excluded.expires_at,
			   accessed_at = excluded.accessed_at`,
			key, value, expiresAt, stamp,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("cache: sqlite set: %w", err)
	}

	if s.maxEntries > 0 {
		return s.evict(ctx)
	}
	return nil
}

func (s *SQLiteStore) evict(ctx context.Context) error {
	var n int64
	err := s.onContention(ctx, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM cache_entries WHERE key IN (
			   SELECT key FROM cache_entries ORDER BY accessed_at DESC LIMIT -1 OFFSET ?
			 )`, s.maxEntries)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("cache: sqlite evict: %w", err)
	}
	if n > 0 {
		s.evictions.Add(uint64(n))
	}
	return nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	err := s.onContention(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
		return err
	})
	if err != nil {
		return fmt.Errorf("cache: sqlite delete: %w", err)
	}
	return nil
}

// DeletePrefix implements Store.
func (s *SQLiteStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	var n int64
	err := s.onContention(ctx, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM cache_entries WHERE substr(key, 1, ?) = ?`, len(prefix), prefix)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("cache: sqlite delete prefix: %w", err)
	}
	return int(n), nil
}

// Len returns the number of rows, expired or not.
func (s *SQLiteStore) Len(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&n)
	return n, err
}

// Evictions returns the number of rows evicted for capacity.
func (s *SQLiteStore) Evictions() uint64 { return s.evictions.Load() }

// Ping checks the database.
func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// isTransientSQLiteErr reports contention errors worth retrying: busy,
// locked, and WAL short reads.
func isTransientSQLiteErr(err error) bool {
	if err == nil || errors.Is(err, sql.ErrNoRows) {
		return false
	}
	msg := err.Error()
	for _, pattern := range []string{
		"SQLITE_BUSY",
		"SQLITE_LOCKED",
		"IOERR_SHORT_READ",
		"database is locked",
		"database table is locked",
		"(5)",
		"(6)",
		"(522)",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

var (
	_ Store           = (*SQLiteStore)(nil)
	_ EvictionCounter = (*SQLiteStore)(nil)
	_ Pinger          = (*SQLiteStore)(nil)
)
