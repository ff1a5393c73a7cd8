package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonwraymond/calcops/calc"
)

// MaxKeyLength is the maximum allowed length for a cache key.
const MaxKeyLength = 512

// Sentinel errors for cache operations.
var (
	ErrInvalidKey   = errors.New("cache: key is invalid")
	ErrKeyTooLong   = errors.New("cache: key exceeds max length")
	ErrNoTiers      = errors.New("cache: at least one tier is required")
	ErrUnknownLevel = errors.New("cache: level not configured")
	ErrCorruptEntry = errors.New("cache: corrupt entry")
	ErrClosed       = errors.New("cache: store is closed")
)

// Level identifies a position in the hierarchy. Lower levels are faster.
type Level int

const (
	L1 Level = iota + 1
	L2
	L3
)

func (l Level) String() string {
	switch l {
	case L1, L2, L3:
		return fmt.Sprintf("L%d", int(l))
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// Entry is a cached result. Entries are values; tiers never hand out
// shared state.
type Entry struct {
	Key        string      `json:"key"`
	Result     calc.Result `json:"result"`
	Tier       string      `json:"-"` // set on lookup
	InsertedAt time.Time   `json:"inserted_at"`
	AccessedAt time.Time   `json:"accessed_at"`
	ExpiresAt  time.Time   `json:"expires_at,omitzero"` // zero never expires
}

// NewEntry builds an entry that expires ttl after now. ttl <= 0 never expires.
func NewEntry(key string, r calc.Result, ttl time.Duration, now time.Time) Entry {
	e := Entry{
		Key:        key,
		Result:     r.Clone(),
		InsertedAt: now,
		AccessedAt: now,
	}
	if ttl > 0 {
		e.ExpiresAt = now.Add(ttl)
	}
	return e
}

// Expired reports whether the entry is past its expiry at now.
func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Tier is one level of the hierarchy.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Get returns expired entries while they are still retained; freshness
// is decided by the caller.
// - Errors mean the tier is unavailable, never a miss.
type Tier interface {
	Name() string
	Get(ctx context.Context, key string) (Entry, bool, error)

	// Set stores e. retain bounds how long the tier may keep it;
	// retain <= 0 keeps it until deleted or evicted.
	Set(ctx context.Context, e Entry, retain time.Duration) error

	// Delete is idempotent.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every key starting with prefix. An empty
	// prefix removes everything the tier owns.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// Store is a byte-level key/value store with TTL, the backing for L2 and L3.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Get returns (nil, false, nil) on miss.
// - ttl <= 0 means no expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// Pinger is implemented by stores that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// EvictionCounter is implemented by tiers and stores that evict on capacity.
type EvictionCounter interface {
	Evictions() uint64
}

// ValidateKey checks if a key is valid for caching.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	if strings.ContainsAny(key, "\n\r") {
		return ErrInvalidKey
	}
	return nil
}
