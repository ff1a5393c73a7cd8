package cache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Default L1 capacity.
const (
	DefaultMemoryEntries = 1000
	DefaultMemoryBytes   = 64 << 20
	defaultShards        = 16
	minPerShard          = 8
)

// MemoryConfig sizes a MemoryTier. Zero limits are unbounded.
type MemoryConfig struct {
	MaxEntries int   `yaml:"max_entries"`
	MaxBytes   int64 `yaml:"max_bytes"`

	// Shards is rounded up to a power of two. Zero picks a count that
	// keeps at least a few entries per shard.
	Shards int `yaml:"shards"`
}

// MemoryTier is a sharded in-process LRU. Each shard has its own lock and
// an equal slice of the entry and byte budgets.
type MemoryTier struct {
	name      string
	shards    []*shard
	mask      uint64
	clock     func() time.Time
	evictions atomic.Uint64
}

type shard struct {
	mu         sync.Mutex
	items      map[string]*list.Element
	lru        *list.List // front is most recently used
	bytes      int64
	maxEntries int
	maxBytes   int64
}

type memItem struct {
	entry       Entry
	retainUntil time.Time
	size        int64
}

// NewMemoryTier creates an L1 tier.
func NewMemoryTier(cfg MemoryConfig) *MemoryTier {
	n := shardCount(cfg)
	t := &MemoryTier{
		name:   "memory",
		shards: make([]*shard, n),
		mask:   uint64(n - 1),
		clock:  time.Now,
	}
	for i := range t.shards {
		t.shards[i] = &shard{
			items:      make(map[string]*list.Element),
			lru:        list.New(),
			maxEntries: ceilDiv(cfg.MaxEntries, n),
			maxBytes:   int64(ceilDiv(int(cfg.MaxBytes), n)),
		}
	}
	return t
}

func shardCount(cfg MemoryConfig) int {
	n := cfg.Shards
	if n <= 0 {
		n = defaultShards
		for n > 1 && cfg.MaxEntries > 0 && cfg.MaxEntries/n < minPerShard {
			n /= 2
		}
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

func (t *MemoryTier) shardFor(key string) *shard {
	return t.shards[xxhash.Sum64String(key)&t.mask]
}

// Name implements Tier.
func (t *MemoryTier) Name() string { return t.name }

// Get implements Tier. A hit moves the entry to the front of its shard.
func (t *MemoryTier) Get(_ context.Context, key string) (Entry, bool, error) {
	now := t.clock()
	s := t.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[key]
	if !ok {
		return Entry{}, false, nil
	}
	it := el.Value.(*memItem)
	if !it.retainUntil.IsZero() && !now.Before(it.retainUntil) {
		s.remove(el)
		return Entry{}, false, nil
	}
	it.entry.AccessedAt = now
	s.lru.MoveToFront(el)

	e := it.entry
	e.Result = e.Result.Clone()
	return e, true, nil
}

// Set implements Tier.
func (t *MemoryTier) Set(_ context.Context, e Entry, retain time.Duration) error {
	if err := ValidateKey(e.Key); err != nil {
		return err
	}
	now := t.clock()
	it := &memItem{entry: e, size: entrySize(e)}
	it.entry.Result = e.Result.Clone()
	if retain > 0 {
		it.retainUntil = now.Add(retain)
	}

	s := t.shardFor(e.Key)
	s.mu.Lock()
	if el, ok := s.items[e.Key]; ok {
		s.remove(el)
	}
	s.items[e.Key] = s.lru.PushFront(it)
	s.bytes += it.size
	evicted := s.trim()
	s.mu.Unlock()

	if evicted > 0 {
		t.evictions.Add(uint64(evicted))
	}
	return nil
}

// Delete implements Tier.
func (t *MemoryTier) Delete(_ context.Context, key string) error {
	s := t.shardFor(key)
	s.mu.Lock()
	if el, ok := s.items[key]; ok {
		s.remove(el)
	}
	s.mu.Unlock()
	return nil
}

// DeletePrefix implements Tier.
func (t *MemoryTier) DeletePrefix(_ context.Context, prefix string) (int, error) {
	n := 0
	for _, s := range t.shards {
		s.mu.Lock()
		for key, el := range s.items {
			if strings.HasPrefix(key, prefix) {
				s.remove(el)
				n++
			}
		}
		s.mu.Unlock()
	}
	return n, nil
}

// Evictions returns the number of entries evicted for capacity.
func (t *MemoryTier) Evictions() uint64 { return t.evictions.Load() }

// Usage returns the current entry count and estimated byte size.
func (t *MemoryTier) Usage() (entries int, bytes int64) {
	for _, s := range t.shards {
		s.mu.Lock()
		entries += s.lru.Len()
		bytes += s.bytes
		s.mu.Unlock()
	}
	return entries, bytes
}

// Capacity returns the configured limits summed over shards.
func (t *MemoryTier) Capacity() (entries int, bytes int64) {
	for _, s := range t.shards {
		entries += s.maxEntries
		bytes += s.maxBytes
	}
	return entries, bytes
}

func (s *shard) remove(el *list.Element) {
	it := s.lru.Remove(el).(*memItem)
	delete(s.items, it.entry.Key)
	s.bytes -= it.size
}

// trim evicts from the back until the shard is within budget.
func (s *shard) trim() int {
	n := 0
	for s.lru.Len() > 0 && s.over() {
		s.remove(s.lru.Back())
		n++
	}
	return n
}

func (s *shard) over() bool {
	return (s.maxEntries > 0 && s.lru.Len() > s.maxEntries) ||
		(s.maxBytes > 0 && s.bytes > s.maxBytes)
}

// entrySize is an estimate of an entry's heap footprint.
func entrySize(e Entry) int64 {
	size := int64(128 + 2*len(e.Key) + len(e.Result.Backend) + len(e.Result.ComputationID))
	for k := range e.Result.Values {
		size += int64(len(k)) + 24
	}
	return size
}

var (
	_ Tier            = (*MemoryTier)(nil)
	_ EvictionCounter = (*MemoryTier)(nil)
)
