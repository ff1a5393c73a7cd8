package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"
)

// Codec converts entries to and from store payloads.
type Codec interface {
	Encode(e Entry) ([]byte, error)
	Decode(b []byte) (Entry, error)
}

// JSONCodec encodes entries as JSON.
type JSONCodec struct{}

func (JSONCodec) Encode(e Entry) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("cache: encode entry: %w", err)
	}
	return b, nil
}

func (JSONCodec) Decode(b []byte) (Entry, error) {
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}
	if e.Key == "" {
		return Entry{}, fmt.Errorf("%w: missing key", ErrCorruptEntry)
	}
	return e, nil
}

// StoreTier adapts a Store into a Tier.
type StoreTier struct {
	name    string
	store   Store
	codec   Codec
	corrupt atomic.Uint64
}

// StoreTierOption configures a StoreTier.
type StoreTierOption func(*StoreTier)

// WithCodec replaces the JSON codec.
func WithCodec(c Codec) StoreTierOption {
	return func(t *StoreTier) {
		if c != nil {
			t.codec = c
		}
	}
}

// NewStoreTier wraps store under the given tier name.
func NewStoreTier(name string, store Store, opts ...StoreTierOption) *StoreTier {
	t := &StoreTier{name: name, store: store, codec: JSONCodec{}}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *StoreTier) Name() string { return t.name }

// Store returns the underlying store.
func (t *StoreTier) Store() Store { return t.store }

// Get implements Tier. Payloads that fail to decode, or that decode to a
// different key, are deleted and reported as a miss.
func (t *StoreTier) Get(ctx context.Context, key string) (Entry, bool, error) {
	b, ok, err := t.store.Get(ctx, key)
	if err != nil || !ok {
		return Entry{}, false, err
	}
	e, err := t.codec.Decode(b)
	if err == nil && e.Key != key {
		err = fmt.Errorf("%w: key %q stored under %q", ErrCorruptEntry, e.Key, key)
	}
	if err != nil {
		t.corrupt.Add(1)
		_ = t.store.Delete(ctx, key)
		return Entry{}, false, nil
	}
	return e, true, nil
}

// Set implements Tier.
func (t *StoreTier) Set(ctx context.Context, e Entry, retain time.Duration) error {
	if err := ValidateKey(e.Key); err != nil {
		return err
	}
	b, err := t.codec.Encode(e)
	if err != nil {
		return err
	}
	return t.store.Set(ctx, e.Key, b, retain)
}

func (t *StoreTier) Delete(ctx context.Context, key string) error {
	return t.store.Delete(ctx, key)
}

func (t *StoreTier) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	return t.store.DeletePrefix(ctx, prefix)
}

// Corrupt returns the number of undecodable payloads dropped.
func (t *StoreTier) Corrupt() uint64 { return t.corrupt.Load() }

// Evictions reports the store's capacity evictions, when it tracks them.
func (t *StoreTier) Evictions() uint64 {
	if ec, ok := t.store.(EvictionCounter); ok {
		return ec.Evictions()
	}
	return 0
}

// Ping checks the store when it supports it.
func (t *StoreTier) Ping(ctx context.Context) error {
	if p, ok := t.store.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

var (
	_ Tier            = (*StoreTier)(nil)
	_ EvictionCounter = (*StoreTier)(nil)
	_ Pinger          = (*StoreTier)(nil)
)
