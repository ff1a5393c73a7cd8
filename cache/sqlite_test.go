package cache

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonwraymond/calcops/calc"
)

func openTestSQLite(t *testing.T, cfg SQLiteConfig) *SQLiteStore {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "l3.db")
	}
	s, err := OpenSQLiteStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("OpenSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_SetGet(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t, SQLiteConfig{})

	if err := s.Set(ctx, "k", []byte("v1"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Set(ctx, "k", []byte("v2"), 0); err != nil {
		t.Fatalf("Set() overwrite error = %v", err)
	}
	got, ok, err := s.Get(ctx, "k")
	if err != nil || !ok || string(got) != "v2" {
		t.Fatalf("Get() = %q, %v, %v", got, ok, err)
	}
	if _, ok, err := s.Get(ctx, "missing"); ok || err != nil {
		t.Errorf("Get(missing) = %v, %v", ok, err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestSQLiteStore_LazyExpiry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := openTestSQLite(t, SQLiteConfig{})
	s.clock = clock.Now

	_ = s.Set(ctx, "short", []byte("1"), time.Minute)
	_ = s.Set(ctx, "forever", []byte("2"), 0)

	clock.Advance(time.Minute)
	if _, ok, _ := s.Get(ctx, "short"); ok {
		t.Error("short should have expired")
	}
	if _, ok, _ := s.Get(ctx, "forever"); !ok {
		t.Error("forever missing")
	}
	if n, _ := s.Len(ctx); n != 1 {
		t.Errorf("Len() = %d, want 1 after lazy delete", n)
	}
}

func TestSQLiteStore_LRUEviction(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t, SQLiteConfig{MaxEntries: 2})

	_ = s.Set(ctx, "a", []byte("a"), 0)
	_ = s.Set(ctx, "b", []byte("b"), 0)
	if _, ok, _ := s.Get(ctx, "a"); !ok {
		t.Fatal("a missing")
	}
	_ = s.Set(ctx, "c", []byte("c"), 0)

	if _, ok, _ := s.Get(ctx, "b"); ok {
		t.Error("b should have been evicted as least recently accessed")
	}
	for _, k := range []string{"a", "c"} {
		if _, ok, _ := s.Get(ctx, k); !ok {
			t.Errorf("%s evicted, want retained", k)
		}
	}
	if s.Evictions() != 1 {
		t.Errorf("Evictions() = %d, want 1", s.Evictions())
	}
}

func TestSQLiteStore_DeletePrefix(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t, SQLiteConfig{})
	for _, k := range []string{"calc:1991-08-13:a", "calc:1991-08-13:b", "calc:1991-08-14:a", "calc:1991-08-1"} {
		_ = s.Set(ctx, k, []byte(k), 0)
	}

	n, err := s.DeletePrefix(ctx, "calc:1991-08-13:")
	if err != nil || n != 2 {
		t.Fatalf("DeletePrefix() = %d, %v, want 2", n, err)
	}
	n, err = s.DeletePrefix(ctx, "")
	if err != nil || n != 2 {
		t.Fatalf("DeletePrefix(\"\") = %d, %v, want 2", n, err)
	}
}

func TestSQLiteStore_Persists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "durable.db")

	s, err := OpenSQLiteStore(ctx, SQLiteConfig{Path: path})
	if err != nil {
		t.Fatalf("OpenSQLiteStore() error = %v", err)
	}
	tier := NewStoreTier("sqlite", s)
	e := NewEntry("calc:1991-08-13:k", sampleResult(calc.PrecisionExtreme), 0, epoch)
	if err := tier.Set(ctx, e, 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	_ = s.Close()

	s2 := openTestSQLite(t, SQLiteConfig{Path: path})
	got, ok, err := NewStoreTier("sqlite", s2).Get(ctx, e.Key)
	if err != nil || !ok {
		t.Fatalf("Get() after reopen = %v, %v", ok, err)
	}
	if !got.Result.Equal(e.Result) {
		t.Errorf("Result = %+v, want %+v", got.Result, e.Result)
	}
}

func TestSQLiteStore_ConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t, SQLiteConfig{MaxEntries: 50})

	var wg sync.WaitGroup
	errs := make(chan error, 8*25)
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 25 {
				if err := s.Set(ctx, fmt.Sprintf("g%d-%d", g, i), []byte("v"), 0); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Set() error = %v", err)
	}
	if n, _ := s.Len(ctx); n > 50 {
		t.Errorf("Len() = %d, want <= 50", n)
	}
}

func TestSQLiteStore_RequiresPath(t *testing.T) {
	if _, err := OpenSQLiteStore(context.Background(), SQLiteConfig{}); err == nil {
		t.Fatal("OpenSQLiteStore() without path succeeded")
	}
}

func TestIsTransientSQLiteErr(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{errors.New("database table is locked"), true},
		{errors.New("disk I/O error (522)"), true},
		{errors.New("SQLITE_LOCKED"), true},
		{errors.New("no such table: cache_entries"), false},
		{fmt.Errorf("wrapped: %w", errors.New("SQLITE_BUSY")), true},
	}
	for _, tt := range tests {
		if got := isTransientSQLiteErr(tt.err); got != tt.want {
			t.Errorf("isTransientSQLiteErr(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
