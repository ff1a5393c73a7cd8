package cache

import (
	"testing"
	"time"
)

func TestDefaultPolicy(t *testing.T) {
	tests := []struct {
		level Level
		ttl   time.Duration
	}{
		{L1, time.Hour},
		{L2, 24 * time.Hour},
		{L3, 0},
	}
	for _, tt := range tests {
		p := DefaultPolicy(tt.level)
		if p.TTL != tt.ttl {
			t.Errorf("DefaultPolicy(%v).TTL = %v, want %v", tt.level, p.TTL, tt.ttl)
		}
		if p.StaleGrace != DefaultStaleGrace {
			t.Errorf("DefaultPolicy(%v).StaleGrace = %v", tt.level, p.StaleGrace)
		}
	}
}

func TestPolicy_EffectiveTTL(t *testing.T) {
	p := Policy{TTL: time.Hour, MaxTTL: 2 * time.Hour}
	tests := []struct {
		override time.Duration
		want     time.Duration
	}{
		{0, time.Hour},
		{-time.Second, time.Hour},
		{30 * time.Minute, 30 * time.Minute},
		{5 * time.Hour, 2 * time.Hour},
	}
	for _, tt := range tests {
		if got := p.EffectiveTTL(tt.override); got != tt.want {
			t.Errorf("EffectiveTTL(%v) = %v, want %v", tt.override, got, tt.want)
		}
	}
}

func TestPolicy_Retention(t *testing.T) {
	tests := []struct {
		name string
		p    Policy
		ttl  time.Duration
		want time.Duration
	}{
		{"with grace", Policy{StaleGrace: time.Hour}, time.Hour, 2 * time.Hour},
		{"no grace", Policy{}, time.Hour, time.Hour},
		{"never expires", Policy{StaleGrace: time.Hour}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.Retention(tt.ttl); got != tt.want {
				t.Errorf("Retention(%v) = %v, want %v", tt.ttl, got, tt.want)
			}
		})
	}
}

func TestPolicy_ServableStale(t *testing.T) {
	p := Policy{StaleGrace: time.Hour}
	e := Entry{ExpiresAt: epoch}

	if !p.servableStale(e, epoch.Add(30*time.Minute)) {
		t.Error("inside grace should be servable")
	}
	if p.servableStale(e, epoch.Add(time.Hour)) {
		t.Error("at grace end should not be servable")
	}
	if (Policy{}).servableStale(e, epoch.Add(time.Minute)) {
		t.Error("zero grace should never serve stale")
	}
}

func TestEntry_Expired(t *testing.T) {
	e := NewEntry("k", sampleResult(0), time.Minute, epoch)
	if e.Expired(epoch.Add(59 * time.Second)) {
		t.Error("expired early")
	}
	if !e.Expired(epoch.Add(time.Minute)) {
		t.Error("not expired at ExpiresAt")
	}
	if NewEntry("k", sampleResult(0), 0, epoch).Expired(epoch.Add(1000 * time.Hour)) {
		t.Error("zero TTL entry expired")
	}
}

func TestValidateKey(t *testing.T) {
	long := make([]byte, MaxKeyLength+1)
	for i := range long {
		long[i] = 'a'
	}
	tests := []struct {
		key  string
		want error
	}{
		{"calc:2024-01-01:abc", nil},
		{"", ErrInvalidKey},
		{"   ", ErrInvalidKey},
		{"a\nb", ErrInvalidKey},
		{string(long), ErrKeyTooLong},
	}
	for _, tt := range tests {
		if got := ValidateKey(tt.key); got != tt.want {
			t.Errorf("ValidateKey(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}
