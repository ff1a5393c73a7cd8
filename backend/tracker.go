package backend

import (
	"sync"
	"time"
)

// DefaultAlpha is the default EWMA smoothing factor.
const DefaultAlpha = 0.2

// Stat is an EWMA snapshot for one backend.
type Stat struct {
	Latency   time.Duration `json:"latency"`
	ErrorRate float64       `json:"error_rate"` // 0..1
	Samples   int64         `json:"samples"`
}

// Tracker records exponentially weighted latency and error rate per backend.
// It is updated after every call and safe for concurrent use.
type Tracker struct {
	alpha float64

	mu    sync.RWMutex
	stats map[string]*Stat
}

// NewTracker creates a tracker. alpha outside (0, 1] uses DefaultAlpha.
func NewTracker(alpha float64) *Tracker {
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultAlpha
	}
	return &Tracker{alpha: alpha, stats: make(map[string]*Stat)}
}

// Observe records one call outcome. The first sample seeds the averages.
func (t *Tracker) Observe(name string, latency time.Duration, err error) {
	failed := 0.0
	if err != nil {
		failed = 1
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.stats[name]
	if !ok {
		t.stats[name] = &Stat{Latency: latency, ErrorRate: failed, Samples: 1}
		return
	}
	s.Latency = time.Duration(t.alpha*float64(latency) + (1-t.alpha)*float64(s.Latency))
	s.ErrorRate = t.alpha*failed + (1-t.alpha)*s.ErrorRate
	s.Samples++
}

// Snapshot returns the current averages for name.
func (t *Tracker) Snapshot(name string) (Stat, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.stats[name]
	if !ok {
		return Stat{}, false
	}
	return *s, true
}

// All returns a copy of every backend's averages.
func (t *Tracker) All() map[string]Stat {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]Stat, len(t.stats))
	for k, v := range t.stats {
		out[k] = *v
	}
	return out
}

// Reset forgets all samples.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.stats = make(map[string]*Stat)
	t.mu.Unlock()
}
