package secret

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// ErrUnknownProvider is returned for a provider name nobody registered.
var ErrUnknownProvider = errors.New("secret: unknown provider")

// Factory builds a provider from its configuration block.
type Factory func(cfg map[string]any) (Provider, error)

// Registry maps provider names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// NewDefaultRegistry returns a registry holding the env and file
// providers. env accepts "prefix"; file requires "dir".
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register("env", func(cfg map[string]any) (Provider, error) {
		prefix, err := stringOption(cfg, "prefix")
		if err != nil {
			return nil, err
		}
		return NewEnvProvider(prefix), nil
	})
	_ = r.Register("file", func(cfg map[string]any) (Provider, error) {
		dir, err := stringOption(cfg, "dir")
		if err != nil {
			return nil, err
		}
		if dir == "" {
			return nil, errors.New("secret: file provider requires dir")
		}
		return NewFileProvider(dir), nil
	})
	return r
}

// Register adds a factory. Names are unique.
func (r *Registry) Register(name string, f Factory) error {
	name = strings.TrimSpace(name)
	if name == "" || f == nil {
		return errors.New("secret: provider name and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("secret: provider %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

// Create builds the named provider.
func (r *Registry) Create(name string, cfg map[string]any) (Provider, error) {
	r.mu.RLock()
	f, ok := r.factories[strings.TrimSpace(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	p, err := f(cfg)
	if err != nil {
		return nil, fmt.Errorf("secret: create provider %q: %w", name, err)
	}
	return p, nil
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func stringOption(cfg map[string]any, key string) (string, error) {
	v, ok := cfg[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("secret: option %q must be a string, got %T", key, v)
	}
	return s, nil
}
