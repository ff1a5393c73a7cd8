package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/calcops/secret"
)

// Loader reads a configuration file. Values are resolved in order:
// defaults, then the file with ${VAR} and secretref: references replaced.
//
//	cfg, err := config.NewLoader().WithPath("calcops.yaml").Load(ctx)
type Loader struct {
	path     string
	registry *secret.Registry
	lookup   secret.LookupFunc
	optional bool
}

// NewLoader returns a loader using the built-in secret providers.
func NewLoader() *Loader {
	return &Loader{registry: secret.NewDefaultRegistry(), lookup: os.LookupEnv}
}

// WithPath sets the file to read.
func (l *Loader) WithPath(path string) *Loader {
	l.path = path
	return l
}

// Optional makes a missing file load the defaults instead of failing.
func (l *Loader) Optional() *Loader {
	l.optional = true
	return l
}

// WithRegistry replaces the secret provider registry.
func (l *Loader) WithRegistry(r *secret.Registry) *Loader {
	if r != nil {
		l.registry = r
	}
	return l
}

// WithLookup replaces the environment used for ${VAR} expansion.
func (l *Loader) WithLookup(lookup secret.LookupFunc) *Loader {
	if lookup != nil {
		l.lookup = lookup
	}
	return l
}

// Load reads, resolves and validates the file.
func (l *Loader) Load(ctx context.Context) (*Config, error) {
	if l.path == "" {
		return nil, errors.New("config: path is required")
	}
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) && l.optional {
		cfg := Default()
		return &cfg, cfg.Validate()
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", l.path, err)
	}
	cfg, err := l.Parse(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", l.path, err)
	}
	return cfg, nil
}

// Parse resolves and validates a YAML document. Unknown keys are errors.
func (l *Loader) Parse(ctx context.Context, data []byte) (*Config, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	cfg := Default()
	if len(doc.Content) == 0 {
		return &cfg, cfg.Validate()
	}

	resolver, err := l.resolver(ctx, &doc)
	if err != nil {
		return nil, err
	}
	defer resolver.Close()
	if err := resolveScalars(ctx, resolver, &doc); err != nil {
		return nil, err
	}

	resolved, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("re-encode: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(resolved))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolver builds the providers named under secrets. Their own settings
// may use ${VAR} but not secretref.
func (l *Loader) resolver(ctx context.Context, doc *yaml.Node) (*secret.Resolver, error) {
	env := secret.NewResolver().WithLookup(l.lookup)
	r := secret.NewResolver(secret.NewEnvProvider("")).WithLookup(l.lookup)

	node := mappingValue(doc.Content[0], "secrets")
	if node == nil {
		return r, nil
	}
	if err := resolveScalars(ctx, env, node); err != nil {
		return nil, fmt.Errorf("secrets: %w", err)
	}
	var providers map[string]map[string]any
	if err := node.Decode(&providers); err != nil {
		return nil, fmt.Errorf("secrets: %w", err)
	}
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		p, err := l.registry.Create(name, providers[name])
		if err != nil {
			_ = r.Close()
			return nil, err
		}
		r.Register(p)
	}
	return r, nil
}

func mappingValue(n *yaml.Node, key string) *yaml.Node {
	if n.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return n.Content[i+1]
		}
	}
	return nil
}

// resolveScalars resolves every scalar value below n. Mapping keys are
// left alone.
func resolveScalars(ctx context.Context, r *secret.Resolver, n *yaml.Node) error {
	switch n.Kind {
	case yaml.DocumentNode, yaml.SequenceNode:
		for _, c := range n.Content {
			if err := resolveScalars(ctx, r, c); err != nil {
				return err
			}
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			if err := resolveScalars(ctx, r, n.Content[i+1]); err != nil {
				return fmt.Errorf("%s: %w", n.Content[i].Value, err)
			}
		}
	case yaml.ScalarNode:
		v, err := r.Resolve(ctx, n.Value)
		if err != nil {
			return err
		}
		if v != n.Value {
			n.Value = v
			// Plain scalars are re-typed from their resolved text.
			if n.Style == 0 {
				n.Tag = ""
			}
		}
	}
	return nil
}
