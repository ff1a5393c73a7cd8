package secret

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned by a provider that holds no value for a ref.
var ErrNotFound = errors.New("secret: not found")

// Provider resolves secret refs.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: never include the secret value in an error or log line.
type Provider interface {
	Name() string
	Resolve(ctx context.Context, ref string) (string, error)
	Close() error
}

// EnvProvider reads refs from the process environment, optionally under
// a common prefix: with Prefix "CALCOPS_", ref "REDIS_PASSWORD" reads
// CALCOPS_REDIS_PASSWORD.
type EnvProvider struct {
	Prefix string
	lookup LookupFunc
}

// NewEnvProvider creates an environment provider.
func NewEnvProvider(prefix string) *EnvProvider {
	return &EnvProvider{Prefix: prefix, lookup: os.LookupEnv}
}

func (p *EnvProvider) Name() string { return "env" }

func (p *EnvProvider) Resolve(_ context.Context, ref string) (string, error) {
	lookup := p.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	v, ok := lookup(p.Prefix + ref)
	if !ok {
		return "", fmt.Errorf("%w: env %s%s", ErrNotFound, p.Prefix, ref)
	}
	return v, nil
}

func (p *EnvProvider) Close() error { return nil }

// FileProvider reads one secret per file below Dir, the layout of mounted
// container secrets. Trailing newlines are trimmed.
type FileProvider struct {
	Dir string
}

// NewFileProvider creates a provider rooted at dir.
func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{Dir: dir}
}

func (p *FileProvider) Name() string { return "file" }

// Resolve reads Dir/ref. Refs that escape Dir are rejected.
func (p *FileProvider) Resolve(ctx context.Context, ref string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if ref == "" || filepath.IsAbs(ref) || !filepath.IsLocal(ref) {
		return "", fmt.Errorf("secret: file ref %q must be a relative path inside the secrets directory", ref)
	}
	b, err := os.ReadFile(filepath.Join(p.Dir, ref))
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: file %s", ErrNotFound, ref)
	}
	if err != nil {
		return "", fmt.Errorf("secret: read %s: %w", ref, err)
	}
	return strings.TrimRight(string(b), "\r\n"), nil
}

func (p *FileProvider) Close() error { return nil }

// StaticProvider serves a fixed map, for tests and embedded deployments.
type StaticProvider struct {
	ProviderName string
	Values       map[string]string
}

func (p *StaticProvider) Name() string { return p.ProviderName }

func (p *StaticProvider) Resolve(_ context.Context, ref string) (string, error) {
	v, ok := p.Values[ref]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return v, nil
}

func (p *StaticProvider) Close() error { return nil }

var (
	_ Provider = (*EnvProvider)(nil)
	_ Provider = (*FileProvider)(nil)
	_ Provider = (*StaticProvider)(nil)
)
