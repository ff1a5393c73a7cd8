package secret

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// RefPrefix starts every secret reference.
const RefPrefix = "secretref:"

// Resolver expands environment references and then secret references.
type Resolver struct {
	providers map[string]Provider
	lookup    LookupFunc

	// AllowEmpty accepts empty provider values. By default an empty
	// secret is an error.
	AllowEmpty bool
}

// NewResolver creates a resolver over providers. Later providers replace
// earlier ones with the same name.
func NewResolver(providers ...Provider) *Resolver {
	r := &Resolver{providers: make(map[string]Provider), lookup: os.LookupEnv}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds or replaces a provider.
func (r *Resolver) Register(p Provider) {
	if p != nil {
		r.providers[p.Name()] = p
	}
}

// WithLookup replaces the environment used for ${NAME} expansion.
func (r *Resolver) WithLookup(lookup LookupFunc) *Resolver {
	if lookup != nil {
		r.lookup = lookup
	}
	return r
}

// Resolve returns value with every reference replaced.
func (r *Resolver) Resolve(ctx context.Context, value string) (string, error) {
	lookup := LookupFunc(os.LookupEnv)
	if r != nil && r.lookup != nil {
		lookup = r.lookup
	}
	expanded, err := Expand(value, lookup)
	if err != nil {
		return "", err
	}
	if !strings.Contains(expanded, RefPrefix) {
		return expanded, nil
	}
	if r == nil {
		return "", fmt.Errorf("%w: no providers configured", ErrUnknownProvider)
	}
	if provider, ref, ok := ParseRef(expanded); ok {
		return r.resolve(ctx, provider, ref)
	}
	return r.resolveInline(ctx, expanded)
}

// Close closes every provider.
func (r *Resolver) Close() error {
	var errs []error
	for _, p := range r.providers {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}

// ParseRef splits a value that is entirely secretref:<provider>:<ref>.
func ParseRef(value string) (provider, ref string, ok bool) {
	rest, ok := strings.CutPrefix(value, RefPrefix)
	if !ok {
		return "", "", false
	}
	provider, ref, ok = strings.Cut(rest, ":")
	if !ok || provider == "" || ref == "" || strings.ContainsAny(value, " \t\n") {
		return "", "", false
	}
	return provider, ref, true
}

func (r *Resolver) resolve(ctx context.Context, name, ref string) (string, error) {
	p, ok := r.providers[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	v, err := p.Resolve(ctx, ref)
	if err != nil {
		return "", err
	}
	if v == "" && !r.AllowEmpty {
		return "", fmt.Errorf("secret: provider %q returned an empty value for %q", name, ref)
	}
	return v, nil
}

// inlineRef ends a ref at whitespace, '@' or '/', so refs may sit inside
// URLs such as redis://:secretref:env:PASS@host:6379.
var inlineRef = regexp.MustCompile(`secretref:([A-Za-z0-9_-]+):([^\s@/]+)`)

func (r *Resolver) resolveInline(ctx context.Context, value string) (string, error) {
	var firstErr error
	out := inlineRef.ReplaceAllStringFunc(value, func(m string) string {
		if firstErr != nil {
			return m
		}
		sub := inlineRef.FindStringSubmatch(m)
		v, err := r.resolve(ctx, sub[1], sub[2])
		if err != nil {
			firstErr = err
			return m
		}
		return v
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}
