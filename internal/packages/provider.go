// Package packages resolves the latest published version of a package from
// upstream registries. Lookups ride conditional GETs against a bounded cache,
// degrade to stale data when the upstream misbehaves, and are guarded by
// per-key circuit breakers and a per-provider concurrency limit.
package packages

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Provider names accepted on the badge routes.
const (
	ProviderNuGet  = "nuget"
	ProviderGitHub = "github"
)

// Sentinel results surfaced by providers. Handlers translate these into
// badge bodies rather than error statuses.
var (
	// ErrPackageNotFound means the upstream has no such package.
	ErrPackageNotFound = errors.New("package not found")
	// ErrNoMatchingVersions means versions exist but none satisfy the filters.
	ErrNoMatchingVersions = errors.New("no matching versions")
	// ErrUnavailable means the upstream failed and no cached data exists.
	ErrUnavailable = errors.New("upstream unavailable")
)

// PackageInfo is the resolved answer for one lookup.
type PackageInfo struct {
	Provider     string
	Name         string
	Version      string
	IsPrerelease bool
	PublishedAt  time.Time
	// Stale marks data replayed from cache after an upstream failure.
	Stale bool
}

// Filters narrows the candidate version set. Comparator values are semver
// strings; Prerelease admits prerelease versions (excluded by default).
type Filters struct {
	GT         string
	GTE        string
	LT         string
	LTE        string
	EQ         string
	Prerelease bool
}

// Provider answers latest-version lookups for one registry.
type Provider interface {
	// GetLatest resolves the highest version of pkg satisfying filters.
	// org is required for registries that scope packages to organizations.
	GetLatest(ctx context.Context, org, pkg string, f Filters) (*PackageInfo, error)
}

// Factory yields the provider registered under name.
type Factory struct {
	providers map[string]Provider
}

// NewFactory creates an empty provider factory.
func NewFactory() *Factory {
	return &Factory{providers: make(map[string]Provider)}
}

// Register adds a provider under name.
func (f *Factory) Register(name string, p Provider) {
	f.providers[name] = p
}

// Get returns the provider for name.
func (f *Factory) Get(name string) (Provider, error) {
	p, ok := f.providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	return p, nil
}

// BreakerStates aggregates circuit breaker states across all registered
// providers. Keys are already provider-prefixed.
func (f *Factory) BreakerStates() map[string]string {
	out := make(map[string]string)
	for _, p := range f.providers {
		if bs, ok := p.(interface{ BreakerStates() map[string]string }); ok {
			for k, v := range bs.BreakerStates() {
				out[k] = v
			}
		}
	}
	return out
}
