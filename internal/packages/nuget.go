package packages

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/badgesmith/badgesmith/internal/config"
)

// NuGetProvider resolves versions from the NuGet v3 flat container.
type NuGetProvider struct {
	baseURL  string
	upstream *upstream
}

// NewNuGetProvider creates the nuget provider.
func NewNuGetProvider(cfg config.UpstreamConfig) *NuGetProvider {
	return &NuGetProvider{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		upstream: newUpstream(ProviderNuGet, cfg),
	}
}

// flatContainerIndex is the NuGet v3 index document.
type flatContainerIndex struct {
	Versions []string `json:"versions"`
}

// GetLatest resolves the highest version of pkg. NuGet has no org scope; a
// non-empty org is ignored.
func (p *NuGetProvider) GetLatest(ctx context.Context, _ string, pkg string, f Filters) (*PackageInfo, error) {
	cf, err := compileFilters(f)
	if err != nil {
		return nil, err
	}

	lower := strings.ToLower(pkg)
	key := ProviderNuGet + "#" + lower
	url := fmt.Sprintf("%s/v3-flatcontainer/%s/index.json", p.baseURL, lower)

	versions, stale, err := p.upstream.fetchVersions(ctx, key, url, "", func(body []byte) ([]string, error) {
		var idx flatContainerIndex
		if err := json.Unmarshal(body, &idx); err != nil {
			return nil, fmt.Errorf("nuget: malformed index: %w", err)
		}
		return idx.Versions, nil
	})
	if err != nil {
		return nil, err
	}

	best, err := selectLatest(versions, cf)
	if err != nil {
		return nil, err
	}

	return &PackageInfo{
		Provider:     ProviderNuGet,
		Name:         pkg,
		Version:      best.Original(),
		IsPrerelease: best.Prerelease() != "",
		Stale:        stale,
	}, nil
}

// BreakerStates exposes breaker states for metrics.
func (p *NuGetProvider) BreakerStates() map[string]string {
	return p.upstream.BreakerStates()
}
