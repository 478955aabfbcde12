package packages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/badgesmith/badgesmith/internal/config"
	"github.com/badgesmith/badgesmith/internal/logging"
	"github.com/badgesmith/badgesmith/internal/secrets"
	"go.uber.org/zap"
)

// TokenSource resolves the upstream API token for (provider, org).
type TokenSource interface {
	ProviderToken(ctx context.Context, provider, org string) (string, error)
}

// GitHubProvider resolves versions from the GitHub Packages API. Lookups are
// authenticated with the org's provider token when one is configured.
type GitHubProvider struct {
	baseURL  string
	tokens   TokenSource
	upstream *upstream
}

// NewGitHubProvider creates the github provider.
func NewGitHubProvider(cfg config.UpstreamConfig, tokens TokenSource) *GitHubProvider {
	return &GitHubProvider{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		tokens:   tokens,
		upstream: newUpstream(ProviderGitHub, cfg),
	}
}

// packageVersion is one entry of the org package versions listing.
type packageVersion struct {
	Name string `json:"name"`
}

// GetLatest resolves the highest version of pkg within org.
func (p *GitHubProvider) GetLatest(ctx context.Context, org, pkg string, f Filters) (*PackageInfo, error) {
	if org == "" {
		return nil, fmt.Errorf("github: org is required")
	}

	cf, err := compileFilters(f)
	if err != nil {
		return nil, err
	}

	token, err := p.tokens.ProviderToken(ctx, ProviderGitHub, org)
	if err != nil && !errors.Is(err, secrets.ErrNotFound) {
		// Token store trouble: try unauthenticated rather than failing the
		// badge outright.
		logging.Warn("github token lookup failed", zap.String("org", org), zap.Error(err))
		token = ""
	}

	key := ProviderGitHub + "#" + org + "#" + strings.ToLower(pkg)
	u := fmt.Sprintf("%s/orgs/%s/packages/nuget/%s/versions?per_page=100",
		p.baseURL, url.PathEscape(org), url.PathEscape(pkg))

	versions, stale, err := p.upstream.fetchVersions(ctx, key, u, token, func(body []byte) ([]string, error) {
		var listed []packageVersion
		if err := json.Unmarshal(body, &listed); err != nil {
			return nil, fmt.Errorf("github: malformed versions listing: %w", err)
		}
		names := make([]string, 0, len(listed))
		for _, v := range listed {
			names = append(names, v.Name)
		}
		return names, nil
	})
	if err != nil {
		return nil, err
	}

	best, err := selectLatest(versions, cf)
	if err != nil {
		return nil, err
	}

	return &PackageInfo{
		Provider:     ProviderGitHub,
		Name:         pkg,
		Version:      best.Original(),
		IsPrerelease: best.Prerelease() != "",
		Stale:        stale,
	}, nil
}

// BreakerStates exposes breaker states for metrics.
func (p *GitHubProvider) BreakerStates() map[string]string {
	return p.upstream.BreakerStates()
}
