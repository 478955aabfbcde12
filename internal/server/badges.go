package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/badgesmith/badgesmith/internal/badge"
	apierrors "github.com/badgesmith/badgesmith/internal/errors"
	"github.com/badgesmith/badgesmith/internal/logging"
	"github.com/badgesmith/badgesmith/internal/packages"
	"github.com/badgesmith/badgesmith/internal/response"
	"github.com/badgesmith/badgesmith/internal/results"
	"github.com/badgesmith/badgesmith/internal/routing"
	"go.uber.org/zap"
)

// parseFilters reads the semver comparator query params.
func parseFilters(q url.Values) packages.Filters {
	prerelease, _ := strconv.ParseBool(q.Get("prerelease"))
	return packages.Filters{
		GT:         q.Get("gt"),
		GTE:        q.Get("gte"),
		LT:         q.Get("lt"),
		LTE:        q.Get("lte"),
		EQ:         q.Get("eq"),
		Prerelease: prerelease,
	}
}

func (s *Server) handleNuGetBadge(w http.ResponseWriter, r *http.Request, vals *routing.RouteValues) {
	pkg, _ := vals.Get("package")
	s.servePackageBadge(w, r, packages.ProviderNuGet, "", pkg)
}

func (s *Server) handleGitHubBadge(w http.ResponseWriter, r *http.Request, vals *routing.RouteValues) {
	org, okOrg := vals.Get("org")
	pkg, okPkg := vals.Get("package")
	if !okOrg || !okPkg {
		// Fallback template: the greedy capture holds whatever followed
		// /badges/packages/github/, typically with an empty org segment.
		rest, _ := vals.Get("rest")
		org, pkg = splitOrgPackage(rest)
	}

	if org == "" {
		response.Error(w, apierrors.Validation(
			"Organization is required for GitHub provider",
			apierrors.Detail{Code: "ORG_REQUIRED", Field: "org"},
		))
		return
	}
	if pkg == "" {
		response.Error(w, apierrors.Validation(
			"Package is required",
			apierrors.Detail{Code: "PACKAGE_REQUIRED", Field: "package"},
		))
		return
	}

	s.servePackageBadge(w, r, packages.ProviderGitHub, org, pkg)
}

// splitOrgPackage untangles a greedy capture like "/pkg" (empty org) or
// "org/pkg" into its parts.
func splitOrgPackage(rest string) (org, pkg string) {
	org, pkg, found := strings.Cut(rest, "/")
	if !found {
		return org, ""
	}
	if strings.Contains(pkg, "/") {
		// More than two segments is not a valid org/package pair.
		return "", ""
	}
	return org, pkg
}

func (s *Server) servePackageBadge(w http.ResponseWriter, r *http.Request, provider, org, pkg string) {
	filters := parseFilters(r.URL.Query())
	if err := filters.Validate(); err != nil {
		response.Error(w, apierrors.Validation(
			"Version filter is not a valid semver string",
			apierrors.Detail{Code: "INVALID_FILTER", Field: "filters"},
		))
		return
	}

	p, err := s.providers.Get(provider)
	if err != nil {
		response.Error(w, apierrors.ErrNotFound)
		return
	}

	info, err := p.GetLatest(r.Context(), org, pkg, filters)
	switch {
	case err == nil && info.Stale:
		s.collector.RecordUpstream(provider, "stale")
		response.OK(w, r, badge.New(provider, info.Version, badge.ColorBlue).WithLogo(provider),
			response.ShortPublic(30))

	case err == nil:
		s.collector.RecordUpstream(provider, "fresh")
		response.OK(w, r, badge.New(provider, info.Version, badge.ColorBlue).WithLogo(provider),
			response.BadgeDefault)

	case errors.Is(err, packages.ErrNoMatchingVersions):
		s.collector.RecordUpstream(provider, "not_found")
		response.OK(w, r, badge.New(provider, "no matching versions", badge.ColorLightGrey),
			response.ShortPublic(300))

	case errors.Is(err, packages.ErrPackageNotFound):
		s.collector.RecordUpstream(provider, "not_found")
		response.OK(w, r, badge.New(provider, "not found", badge.ColorLightGrey),
			response.ShortPublic(300))

	default:
		s.collector.RecordUpstream(provider, "unavailable")
		logging.Warn("package badge degraded",
			zap.String("provider", provider),
			zap.String("package", pkg),
			zap.Error(err),
		)
		response.OK(w, r, badge.New(provider, "unavailable", badge.ColorLightGrey),
			response.ShortPublic(60))
	}
}

func (s *Server) handleTestBadge(w http.ResponseWriter, r *http.Request, vals *routing.RouteValues) {
	platform, _ := vals.Get("platform")
	owner, _ := vals.Get("owner")
	repo, _ := vals.Get("repo")
	branch, _ := vals.Get("branch")

	if !results.ValidPlatform(platform) {
		response.Error(w, apierrors.Validation(
			"Platform must be one of linux, windows, macos",
			apierrors.Detail{Code: "INVALID_PLATFORM", Field: "platform"},
		))
		return
	}

	rec, err := s.store.GetLatest(r.Context(), owner, repo, platform, branch)
	if err != nil {
		logging.Warn("test badge lookup failed", zap.Error(err))
		response.OK(w, r, badge.New("tests", "unavailable", badge.ColorLightGrey),
			response.ShortPublic(60))
		return
	}
	if rec == nil {
		response.OK(w, r, badge.New("tests", "no results", badge.ColorLightGrey),
			response.ShortPublic(300))
		return
	}

	color := badge.ColorYellow
	switch {
	case rec.Failed > 0:
		color = badge.ColorRed
	case rec.Passed > 0:
		color = badge.ColorGreen
	}
	message := fmt.Sprintf("%d passed, %d failed, %d skipped", rec.Passed, rec.Failed, rec.Skipped)

	response.OK(w, r, badge.New("tests", message, color), response.BadgeDefault,
		response.Opts{LastModified: rec.Timestamp})
}
