package packages

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Validate reports whether every comparator in f parses as semver.
func (f Filters) Validate() error {
	_, err := compileFilters(f)
	return err
}

// compiledFilters holds parsed comparator bounds.
type compiledFilters struct {
	gt, gte, lt, lte, eq *semver.Version
	prerelease           bool
}

// compileFilters parses comparator strings once per request. A malformed
// comparator is a validation error, not an upstream failure.
func compileFilters(f Filters) (*compiledFilters, error) {
	cf := &compiledFilters{prerelease: f.Prerelease}
	for _, b := range []struct {
		name  string
		raw   string
		field **semver.Version
	}{
		{"gt", f.GT, &cf.gt},
		{"gte", f.GTE, &cf.gte},
		{"lt", f.LT, &cf.lt},
		{"lte", f.LTE, &cf.lte},
		{"eq", f.EQ, &cf.eq},
	} {
		if b.raw == "" {
			continue
		}
		v, err := semver.NewVersion(b.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s filter %q: %w", b.name, b.raw, err)
		}
		*b.field = v
	}
	return cf, nil
}

func (cf *compiledFilters) admits(v *semver.Version) bool {
	if v.Prerelease() != "" && !cf.prerelease {
		return false
	}
	if cf.gt != nil && v.Compare(cf.gt) <= 0 {
		return false
	}
	if cf.gte != nil && v.Compare(cf.gte) < 0 {
		return false
	}
	if cf.lt != nil && v.Compare(cf.lt) >= 0 {
		return false
	}
	if cf.lte != nil && v.Compare(cf.lte) > 0 {
		return false
	}
	if cf.eq != nil && !v.Equal(cf.eq) {
		return false
	}
	return true
}

// selectLatest picks the highest version among raw that satisfies the
// filters. Unparsable upstream versions are skipped. Returns
// ErrNoMatchingVersions when nothing remains.
func selectLatest(raw []string, cf *compiledFilters) (*semver.Version, error) {
	var best *semver.Version
	for _, s := range raw {
		v, err := semver.NewVersion(s)
		if err != nil {
			continue
		}
		if !cf.admits(v) {
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best = v
		}
	}
	if best == nil {
		return nil, ErrNoMatchingVersions
	}
	return best, nil
}
