// Package results persists CI test outcomes with idempotent ingestion and a
// latest-result query per (owner, repo, platform, branch).
package results

import (
	"context"
	"fmt"
	"time"

	apierrors "github.com/badgesmith/badgesmith/internal/errors"
)

// Platforms accepted on the test routes.
var validPlatforms = map[string]bool{
	"linux":   true,
	"windows": true,
	"macos":   true,
}

// ValidPlatform reports whether p names a supported platform.
func ValidPlatform(p string) bool {
	return validPlatforms[p]
}

// TestResultRecord is one accepted CI run. (Owner, Repo, RunID) uniquely
// names an ingestion; Total must equal Passed+Failed+Skipped.
type TestResultRecord struct {
	Owner     string
	Repo      string
	Platform  string
	Branch    string
	RunID     string
	Passed    int
	Failed    int
	Skipped   int
	Total     int
	RunURL    string
	Commit    string
	Timestamp time.Time
}

// Validate checks the record invariants, returning a field-detailed
// validation error.
func (r *TestResultRecord) Validate() *apierrors.APIError {
	var details []apierrors.Detail
	if r.Owner == "" {
		details = append(details, apierrors.Detail{Code: "OWNER_REQUIRED", Field: "owner"})
	}
	if r.Repo == "" {
		details = append(details, apierrors.Detail{Code: "REPO_REQUIRED", Field: "repo"})
	}
	if !ValidPlatform(r.Platform) {
		details = append(details, apierrors.Detail{Code: "INVALID_PLATFORM", Field: "platform"})
	}
	if r.Branch == "" {
		details = append(details, apierrors.Detail{Code: "BRANCH_REQUIRED", Field: "branch"})
	}
	if r.RunID == "" {
		details = append(details, apierrors.Detail{Code: "RUN_ID_REQUIRED", Field: "run_id"})
	}
	if r.Passed < 0 || r.Failed < 0 || r.Skipped < 0 {
		details = append(details, apierrors.Detail{Code: "NEGATIVE_COUNT", Field: "counts"})
	}
	if r.Total != r.Passed+r.Failed+r.Skipped {
		details = append(details, apierrors.Detail{Code: "TOTAL_MISMATCH", Field: "total"})
	}
	if r.RunURL == "" {
		details = append(details, apierrors.Detail{Code: "URL_REQUIRED", Field: "url_html"})
	}
	if r.Commit == "" {
		details = append(details, apierrors.Detail{Code: "COMMIT_REQUIRED", Field: "commit"})
	}
	if r.Timestamp.IsZero() {
		details = append(details, apierrors.Detail{Code: "TIMESTAMP_REQUIRED", Field: "timestamp"})
	}
	if len(details) > 0 {
		return apierrors.Validation("Test result payload is invalid", details...)
	}
	return nil
}

// PutOutcome is the result of an ingestion attempt.
type PutOutcome int

const (
	// Accepted means the record and its run-seen marker were written.
	Accepted PutOutcome = iota
	// Duplicate means the runId was already ingested within the marker TTL.
	Duplicate
)

// Store is the persistence contract for test results.
type Store interface {
	// Put writes the record idempotently, keyed by (owner, repo, runId).
	Put(ctx context.Context, rec *TestResultRecord) (PutOutcome, error)
	// GetLatest returns the most recent record for the tuple, or nil.
	GetLatest(ctx context.Context, owner, repo, platform, branch string) (*TestResultRecord, error)
}

func resultKey(owner, repo, platform, branch string) string {
	return fmt.Sprintf("TEST#%s#%s#%s#%s", owner, repo, platform, branch)
}

func latestKey(owner, repo, platform, branch string) string {
	return fmt.Sprintf("LATEST#%s#%s#%s#%s", owner, repo, platform, branch)
}

func runKey(owner, repo, runID string) string {
	return fmt.Sprintf("RUN#%s#%s#%s", owner, repo, runID)
}
