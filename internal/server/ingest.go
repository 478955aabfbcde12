package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	apierrors "github.com/badgesmith/badgesmith/internal/errors"
	"github.com/badgesmith/badgesmith/internal/logging"
	"github.com/badgesmith/badgesmith/internal/response"
	"github.com/badgesmith/badgesmith/internal/results"
	"github.com/badgesmith/badgesmith/internal/routing"
	"go.uber.org/zap"
)

// ingestPayload is the signed request body for POST /tests/results.
type ingestPayload struct {
	Platform  string `json:"platform"`
	Passed    int    `json:"passed"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
	Total     int    `json:"total"`
	RunID     string `json:"run_id"`
	RunURL    string `json:"url_html"`
	Commit    string `json:"commit"`
	Timestamp string `json:"timestamp"`
}

// ingestAccepted field order is fixed; see response.Marshal.
type ingestAccepted struct {
	TestResultID string `json:"test_result_id"`
	Repository   string `json:"repository"`
	Timestamp    string `json:"timestamp"`
}

func (s *Server) handleIngestResults(w http.ResponseWriter, r *http.Request, _ *routing.RouteValues) {
	auth := AuthFromContext(r.Context())
	if auth == nil {
		// The dispatcher guarantees authentication on this route.
		response.Error(w, apierrors.ErrInternal)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		response.Error(w, apierrors.Validation("Request body is unreadable"))
		return
	}

	var payload ingestPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		response.Error(w, apierrors.Validation("Request body is not valid JSON"))
		return
	}

	owner, repo, _ := strings.Cut(auth.RepoID, "/")
	ts, err := time.Parse(time.RFC3339, payload.Timestamp)
	if err != nil {
		response.Error(w, apierrors.Validation(
			"Timestamp must be an RFC 3339 UTC instant",
			apierrors.Detail{Code: "INVALID_TIMESTAMP", Field: "timestamp"},
		))
		return
	}

	rec := &results.TestResultRecord{
		Owner:     owner,
		Repo:      repo,
		Platform:  payload.Platform,
		Branch:    r.URL.Query().Get("branch"),
		RunID:     payload.RunID,
		Passed:    payload.Passed,
		Failed:    payload.Failed,
		Skipped:   payload.Skipped,
		Total:     payload.Total,
		RunURL:    payload.RunURL,
		Commit:    payload.Commit,
		Timestamp: ts.UTC(),
	}
	if rec.Branch == "" {
		rec.Branch = "main"
	}
	if verr := rec.Validate(); verr != nil {
		response.Error(w, verr)
		return
	}

	outcome, err := s.store.Put(r.Context(), rec)
	if err != nil {
		logging.Error("test result write failed", zap.Error(err))
		response.Error(w, apierrors.ErrUnavailable)
		return
	}
	if outcome == results.Duplicate {
		response.Error(w, apierrors.New(apierrors.KindConflict, "Test result for this run was already recorded"))
		return
	}

	response.Created(w, ingestAccepted{
		TestResultID: uuid.NewString(),
		Repository:   auth.RepoID,
		Timestamp:    rec.Timestamp.Format(time.RFC3339),
	}, "")
}

func (s *Server) handleRedirect(w http.ResponseWriter, r *http.Request, vals *routing.RouteValues) {
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
		logging.Warn("redirect lookup failed", zap.Error(err))
		response.Error(w, apierrors.ErrUnavailable)
		return
	}
	if rec == nil || rec.RunURL == "" {
		response.Error(w, apierrors.ErrNotFound)
		return
	}

	response.Redirect(w, rec.RunURL, nil)
}
