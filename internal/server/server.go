// Package server wires the route table, CORS policy, authenticator, and
// handlers into the request dispatcher.
package server

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/badgesmith/badgesmith/internal/config"
	"github.com/badgesmith/badgesmith/internal/cors"
	apierrors "github.com/badgesmith/badgesmith/internal/errors"
	"github.com/badgesmith/badgesmith/internal/hmacauth"
	"github.com/badgesmith/badgesmith/internal/logging"
	"github.com/badgesmith/badgesmith/internal/metrics"
	"github.com/badgesmith/badgesmith/internal/packages"
	"github.com/badgesmith/badgesmith/internal/response"
	"github.com/badgesmith/badgesmith/internal/results"
	"github.com/badgesmith/badgesmith/internal/routing"
)

// HandlerFunc is the signature all route handlers implement. vals holds the
// request's captured path values and must not be retained.
type HandlerFunc func(w http.ResponseWriter, r *http.Request, vals *routing.RouteValues)

// Handler identifiers in the route table.
const (
	handlerHealth        = "health"
	handlerNuGetBadge    = "nuget-badge"
	handlerGitHubBadge   = "github-badge"
	handlerTestBadge     = "test-badge"
	handlerIngestResults = "ingest-results"
	handlerRedirect      = "redirect-latest"
	handlerMetrics       = "metrics"
)

type ctxKey int

const authKey ctxKey = 0

// AuthFromContext returns the authenticated request attached by the
// dispatcher, or nil on unauthenticated routes.
func AuthFromContext(ctx context.Context) *hmacauth.AuthenticatedRequest {
	ar, _ := ctx.Value(authKey).(*hmacauth.AuthenticatedRequest)
	return ar
}

// Server is the request dispatcher and handler registry.
type Server struct {
	cfg       *config.Config
	table     *routing.Table
	cors      *cors.Policy
	auth      *hmacauth.Authenticator
	providers *packages.Factory
	store     results.Store
	collector *metrics.Collector
	handlers  map[string]HandlerFunc
	now       func() time.Time
}

// Deps carries the collaborators built at the composition root.
type Deps struct {
	Auth      *hmacauth.Authenticator
	Providers *packages.Factory
	Results   results.Store
	Collector *metrics.Collector
}

// New builds the server: route table, CORS policy, and handler registry.
// Templates are registered most-specific first.
func New(cfg *config.Config, deps Deps) (*Server, error) {
	table := routing.NewTable()
	for _, r := range []routing.Route{
		{Name: "health", Method: "GET", Pattern: "/health", HandlerID: handlerHealth},
		{Name: "metrics", Method: "GET", Pattern: "/metrics", HandlerID: handlerMetrics},
		{Name: "ingest-results", Method: "POST", Pattern: "/tests/results", RequiresAuth: true, HandlerID: handlerIngestResults},
		{Name: "nuget-badge", Method: "GET", Pattern: "/badges/packages/nuget/{package}", HandlerID: handlerNuGetBadge},
		{Name: "github-badge", Method: "GET", Pattern: "/badges/packages/github/{org}/{package}", HandlerID: handlerGitHubBadge},
		{Name: "github-badge-fallback", Method: "GET", Pattern: "/badges/packages/github/{rest...}", HandlerID: handlerGitHubBadge},
		{Name: "test-badge", Method: "GET", Pattern: "/badges/tests/{platform}/{owner}/{repo}/{branch}", HandlerID: handlerTestBadge},
		{Name: "redirect-latest", Method: "GET", Pattern: "/redirect/test-results/{platform}/{owner}/{repo}/{branch}", HandlerID: handlerRedirect},
	} {
		if err := table.Add(r); err != nil {
			return nil, err
		}
	}

	collector := deps.Collector
	if collector == nil {
		collector = metrics.NewCollector()
	}

	s := &Server{
		cfg:       cfg,
		table:     table,
		cors:      cors.New(cfg.CORS, table),
		auth:      deps.Auth,
		providers: deps.Providers,
		store:     deps.Results,
		collector: collector,
		now:       time.Now,
	}
	s.handlers = map[string]HandlerFunc{
		handlerHealth:        s.handleHealth,
		handlerNuGetBadge:    s.handleNuGetBadge,
		handlerGitHubBadge:   s.handleGitHubBadge,
		handlerTestBadge:     s.handleTestBadge,
		handlerIngestResults: s.handleIngestResults,
		handlerRedirect:      s.handleRedirect,
		handlerMetrics:       s.handleMetrics,
	}
	return s, nil
}

// Table exposes the route table (CORS tests and tooling).
func (s *Server) Table() *routing.Table {
	return s.table
}

// statusRecorder captures the written status code for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.status == 0 {
		sr.status = code
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	return sr.ResponseWriter.Write(b)
}

// ServeHTTP dispatches one request: OPTIONS goes to CORS, everything else
// resolves through the route table, passes authentication when required, and
// lands on its handler. Panics become generic 500s.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := s.now()
	sr := &statusRecorder{ResponseWriter: w}
	routeName := "unmatched"

	defer func() {
		if rec := recover(); rec != nil {
			logging.Error("handler panic",
				zap.Any("panic", rec),
				zap.String("path", r.URL.Path),
			)
			if sr.status == 0 {
				response.Error(sr, apierrors.ErrInternal)
			}
		}
		s.collector.RecordRequest(routeName, r.Method, sr.status, time.Since(start))
	}()

	if r.Method == http.MethodOptions {
		routeName = "preflight"
		s.cors.Preflight(sr, r)
		return
	}

	var vals routing.RouteValues
	route, ok := s.table.TryResolve(r.Method, r.URL.Path, &vals)
	if !ok {
		s.cors.ApplyResponse(sr, r)
		response.Error(sr, apierrors.ErrNotFound)
		return
	}
	routeName = route.Name

	s.cors.ApplyResponse(sr, r)

	if route.RequiresAuth {
		if !s.authenticate(sr, r) {
			return
		}
	}

	s.handlers[route.HandlerID](sr, r, &vals)
}

// authenticate buffers the body, runs the HMAC pipeline, and attaches the
// proof to the request context. Returns false after writing the failure.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxBodySize))
	if err != nil {
		response.Error(w, apierrors.Validation("Request body is too large or unreadable"))
		return false
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	ar, authErr := s.auth.Validate(r.Context(), r.Header, body)
	if authErr != nil {
		s.collector.RecordAuthFailure(authErr.Kind.String())
		response.Error(w, authErr)
		return false
	}

	*r = *r.WithContext(context.WithValue(r.Context(), authKey, ar))
	return true
}

// Run serves until SIGINT/SIGTERM, then drains with a shutdown grace period.
func (s *Server) Run() error {
	srv := &http.Server{
		Addr:         s.cfg.Server.Address,
		Handler:      s,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("listening", zap.String("address", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logging.Info("shutting down", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
