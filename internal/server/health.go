package server

import (
	"net/http"
	"time"

	"github.com/badgesmith/badgesmith/internal/response"
	"github.com/badgesmith/badgesmith/internal/routing"
)

// healthBody field order is fixed; see response.Marshal.
type healthBody struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ *routing.RouteValues) {
	response.OK(w, r, healthBody{
		Status:    "Healthy",
		Timestamp: s.now().UTC().Format(time.RFC3339),
	}, response.NoCache)
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request, _ *routing.RouteValues) {
	s.collector.SetBreakerStates(s.providers.BreakerStates())
	s.collector.WritePrometheus(w)
}
