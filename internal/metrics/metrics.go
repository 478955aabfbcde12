// Package metrics tracks request and upstream counters for
// Prometheus-compatible export.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Collector tracks badge service metrics.
type Collector struct {
	mu sync.RWMutex

	// Request metrics
	requestsTotal    map[string]int64          // key: route|method|status
	requestDurations map[string]*HistogramData // key: route

	// Auth pipeline outcomes
	authFailures map[string]int64 // key: failure code

	// Upstream lookups
	upstreamResults map[string]int64 // key: provider|outcome (fresh/stale/not_found/unavailable)

	// Circuit breaker state: 0=closed, 1=open, 2=half_open
	breakerState map[string]int // key: provider#org#package
}

// HistogramData stores histogram-like data for durations
type HistogramData struct {
	Count   int64
	Sum     float64
	Buckets map[float64]int64 // upper bound -> count
}

// DefaultBuckets are default histogram buckets in seconds
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{
		requestsTotal:    make(map[string]int64),
		requestDurations: make(map[string]*HistogramData),
		authFailures:     make(map[string]int64),
		upstreamResults:  make(map[string]int64),
		breakerState:     make(map[string]int),
	}
}

// RecordRequest records a completed request
func (c *Collector) RecordRequest(route, method string, statusCode int, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := route + "|" + method + "|" + strconv.Itoa(statusCode)
	c.requestsTotal[key]++

	hd, ok := c.requestDurations[route]
	if !ok {
		hd = &HistogramData{Buckets: make(map[float64]int64)}
		for _, b := range DefaultBuckets {
			hd.Buckets[b] = 0
		}
		c.requestDurations[route] = hd
	}

	secs := duration.Seconds()
	hd.Count++
	hd.Sum += secs
	for _, bound := range DefaultBuckets {
		if secs <= bound {
			hd.Buckets[bound]++
		}
	}
}

// RecordAuthFailure records a rejected ingestion request by failure code.
func (c *Collector) RecordAuthFailure(code string) {
	c.mu.Lock()
	c.authFailures[code]++
	c.mu.Unlock()
}

// RecordUpstream records an upstream lookup outcome for a provider.
func (c *Collector) RecordUpstream(provider, outcome string) {
	c.mu.Lock()
	c.upstreamResults[provider+"|"+outcome]++
	c.mu.Unlock()
}

// SetBreakerStates replaces the breaker gauge values from state names.
func (c *Collector) SetBreakerStates(states map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, name := range states {
		switch name {
		case "open":
			c.breakerState[key] = 1
		case "half_open":
			c.breakerState[key] = 2
		default:
			c.breakerState[key] = 0
		}
	}
}

// WritePrometheus writes metrics in Prometheus text exposition format
func (c *Collector) WritePrometheus(w http.ResponseWriter) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	writeHelp(w, "badgesmith_requests_total", "Total number of requests", "counter")
	for _, key := range sortedKeys(c.requestsTotal) {
		parts := strings.SplitN(key, "|", 3)
		fmt.Fprintf(w, "badgesmith_requests_total{route=%q,method=%q,status=%q} %d\n",
			parts[0], parts[1], parts[2], c.requestsTotal[key])
	}

	writeHelp(w, "badgesmith_request_duration_seconds", "Request duration", "histogram")
	for route, hd := range c.requestDurations {
		for _, bound := range DefaultBuckets {
			fmt.Fprintf(w, "badgesmith_request_duration_seconds_bucket{route=%q,le=%q} %d\n",
				route, strconv.FormatFloat(bound, 'g', -1, 64), hd.Buckets[bound])
		}
		fmt.Fprintf(w, "badgesmith_request_duration_seconds_bucket{route=%q,le=\"+Inf\"} %d\n", route, hd.Count)
		fmt.Fprintf(w, "badgesmith_request_duration_seconds_sum{route=%q} %g\n", route, hd.Sum)
		fmt.Fprintf(w, "badgesmith_request_duration_seconds_count{route=%q} %d\n", route, hd.Count)
	}

	writeHelp(w, "badgesmith_auth_failures_total", "Rejected ingestion requests", "counter")
	for _, code := range sortedKeys(c.authFailures) {
		fmt.Fprintf(w, "badgesmith_auth_failures_total{code=%q} %d\n", code, c.authFailures[code])
	}

	writeHelp(w, "badgesmith_upstream_results_total", "Upstream lookup outcomes", "counter")
	for _, key := range sortedKeys(c.upstreamResults) {
		parts := strings.SplitN(key, "|", 2)
		fmt.Fprintf(w, "badgesmith_upstream_results_total{provider=%q,outcome=%q} %d\n",
			parts[0], parts[1], c.upstreamResults[key])
	}

	writeHelp(w, "badgesmith_breaker_state", "Circuit breaker state (0=closed, 1=open, 2=half_open)", "gauge")
	for key, state := range c.breakerState {
		fmt.Fprintf(w, "badgesmith_breaker_state{key=%q} %d\n", key, state)
	}
}

func writeHelp(w http.ResponseWriter, name, help, typ string) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, typ)
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
