// Package metrics holds the prometheus collectors for outbound API traffic and
// token refresh activity. Collectors live on a private registry so a CLI run can
// export exactly its own numbers to a node-exporter textfile.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Refresh outcomes.
const (
	RefreshSuccess = "success"
	RefreshFailure = "failure"
)

// Replay sources: the request that triggered the refresh, or one that queued behind it.
const (
	ReplayLeader = "leader"
	ReplayQueued = "queued"
	ReplayReject = "rejected"
)

// Collectors groups every collector the client records into.
// A nil *Collectors is valid and records nothing.
type Collectors struct {
	Registry *prometheus.Registry

	// APIRequests counts outbound requests by method, normalized route and status code
	APIRequests *prometheus.CounterVec

	// APIDuration tracks outbound request latency in milliseconds
	APIDuration *prometheus.HistogramVec

	// TokenRefreshes counts Jira token refresh attempts by outcome
	TokenRefreshes *prometheus.CounterVec

	// Replays counts requests settled after a refresh, by source
	Replays *prometheus.CounterVec
}

// New creates a Collectors set registered on a fresh registry.
func New() *Collectors {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collectors{
		Registry: reg,
		APIRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crview_api_requests_total",
				Help: "Total API requests by method, route, and status code",
			},
			[]string{"method", "route", "status"},
		),
		APIDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crview_api_request_duration_ms",
				Help:    "API request duration in milliseconds",
				Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
			},
			[]string{"method", "route"},
		),
		TokenRefreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crview_token_refreshes_total",
				Help: "Jira token refresh attempts by outcome",
			},
			[]string{"outcome"},
		),
		Replays: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crview_request_replays_total",
				Help: "Requests settled after a token refresh, by source",
			},
			[]string{"source"},
		),
	}
}

// ObserveRequest records one completed API request. status is 0 for transport errors.
func (c *Collectors) ObserveRequest(method, route string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.APIRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.APIDuration.WithLabelValues(method, route).Observe(float64(duration.Milliseconds()))
}

// ObserveRefresh records a refresh outcome.
func (c *Collectors) ObserveRefresh(outcome string) {
	if c == nil {
		return
	}
	c.TokenRefreshes.WithLabelValues(outcome).Inc()
}

// ObserveReplay records a request settled after a refresh.
func (c *Collectors) ObserveReplay(source string) {
	if c == nil {
		return
	}
	c.Replays.WithLabelValues(source).Inc()
}

// WriteTextfile writes all collected metrics in the text exposition format,
// suitable for the node-exporter textfile collector.
func (c *Collectors) WriteTextfile(path string) error {
	if c == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, c.Registry)
}
