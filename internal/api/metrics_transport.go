package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/crview/crview-cli/internal/metrics"
)

// idParents are path segments followed by a resource ID.
var idParents = map[string]bool{
	"connections":          true,
	"accessible-resources": true,
	"switch-resource":      true,
	"connection-status":    true,
	"reviews":              true,
	"issues":               true,
	"github-action":        true,
	"apikeys":              true,
	"send":                 true,
	"chathistory":          true,
}

// routeKeywords follow an ID parent but are literal route parts, not IDs.
var routeKeywords = map[string]bool{
	"test":          true,
	"list":          true,
	"create":        true,
	"github-action": true,
	"base":          true,
	"detail":        true,
}

// NormalizeRoute replaces resource IDs in an API path with ":id"
// so metrics labels stay low-cardinality.
func NormalizeRoute(path string) string {
	segments := strings.Split(path, "/")
	for i := 1; i < len(segments); i++ {
		seg := segments[i]
		if seg == "" || routeKeywords[seg] {
			continue
		}
		if idParents[segments[i-1]] {
			segments[i] = ":id"
		}
	}
	return strings.Join(segments, "/")
}

type metricsTransport struct {
	base    http.RoundTripper
	metrics *metrics.Collectors
}

// NewMetricsTransport wraps base and records every request into c.
// With nil c it returns base unchanged.
func NewMetricsTransport(base http.RoundTripper, c *metrics.Collectors) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if c == nil {
		return base
	}
	return &metricsTransport{base: base, metrics: c}
}

// RoundTrip implements http.RoundTripper
func (t *metricsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	duration := time.Since(start)

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	t.metrics.ObserveRequest(req.Method, NormalizeRoute(req.URL.Path), status, duration)

	return resp, err
}
