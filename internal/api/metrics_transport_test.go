package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crview/crview-cli/internal/metrics"
)

func TestNormalizeRoute(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/jira/connections", "/api/jira/connections"},
		{"/api/jira/connections/665f1c", "/api/jira/connections/:id"},
		{"/api/jira/connections/test", "/api/jira/connections/test"},
		{"/api/jira/accessible-resources/665f1c", "/api/jira/accessible-resources/:id"},
		{"/api/jira/connection-status/665f1c", "/api/jira/connection-status/:id"},
		{"/api/jira/oauth/refresh-token", "/api/jira/oauth/refresh-token"},
		{"/api/codereview/reviews/r1/base", "/api/codereview/reviews/:id/base"},
		{"/api/codereview/reviews/github-action/987/detail", "/api/codereview/reviews/github-action/:id/detail"},
		{"/api/codereview/reviews/r1/issues/4/sync-to-jira", "/api/codereview/reviews/:id/issues/:id/sync-to-jira"},
		{"/api/apikeys/list", "/api/apikeys/list"},
		{"/api/apikeys/k1/status", "/api/apikeys/:id/status"},
		{"/api/aicopilot/send/r1", "/api/aicopilot/send/:id"},
		{"/api/aicopilot/chathistory/r1", "/api/aicopilot/chathistory/:id"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeRoute(tt.path))
		})
	}
}

func TestMetricsTransport_NilCollectorsReturnsBase(t *testing.T) {
	base := http.DefaultTransport
	assert.Equal(t, base, NewMetricsTransport(base, nil))
}

func TestMetricsTransport_RecordsRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/apikeys/list" {
			writeJSON(w, http.StatusOK, []APIKey{})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	m := metrics.New()
	c, _ := newTestClient(t, srv, "T1", WithMetrics(m))

	require.NoError(t, c.Get(context.Background(), "/api/apikeys/list", nil))
	require.Error(t, c.Put(context.Background(), "/api/apikeys/k1/status", APIKeyStatusRequest{Status: APIKeyInactive}, nil))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.APIRequests.WithLabelValues(http.MethodGet, "/api/apikeys/list", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.APIRequests.WithLabelValues(http.MethodPut, "/api/apikeys/:id/status", "404")))
}
