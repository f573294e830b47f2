package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crview/crview-cli/internal/credstore"
	"github.com/crview/crview-cli/internal/metrics"
)

// jiraServer fakes the connection and refresh endpoints.
// Connection endpoints succeed only with the refreshed credential.
type jiraServer struct {
	t *testing.T

	validToken string
	refreshed  string
	refreshFn  func(w http.ResponseWriter, r *http.Request)

	refreshCalls atomic.Int32
	refreshStart chan struct{}

	mu      sync.Mutex
	replays []string
}

func newJiraServer(t *testing.T) *jiraServer {
	return &jiraServer{
		t:            t,
		validToken:   "T2",
		refreshed:    "T2",
		refreshStart: make(chan struct{}, 16),
	}
}

func (s *jiraServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == RefreshTokenPath {
		s.refreshCalls.Add(1)
		s.refreshStart <- struct{}{}
		if s.refreshFn != nil {
			s.refreshFn(w, r)
			return
		}
		writeJSON(w, http.StatusOK, RefreshTokenResponse{Success: true, AccessToken: s.refreshed})
		return
	}

	if r.Header.Get("Authorization") != "Bearer "+s.validToken {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Jira token expired"})
		return
	}

	s.mu.Lock()
	s.replays = append(s.replays, r.URL.Path+"?"+r.URL.RawQuery)
	s.mu.Unlock()

	id, _ := ConnectionIDFromPath(r.URL.Path)
	writeJSON(w, http.StatusOK, JiraConnection{ID: id, Name: "conn-" + id})
}

func (s *jiraServer) replayed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.replays...)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, srv *httptest.Server, token string, opts ...Option) (*Client, *credstore.MemoryStore) {
	t.Helper()
	store := credstore.NewMemoryStore(token)
	c, err := NewClient(srv.URL, store, opts...)
	require.NoError(t, err)
	return c, store
}

func TestConnectionIDFromPath(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		wantID string
		wantOK bool
	}{
		{name: "connection", path: "/api/jira/connections/abc", wantID: "abc", wantOK: true},
		{name: "connection with suffix", path: "/api/jira/connections/abc/extra", wantID: "abc", wantOK: true},
		{name: "accessible resources", path: "/api/jira/accessible-resources/abc", wantID: "abc", wantOK: true},
		{name: "switch resource", path: "/api/jira/switch-resource/abc", wantID: "abc", wantOK: true},
		{name: "base path prefix", path: "/v1/api/jira/connections/abc", wantID: "abc", wantOK: true},
		{name: "escaped id", path: "/api/jira/connections/a%20b", wantID: "a b", wantOK: true},
		{name: "collection", path: "/api/jira/connections", wantOK: false},
		{name: "test action", path: "/api/jira/connections/test", wantOK: false},
		{name: "connection status", path: "/api/jira/connection-status/abc", wantOK: false},
		{name: "refresh endpoint", path: "/api/jira/oauth/refresh-token", wantOK: false},
		{name: "unrelated", path: "/api/auth/me", wantOK: false},
		{name: "lookalike", path: "/api/jira/connectionsx/abc", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := ConnectionIDFromPath(tt.path)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func TestRequestAttempt(t *testing.T) {
	first := RequestAttempt{}
	retry := first.Retry()

	assert.False(t, first.Retried())
	assert.True(t, retry.Retried())
}

func TestRefreshTransport_ReplaysWithNewCredential(t *testing.T) {
	js := newJiraServer(t)
	js.refreshFn = func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer T1", r.Header.Get("Authorization"))

		var body RefreshTokenRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "abc", body.ConnectionID)

		writeJSON(w, http.StatusOK, RefreshTokenResponse{Success: true, AccessToken: "T2"})
	}
	srv := httptest.NewServer(js)
	defer srv.Close()

	c, store := newTestClient(t, srv, "T1")

	var conn JiraConnection
	err := c.Get(context.Background(), "/api/jira/connections/abc", &conn)
	require.NoError(t, err)

	assert.Equal(t, "conn-abc", conn.Name)
	assert.EqualValues(t, 1, js.refreshCalls.Load())

	token, err := store.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "T2", token)
}

func TestRefreshTransport_ReplaysRequestBody(t *testing.T) {
	var bodies []string
	var mu sync.Mutex

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == RefreshTokenPath {
			writeJSON(w, http.StatusOK, RefreshTokenResponse{Success: true, AccessToken: "T2"})
			return
		}

		var body SwitchResourceRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		bodies = append(bodies, r.Method+" "+body.ResourceID+" "+r.Header.Get("Content-Type"))
		mu.Unlock()

		if r.Header.Get("Authorization") != "Bearer T2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, MessageResponse{Message: "switched"})
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv, "T1")

	var resp MessageResponse
	err := c.Post(context.Background(), "/api/jira/switch-resource/abc", SwitchResourceRequest{ResourceID: "site-9"}, &resp)
	require.NoError(t, err)
	assert.Equal(t, "switched", resp.Message)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"POST site-9 application/json",
		"POST site-9 application/json",
	}, bodies)
}

func TestRefreshTransport_EmptyAccessTokenKeepsCredential(t *testing.T) {
	js := newJiraServer(t)
	js.validToken = "T1"
	calls := atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// First connection call fails; the server-side refresh fixes it.
		if r.URL.Path != RefreshTokenPath && calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path == RefreshTokenPath {
			js.refreshCalls.Add(1)
			writeJSON(w, http.StatusOK, RefreshTokenResponse{Success: true})
			return
		}
		js.ServeHTTP(w, r)
	}))
	defer srv.Close()

	c, store := newTestClient(t, srv, "T1")

	var conn JiraConnection
	require.NoError(t, c.Get(context.Background(), "/api/jira/connections/abc", &conn))
	assert.EqualValues(t, 1, js.refreshCalls.Load())

	token, err := store.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "T1", token)
}

func TestRefreshTransport_NonRefreshablePath(t *testing.T) {
	js := newJiraServer(t)
	srv := httptest.NewServer(js)
	defer srv.Close()

	c, _ := newTestClient(t, srv, "T1")

	err := c.Get(context.Background(), "/api/auth/me", nil)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsUnauthorized())
	assert.Equal(t, "Jira token expired", apiErr.Message)
	assert.Zero(t, js.refreshCalls.Load())
}

func TestRefreshTransport_TestEndpointIsNotRefreshable(t *testing.T) {
	js := newJiraServer(t)
	srv := httptest.NewServer(js)
	defer srv.Close()

	c, _ := newTestClient(t, srv, "T1")

	err := c.Post(context.Background(), "/api/jira/connections/test", JiraConnectionTest{JiraURL: "https://x.atlassian.net"}, nil)
	assert.True(t, IsUnauthorized(err))
	assert.Zero(t, js.refreshCalls.Load())
}

func TestRefreshTransport_RetriedRequestIsNotRefreshedAgain(t *testing.T) {
	js := newJiraServer(t)
	js.validToken = "never"
	srv := httptest.NewServer(js)
	defer srv.Close()

	c, _ := newTestClient(t, srv, "T1")

	err := c.Get(context.Background(), "/api/jira/connections/abc", nil)
	assert.True(t, IsUnauthorized(err), "got %v", err)
	assert.EqualValues(t, 1, js.refreshCalls.Load())
}

func TestRefreshTransport_RefreshFailure(t *testing.T) {
	tests := []struct {
		name    string
		handler func(w http.ResponseWriter, r *http.Request)
		check   func(t *testing.T, err error)
	}{
		{
			name: "server reports failure",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, RefreshTokenResponse{Success: false, Message: "refresh token revoked"})
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrRefreshRejected)
				assert.Contains(t, err.Error(), "refresh token revoked")
			},
		},
		{
			name: "http error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusBadGateway, map[string]string{"detail": "atlassian unavailable"})
			},
			check: func(t *testing.T, err error) {
				var apiErr *APIError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("<html>"))
			},
			check: func(t *testing.T, err error) {
				assert.Contains(t, err.Error(), "failed to parse refresh response")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			js := newJiraServer(t)
			js.refreshFn = tt.handler
			srv := httptest.NewServer(js)
			defer srv.Close()

			c, store := newTestClient(t, srv, "T1")

			err := c.Get(context.Background(), "/api/jira/connections/abc", nil)

			var refreshErr *RefreshError
			require.ErrorAs(t, err, &refreshErr)
			assert.Equal(t, "abc", refreshErr.ConnectionID)
			tt.check(t, err)

			token, readErr := store.Read(context.Background())
			require.NoError(t, readErr)
			assert.Equal(t, "T1", token)
			assert.False(t, c.refresh.state.active())
		})
	}
}

func TestRefreshTransport_FailureThenNewRefresh(t *testing.T) {
	js := newJiraServer(t)
	fail := atomic.Bool{}
	fail.Store(true)
	js.refreshFn = func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			writeJSON(w, http.StatusOK, RefreshTokenResponse{Success: false})
			return
		}
		writeJSON(w, http.StatusOK, RefreshTokenResponse{Success: true, AccessToken: "T2"})
	}
	srv := httptest.NewServer(js)
	defer srv.Close()

	c, _ := newTestClient(t, srv, "T1")

	err := c.Get(context.Background(), "/api/jira/connections/abc", nil)
	var refreshErr *RefreshError
	require.ErrorAs(t, err, &refreshErr)
	assert.EqualValues(t, 1, js.refreshCalls.Load())

	fail.Store(false)
	require.NoError(t, c.Get(context.Background(), "/api/jira/connections/abc", nil))
	assert.EqualValues(t, 2, js.refreshCalls.Load())
}

// hangingRefresh answers the refresh call only after release is closed.
// The body is drained first so the server notices the client going away.
func hangingRefresh(release <-chan struct{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}
}

func TestRefreshTransport_RefreshTimeout(t *testing.T) {
	release := make(chan struct{})
	js := newJiraServer(t)
	js.refreshFn = hangingRefresh(release)
	srv := httptest.NewServer(js)
	defer srv.Close()
	defer close(release)

	c, _ := newTestClient(t, srv, "T1", WithRefreshTimeout(50*time.Millisecond))

	err := c.Get(context.Background(), "/api/jira/connections/abc", nil)

	var refreshErr *RefreshError
	require.ErrorAs(t, err, &refreshErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, c.refresh.state.active())
}

// startBlockedRefresh issues the leader request and waits until its refresh is in flight.
func startBlockedRefresh(t *testing.T, c *Client, js *jiraServer, path string, errs chan<- error) {
	t.Helper()
	go func() {
		errs <- c.Get(context.Background(), path, nil)
	}()
	select {
	case <-js.refreshStart:
	case <-time.After(5 * time.Second):
		t.Fatal("refresh was not started")
	}
}

// enqueue issues a request and waits until it is queued behind the refresh.
func enqueue(t *testing.T, ctx context.Context, c *Client, path string, want int, errs chan<- error) {
	t.Helper()
	go func() {
		errs <- c.Get(ctx, path, nil)
	}()
	require.Eventually(t, func() bool {
		return c.refresh.state.queued() == want
	}, 5*time.Second, 5*time.Millisecond)
}

func TestRefreshTransport_SingleFlightReplaysInArrivalOrder(t *testing.T) {
	release := make(chan struct{})
	js := newJiraServer(t)
	js.refreshFn = func(w http.ResponseWriter, r *http.Request) {
		<-release
		writeJSON(w, http.StatusOK, RefreshTokenResponse{Success: true, AccessToken: "T2"})
	}
	srv := httptest.NewServer(js)
	defer srv.Close()

	m := metrics.New()
	c, _ := newTestClient(t, srv, "T1", WithMetrics(m))

	const n = 5
	errs := make(chan error, n)
	startBlockedRefresh(t, c, js, "/api/jira/connections/abc?n=0", errs)
	for i := 1; i < n; i++ {
		path := "/api/jira/connections/abc?n=" + string(rune('0'+i))
		enqueue(t, context.Background(), c, path, i, errs)
	}
	close(release)

	for i := 0; i < n; i++ {
		select {
		case err := <-errs:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("request did not settle")
		}
	}

	assert.EqualValues(t, 1, js.refreshCalls.Load())
	assert.Equal(t, []string{
		"/api/jira/connections/abc?n=0",
		"/api/jira/connections/abc?n=1",
		"/api/jira/connections/abc?n=2",
		"/api/jira/connections/abc?n=3",
		"/api/jira/connections/abc?n=4",
	}, js.replayed())

	assert.Equal(t, float64(1), testutil.ToFloat64(m.TokenRefreshes.WithLabelValues(metrics.RefreshSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Replays.WithLabelValues(metrics.ReplayLeader)))
	assert.Equal(t, float64(n-1), testutil.ToFloat64(m.Replays.WithLabelValues(metrics.ReplayQueued)))
	assert.Equal(t, float64(n), testutil.ToFloat64(
		m.APIRequests.WithLabelValues(http.MethodGet, "/api/jira/connections/:id", "401")))
}

func TestRefreshTransport_SharedRefreshAcrossEndpoints(t *testing.T) {
	release := make(chan struct{})
	js := newJiraServer(t)
	js.refreshFn = func(w http.ResponseWriter, r *http.Request) {
		<-release
		writeJSON(w, http.StatusOK, RefreshTokenResponse{Success: true, AccessToken: "T2"})
	}
	srv := httptest.NewServer(js)
	defer srv.Close()

	c, _ := newTestClient(t, srv, "T1")

	errs := make(chan error, 2)
	startBlockedRefresh(t, c, js, "/api/jira/connections/abc", errs)
	enqueue(t, context.Background(), c, "/api/jira/accessible-resources/abc", 1, errs)
	close(release)

	for i := 0; i < 2; i++ {
		require.NoError(t, <-errs)
	}

	assert.EqualValues(t, 1, js.refreshCalls.Load())
	assert.Equal(t, []string{
		"/api/jira/connections/abc?",
		"/api/jira/accessible-resources/abc?",
	}, js.replayed())
}

func TestRefreshTransport_FailureRejectsQueue(t *testing.T) {
	release := make(chan struct{})
	js := newJiraServer(t)
	js.refreshFn = func(w http.ResponseWriter, r *http.Request) {
		<-release
		writeJSON(w, http.StatusOK, RefreshTokenResponse{Success: false, Message: "consent withdrawn"})
	}
	srv := httptest.NewServer(js)
	defer srv.Close()

	m := metrics.New()
	c, _ := newTestClient(t, srv, "T1", WithMetrics(m))

	const n = 3
	errs := make(chan error, n)
	startBlockedRefresh(t, c, js, "/api/jira/connections/abc", errs)
	for i := 1; i < n; i++ {
		enqueue(t, context.Background(), c, "/api/jira/switch-resource/abc", i, errs)
	}
	close(release)

	for i := 0; i < n; i++ {
		err := <-errs
		var refreshErr *RefreshError
		require.ErrorAs(t, err, &refreshErr)
		assert.ErrorIs(t, err, ErrRefreshRejected)
	}

	assert.EqualValues(t, 1, js.refreshCalls.Load())
	assert.Empty(t, js.replayed())
	assert.False(t, c.refresh.state.active())
	assert.Zero(t, c.refresh.state.queued())
	assert.Equal(t, float64(n-1), testutil.ToFloat64(m.Replays.WithLabelValues(metrics.ReplayReject)))
}

func TestRefreshTransport_QueuedCallerCancels(t *testing.T) {
	release := make(chan struct{})
	js := newJiraServer(t)
	js.refreshFn = func(w http.ResponseWriter, r *http.Request) {
		<-release
		writeJSON(w, http.StatusOK, RefreshTokenResponse{Success: true, AccessToken: "T2"})
	}
	srv := httptest.NewServer(js)
	defer srv.Close()

	c, _ := newTestClient(t, srv, "T1")

	leaderErrs := make(chan error, 1)
	startBlockedRefresh(t, c, js, "/api/jira/connections/abc?n=leader", leaderErrs)

	ctx, cancel := context.WithCancel(context.Background())
	queuedErrs := make(chan error, 1)
	enqueue(t, ctx, c, "/api/jira/connections/abc?n=cancelled", 1, queuedErrs)

	cancel()
	err := <-queuedErrs
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	require.NoError(t, <-leaderErrs)

	assert.Eventually(t, func() bool { return !c.refresh.state.active() }, time.Second, 5*time.Millisecond)
	for _, p := range js.replayed() {
		assert.False(t, strings.HasSuffix(p, "cancelled"), "cancelled request was replayed")
	}
}

func TestRefreshTransport_CustomRefresher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, []AccessibleResource{{ID: "site-1", Name: "Acme"}})
	}))
	defer srv.Close()

	var seen []string
	refresher := RefresherFunc(func(ctx context.Context, connectionID string) (string, error) {
		seen = append(seen, connectionID)
		if connectionID == "broken" {
			return "", errors.New("no refresh token")
		}
		return "fresh", nil
	})
	c, _ := newTestClient(t, srv, "stale", WithRefresher(refresher))

	var resources []AccessibleResource
	require.NoError(t, c.Get(context.Background(), "/api/jira/accessible-resources/c-1", &resources))
	assert.Equal(t, "Acme", resources[0].Name)

	require.NoError(t, c.Credentials().Write(context.Background(), "stale"))
	err := c.Get(context.Background(), "/api/jira/accessible-resources/broken", &resources)
	var refreshErr *RefreshError
	require.ErrorAs(t, err, &refreshErr)
	assert.Equal(t, "broken", refreshErr.ConnectionID)

	assert.Equal(t, []string{"c-1", "broken"}, seen)
}

func TestClient_RefreshConnection(t *testing.T) {
	js := newJiraServer(t)
	srv := httptest.NewServer(js)
	defer srv.Close()

	collectors := metrics.New()
	c, store := newTestClient(t, srv, "T1", WithMetrics(collectors))

	token, err := c.RefreshConnection(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "T2", token)

	current, err := store.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "T2", current)
	assert.Equal(t, 1.0, testutil.ToFloat64(collectors.TokenRefreshes.WithLabelValues(metrics.RefreshSuccess)))

	require.NoError(t, c.Get(context.Background(), "/api/jira/connections/abc", nil))
	assert.EqualValues(t, 1, js.refreshCalls.Load(), "the stored token is used without another refresh")
}

func TestClient_RefreshConnectionTimeout(t *testing.T) {
	release := make(chan struct{})
	js := newJiraServer(t)
	js.refreshFn = hangingRefresh(release)
	srv := httptest.NewServer(js)
	defer srv.Close()
	defer close(release)

	c, store := newTestClient(t, srv, "T1", WithRefreshTimeout(50*time.Millisecond))

	_, err := c.RefreshConnection(context.Background(), "abc")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	current, err := store.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "T1", current)
}
