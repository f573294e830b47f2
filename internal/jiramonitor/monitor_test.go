package jiramonitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crview/crview-cli/internal/api"
	"github.com/crview/crview-cli/internal/logging"
)

// fakeJira is a mock StatusChecker with function fields.
type fakeJira struct {
	mu        sync.Mutex
	checks    map[string]int
	refreshes []string

	ConnectionStatusFunc func(ctx context.Context, id string) (*api.ConnectionStatus, error)
	RefreshTokenFunc     func(ctx context.Context, id string) (string, error)
}

func (f *fakeJira) ConnectionStatus(ctx context.Context, id string) (*api.ConnectionStatus, error) {
	f.mu.Lock()
	if f.checks == nil {
		f.checks = map[string]int{}
	}
	f.checks[id]++
	f.mu.Unlock()
	return f.ConnectionStatusFunc(ctx, id)
}

func (f *fakeJira) RefreshToken(ctx context.Context, id string) (string, error) {
	f.mu.Lock()
	f.refreshes = append(f.refreshes, id)
	f.mu.Unlock()
	if f.RefreshTokenFunc != nil {
		return f.RefreshTokenFunc(ctx, id)
	}
	return "", nil
}

func (f *fakeJira) checkCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checks[id]
}

func (f *fakeJira) refreshed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.refreshes...)
}

func statusOf(tokenStatus string) func(context.Context, string) (*api.ConnectionStatus, error) {
	return func(_ context.Context, id string) (*api.ConnectionStatus, error) {
		return &api.ConnectionStatus{ConnectionID: id, TokenStatus: tokenStatus, JiraURL: "https://acme.atlassian.net"}, nil
	}
}

func newTestMonitor(jira StatusChecker, opts ...Option) *Monitor {
	return New(jira, append([]Option{WithLogger(logging.Discard())}, opts...)...)
}

func drain(m *Monitor) []Event {
	var events []Event
	for {
		select {
		case ev := <-m.Events():
			events = append(events, ev)
		default:
			return events
		}
	}
}

func TestMonitor_Check(t *testing.T) {
	tests := []struct {
		name        string
		tokenStatus string
		wantRefresh bool
	}{
		{name: "valid", tokenStatus: api.TokenValid},
		{name: "expiring soon", tokenStatus: api.TokenExpiringSoon, wantRefresh: true},
		{name: "expired", tokenStatus: api.TokenExpired, wantRefresh: true},
		{name: "unknown", tokenStatus: "revoked"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jira := &fakeJira{ConnectionStatusFunc: statusOf(tt.tokenStatus)}
			m := newTestMonitor(jira)

			status, err := m.Check(context.Background(), "c1")
			require.NoError(t, err)
			assert.Equal(t, tt.tokenStatus, status.TokenStatus)

			events := drain(m)
			require.NotEmpty(t, events)
			assert.Equal(t, KindStatus, events[0].Kind)

			if tt.wantRefresh {
				assert.Equal(t, []string{"c1"}, jira.refreshed())
				require.Len(t, events, 2)
				assert.Equal(t, KindRefreshed, events[1].Kind)
			} else {
				assert.Empty(t, jira.refreshed())
				assert.Len(t, events, 1)
			}
		})
	}
}

func TestMonitor_CheckRefreshFailure(t *testing.T) {
	refreshErr := errors.New("refresh token revoked")
	jira := &fakeJira{
		ConnectionStatusFunc: statusOf(api.TokenExpired),
		RefreshTokenFunc: func(context.Context, string) (string, error) {
			return "", refreshErr
		},
	}
	m := newTestMonitor(jira)

	status, err := m.Check(context.Background(), "c1")
	assert.ErrorIs(t, err, refreshErr)
	require.NotNil(t, status)

	events := drain(m)
	require.Len(t, events, 2)
	assert.Equal(t, KindRefreshFailed, events[1].Kind)
	assert.ErrorIs(t, events[1].Err, refreshErr)
}

func TestMonitor_CheckUnauthorizedTriggersRefresh(t *testing.T) {
	unauthorized := &api.APIError{StatusCode: 401, Message: "token expired"}
	jira := &fakeJira{
		ConnectionStatusFunc: func(context.Context, string) (*api.ConnectionStatus, error) {
			return nil, unauthorized
		},
	}
	m := newTestMonitor(jira)

	_, err := m.Check(context.Background(), "c1")
	assert.ErrorIs(t, err, unauthorized)
	assert.Equal(t, []string{"c1"}, jira.refreshed())
}

func TestMonitor_CheckOtherErrorDoesNotRefresh(t *testing.T) {
	jira := &fakeJira{
		ConnectionStatusFunc: func(context.Context, string) (*api.ConnectionStatus, error) {
			return nil, &api.APIError{StatusCode: 500, Message: "boom"}
		},
	}
	m := newTestMonitor(jira)

	_, err := m.Check(context.Background(), "c1")
	assert.Error(t, err)
	assert.Empty(t, jira.refreshed())

	events := drain(m)
	require.Len(t, events, 1)
	assert.Equal(t, StatusError, events[0].Status)
	assert.Error(t, events[0].Err)
}

func TestMonitor_StartChecksImmediatelyAndPeriodically(t *testing.T) {
	jira := &fakeJira{ConnectionStatusFunc: statusOf(api.TokenValid)}
	m := newTestMonitor(jira, WithInterval(20*time.Millisecond))

	m.Start(context.Background(), "c1")
	assert.True(t, m.Watching("c1"))

	require.Eventually(t, func() bool { return jira.checkCount("c1") >= 3 }, 2*time.Second, 5*time.Millisecond)

	m.Stop("c1")
	assert.False(t, m.Watching("c1"))

	stopped := jira.checkCount("c1")
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, stopped, jira.checkCount("c1"), "no checks after Stop")
}

func TestMonitor_StartRestartsAndStopAll(t *testing.T) {
	jira := &fakeJira{ConnectionStatusFunc: statusOf(api.TokenValid)}
	m := newTestMonitor(jira, WithInterval(time.Hour))

	m.Start(context.Background(), "c1")
	m.Start(context.Background(), "c1")
	m.Start(context.Background(), "c2")

	require.Eventually(t, func() bool {
		return jira.checkCount("c1") == 2 && jira.checkCount("c2") == 1
	}, 2*time.Second, 5*time.Millisecond)

	m.StopAll()
	assert.False(t, m.Watching("c1"))
	assert.False(t, m.Watching("c2"))
}

func TestMonitor_StopsWithContext(t *testing.T) {
	jira := &fakeJira{ConnectionStatusFunc: statusOf(api.TokenValid)}
	m := newTestMonitor(jira, WithInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx, "c1")
	require.Eventually(t, func() bool { return jira.checkCount("c1") >= 1 }, time.Second, 5*time.Millisecond)
	cancel()

	m.Stop("c1")
	stopped := jira.checkCount("c1")
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, stopped, jira.checkCount("c1"))
}

func TestMonitor_ContextCancelForgetsWatcher(t *testing.T) {
	jira := &fakeJira{ConnectionStatusFunc: statusOf(api.TokenValid)}
	m := newTestMonitor(jira, WithInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx, "c1")
	m.Start(context.Background(), "c2")
	require.True(t, m.Watching("c1"))

	cancel()

	require.Eventually(t, func() bool { return !m.Watching("c1") }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, m.Watching("c2"))

	m.Start(context.Background(), "c1")
	assert.True(t, m.Watching("c1"), "a new watcher is registered after the old one ended")

	m.StopAll()
}

func TestMonitor_RefreshAll(t *testing.T) {
	jira := &fakeJira{
		RefreshTokenFunc: func(_ context.Context, id string) (string, error) {
			if id == "bad" {
				return "", errors.New("refresh rejected")
			}
			return "", nil
		},
	}
	m := newTestMonitor(jira)

	results := m.RefreshAll(context.Background(), []string{"a", "bad", "b"})

	assert.Equal(t, []string{"a", "bad", "b"}, jira.refreshed(), "refreshes run in order")
	assert.Equal(t, []RefreshResult{
		{ConnectionID: "a", Success: true},
		{ConnectionID: "bad", Success: false, Error: "refresh rejected"},
		{ConnectionID: "b", Success: true},
	}, results)
}

func TestMonitor_Health(t *testing.T) {
	jira := &fakeJira{
		ConnectionStatusFunc: func(ctx context.Context, id string) (*api.ConnectionStatus, error) {
			switch id {
			case "ok":
				return statusOf(api.TokenValid)(ctx, id)
			case "soon":
				return statusOf(api.TokenExpiringSoon)(ctx, id)
			default:
				return nil, &api.APIError{StatusCode: 404, Message: "Connection not found"}
			}
		},
	}
	m := newTestMonitor(jira)

	health, err := m.Health(context.Background(), []string{"ok", "soon", "missing"})
	require.NoError(t, err)
	require.Len(t, health, 3)

	assert.Equal(t, "ok", health[0].ConnectionID)
	assert.True(t, health[0].IsHealthy)
	assert.Equal(t, "connection healthy", health[0].Message)
	assert.Equal(t, "https://acme.atlassian.net", health[0].JiraURL)

	assert.False(t, health[1].IsHealthy)
	assert.Equal(t, "token expiring soon, refreshing automatically", health[1].Message)

	assert.Equal(t, StatusError, health[2].Status)
	assert.False(t, health[2].IsHealthy)
	assert.Equal(t, "connection error", health[2].Message)
	assert.Contains(t, health[2].Error, "Connection not found")
}

func TestStatusMessage(t *testing.T) {
	assert.Equal(t, "token expired, refreshing", StatusMessage(api.TokenExpired))
	assert.Equal(t, "unknown status", StatusMessage("weird"))
}
