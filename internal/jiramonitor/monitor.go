// Package jiramonitor watches the token status of Jira connections and refreshes
// tokens before they expire.
package jiramonitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/crview/crview-cli/internal/api"
)

// DefaultInterval is the time between status checks of a watched connection.
const DefaultInterval = 5 * time.Minute

// healthConcurrency bounds parallel status checks in Health.
const healthConcurrency = 4

// StatusChecker is the part of the Jira service the monitor needs.
type StatusChecker interface {
	ConnectionStatus(ctx context.Context, connectionID string) (*api.ConnectionStatus, error)
	RefreshToken(ctx context.Context, connectionID string) (string, error)
}

// EventKind identifies a monitor event.
type EventKind string

const (
	KindStatus        EventKind = "status"
	KindRefreshed     EventKind = "refreshed"
	KindRefreshFailed EventKind = "refresh_failed"
)

// Event reports a status check or refresh outcome.
type Event struct {
	ConnectionID string
	Kind         EventKind
	Status       string
	Err          error
	Time         time.Time
}

// RefreshResult is the outcome of one refresh in RefreshAll.
type RefreshResult struct {
	ConnectionID string `json:"connection_id" yaml:"connection_id"`
	Success      bool   `json:"success" yaml:"success"`
	Error        string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Health summarises a connection for display.
type Health struct {
	ConnectionID string        `json:"connection_id" yaml:"connection_id"`
	Status       string        `json:"status" yaml:"status"`
	IsHealthy    bool          `json:"is_healthy" yaml:"is_healthy"`
	ExpiresAt    api.Timestamp `json:"expires_at" yaml:"expires_at"`
	JiraURL      string        `json:"jira_url,omitempty" yaml:"jira_url,omitempty"`
	LastSync     api.Timestamp `json:"last_sync" yaml:"last_sync"`
	Message      string        `json:"message" yaml:"message"`
	Error        string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// StatusError is the Health status of a connection whose check failed.
const StatusError = "error"

var statusMessages = map[string]string{
	api.TokenValid:        "connection healthy",
	api.TokenExpiringSoon: "token expiring soon, refreshing automatically",
	api.TokenExpired:      "token expired, refreshing",
	StatusError:           "connection error",
}

// StatusMessage returns the human readable text for a token status.
func StatusMessage(status string) string {
	if msg, ok := statusMessages[status]; ok {
		return msg
	}
	return "unknown status"
}

// Monitor runs one periodic status check per watched connection.
type Monitor struct {
	jira     StatusChecker
	interval time.Duration
	logger   *slog.Logger
	events   chan Event

	mu       sync.Mutex
	watchers map[string]*watcher
}

type watcher struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the time between checks.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithLogger sets the monitor logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithEventBuffer sets the capacity of the event channel.
func WithEventBuffer(n int) Option {
	return func(m *Monitor) { m.events = make(chan Event, n) }
}

// New creates a monitor.
func New(jira StatusChecker, opts ...Option) *Monitor {
	m := &Monitor{
		jira:     jira,
		interval: DefaultInterval,
		logger:   slog.Default(),
		events:   make(chan Event, 64),
		watchers: make(map[string]*watcher),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Events returns the event channel. Events are dropped when nobody drains it.
func (m *Monitor) Events() <-chan Event {
	return m.events
}

// Start watches a connection: it checks at once, then every interval until
// Stop, StopAll or ctx cancellation. Starting a watched connection restarts it.
func (m *Monitor) Start(ctx context.Context, connectionID string) {
	if connectionID == "" {
		return
	}
	m.Stop(connectionID)

	ctx, cancel := context.WithCancel(ctx)
	w := &watcher{cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	m.watchers[connectionID] = w
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "started monitoring jira connection", "connection_id", connectionID, "interval", m.interval)

	go func() {
		defer close(w.done)
		defer m.forget(connectionID, w)
		m.watch(ctx, connectionID)
	}()
}

func (m *Monitor) watch(ctx context.Context, connectionID string) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	_, _ = m.Check(ctx, connectionID)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = m.Check(ctx, connectionID)
		}
	}
}

// forget drops the entry of a watcher that ended on its own, unless it was replaced.
func (m *Monitor) forget(connectionID string, w *watcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watchers[connectionID] == w {
		delete(m.watchers, connectionID)
	}
}

// Stop ends the watcher of a connection and waits for it to exit.
func (m *Monitor) Stop(connectionID string) {
	m.mu.Lock()
	w, ok := m.watchers[connectionID]
	delete(m.watchers, connectionID)
	m.mu.Unlock()

	if !ok {
		return
	}
	w.cancel()
	<-w.done
	m.logger.Info("stopped monitoring jira connection", "connection_id", connectionID)
}

// StopAll ends every watcher.
func (m *Monitor) StopAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.watchers))
	for id := range m.watchers {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Stop(id)
	}
}

// Watching reports whether a connection has a running watcher.
func (m *Monitor) Watching(connectionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.watchers[connectionID]
	return ok
}

// Check fetches the connection status and refreshes the token when it is
// expired or about to expire. A 401 from the status endpoint also triggers a
// refresh; the status error is returned either way.
func (m *Monitor) Check(ctx context.Context, connectionID string) (*api.ConnectionStatus, error) {
	status, err := m.jira.ConnectionStatus(ctx, connectionID)
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to check jira connection status", "connection_id", connectionID, "error", err)
		m.emit(Event{ConnectionID: connectionID, Kind: KindStatus, Status: StatusError, Err: err})
		if api.IsUnauthorized(err) {
			m.logger.InfoContext(ctx, "refreshing jira token after unauthorized status check", "connection_id", connectionID)
			_ = m.Refresh(ctx, connectionID)
		}
		return nil, err
	}

	m.logger.DebugContext(ctx, "jira connection status", "connection_id", connectionID, "token_status", status.TokenStatus)
	m.emit(Event{ConnectionID: connectionID, Kind: KindStatus, Status: status.TokenStatus})

	switch status.TokenStatus {
	case api.TokenExpired:
		m.logger.WarnContext(ctx, "jira token expired, refreshing", "connection_id", connectionID)
		if err := m.Refresh(ctx, connectionID); err != nil {
			return status, err
		}
	case api.TokenExpiringSoon:
		m.logger.InfoContext(ctx, "jira token expiring soon, refreshing", "connection_id", connectionID)
		if err := m.Refresh(ctx, connectionID); err != nil {
			return status, err
		}
	case api.TokenValid:
	default:
		m.logger.WarnContext(ctx, "unknown jira token status", "connection_id", connectionID, "token_status", status.TokenStatus)
	}

	return status, nil
}

// Refresh refreshes one connection's token and reports the outcome as an event.
func (m *Monitor) Refresh(ctx context.Context, connectionID string) error {
	if _, err := m.jira.RefreshToken(ctx, connectionID); err != nil {
		m.logger.ErrorContext(ctx, "failed to refresh jira token", "connection_id", connectionID, "error", err)
		m.emit(Event{ConnectionID: connectionID, Kind: KindRefreshFailed, Err: err})
		return err
	}

	m.logger.InfoContext(ctx, "refreshed jira token", "connection_id", connectionID)
	m.emit(Event{ConnectionID: connectionID, Kind: KindRefreshed})
	return nil
}

// RefreshAll refreshes the connections one after another.
func (m *Monitor) RefreshAll(ctx context.Context, connectionIDs []string) []RefreshResult {
	results := make([]RefreshResult, 0, len(connectionIDs))
	for _, id := range connectionIDs {
		result := RefreshResult{ConnectionID: id, Success: true}
		if err := m.Refresh(ctx, id); err != nil {
			result.Success = false
			result.Error = err.Error()
		}
		results = append(results, result)
	}
	return results
}

// Health checks the connections concurrently. A failed check yields an
// error record rather than failing the whole call.
func (m *Monitor) Health(ctx context.Context, connectionIDs []string) ([]Health, error) {
	results := make([]Health, len(connectionIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(healthConcurrency)

	for i, id := range connectionIDs {
		g.Go(func() error {
			results[i] = m.health(gctx, id)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (m *Monitor) health(ctx context.Context, connectionID string) Health {
	status, err := m.Check(ctx, connectionID)
	if status == nil {
		return Health{
			ConnectionID: connectionID,
			Status:       StatusError,
			Message:      StatusMessage(StatusError),
			Error:        err.Error(),
		}
	}

	h := Health{
		ConnectionID: connectionID,
		Status:       status.TokenStatus,
		IsHealthy:    status.TokenStatus == api.TokenValid,
		ExpiresAt:    status.TokenExpiresAt,
		JiraURL:      status.JiraURL,
		LastSync:     status.LastSyncAt,
		Message:      StatusMessage(status.TokenStatus),
	}
	if err != nil {
		h.Error = err.Error()
	}
	return h
}

func (m *Monitor) emit(ev Event) {
	ev.Time = time.Now()
	select {
	case m.events <- ev:
	default:
		m.logger.Debug("dropped jira monitor event", "connection_id", ev.ConnectionID, "kind", ev.Kind)
	}
}
