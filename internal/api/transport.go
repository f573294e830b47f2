package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"sync"
	"time"

	"github.com/crview/crview-cli/internal/credstore"
	"github.com/crview/crview-cli/internal/metrics"
)

// connectionPathRe matches Jira endpoints whose path carries a connection ID.
// A 401 on these paths means the connection's Jira token needs a refresh.
var connectionPathRe = regexp.MustCompile(`(?:^|/)api/jira/(connections|accessible-resources|switch-resource)/([^/?#]+)`)

// reservedConnectionSegments are path segments that look like IDs but name an action.
var reservedConnectionSegments = map[string]bool{
	"test": true,
}

// ConnectionIDFromPath extracts the Jira connection ID from a refreshable request path.
func ConnectionIDFromPath(path string) (string, bool) {
	m := connectionPathRe.FindStringSubmatch(path)
	if m == nil || reservedConnectionSegments[m[2]] {
		return "", false
	}
	id, err := url.PathUnescape(m[2])
	if err != nil || id == "" {
		return "", false
	}
	return id, true
}

// RequestAttempt describes one send of a logical request.
// It is a value: a replay gets a new attempt rather than mutating the old one.
type RequestAttempt struct {
	retried bool
}

// Retried reports whether this attempt is a replay after a token refresh.
func (a RequestAttempt) Retried() bool {
	return a.retried
}

// Retry returns the attempt used to replay a request after a refresh.
func (a RequestAttempt) Retry() RequestAttempt {
	return RequestAttempt{retried: true}
}

// requestSnapshot holds enough of a request to send it again.
type requestSnapshot struct {
	method string
	url    *url.URL
	header http.Header
	body   []byte
}

func snapshotRequest(req *http.Request) (*requestSnapshot, error) {
	snap := &requestSnapshot{
		method: req.Method,
		url:    req.URL,
		header: req.Header.Clone(),
	}
	if req.Body != nil && req.Body != http.NoBody {
		body, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		snap.body = body
	}
	return snap, nil
}

func (s *requestSnapshot) build(ctx context.Context) (*http.Request, error) {
	var body io.Reader
	if s.body != nil {
		body = bytes.NewReader(s.body)
	}
	req, err := http.NewRequestWithContext(ctx, s.method, s.url.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild request: %w", err)
	}
	req.Header = s.header.Clone()
	return req, nil
}

type roundTripResult struct {
	resp *http.Response
	err  error
}

// pendingRequest is a request that got a 401 while a refresh was in flight.
type pendingRequest struct {
	ctx  context.Context
	snap *requestSnapshot
	done chan roundTripResult

	mu        sync.Mutex
	abandoned bool
}

func newPendingRequest(ctx context.Context, snap *requestSnapshot) *pendingRequest {
	return &pendingRequest{
		ctx:  ctx,
		snap: snap,
		done: make(chan roundTripResult, 1),
	}
}

// settle delivers the outcome. A response nobody is waiting for is closed.
func (p *pendingRequest) settle(resp *http.Response, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.abandoned {
		if resp != nil {
			resp.Body.Close()
		}
		return
	}
	p.done <- roundTripResult{resp: resp, err: err}
}

func (p *pendingRequest) wait() (*http.Response, error) {
	select {
	case r := <-p.done:
		return r.resp, r.err
	case <-p.ctx.Done():
		p.mu.Lock()
		p.abandoned = true
		p.mu.Unlock()
		select {
		case r := <-p.done:
			if r.resp != nil {
				r.resp.Body.Close()
			}
		default:
		}
		return nil, p.ctx.Err()
	}
}

// refreshState is the single-flight flag and the FIFO of requests waiting on it.
type refreshState struct {
	mu       sync.Mutex
	inFlight bool
	queue    []*pendingRequest
}

// begin claims the refresh when none is in flight. Otherwise it queues p and returns false.
func (s *refreshState) begin(p *pendingRequest) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		s.queue = append(s.queue, p)
		return false
	}
	s.inFlight = true
	return true
}

// settle clears the flag and hands back everything that queued during the refresh.
func (s *refreshState) settle() []*pendingRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	queue := s.queue
	s.queue = nil
	s.inFlight = false
	return queue
}

func (s *refreshState) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

func (s *refreshState) queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// RefreshTransport is an http.RoundTripper that refreshes the Jira token on 401.
//
// A 401 on a connection path starts one refresh; 401s arriving while it runs
// are queued. When the refresh succeeds the failed request is replayed first,
// then the queue in arrival order. When it fails every waiter gets a *RefreshError.
// A replayed request that gets 401 again is returned as is.
type RefreshTransport struct {
	base      http.RoundTripper
	refresher Refresher
	creds     credstore.Store
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *metrics.Collectors

	state refreshState
}

type refreshOption func(*RefreshTransport)

func withRefreshTimeout(d time.Duration) refreshOption {
	return func(t *RefreshTransport) {
		if d > 0 {
			t.timeout = d
		}
	}
}

func withRefreshLogger(l *slog.Logger) refreshOption {
	return func(t *RefreshTransport) {
		if l != nil {
			t.logger = l
		}
	}
}

func withRefreshMetrics(m *metrics.Collectors) refreshOption {
	return func(t *RefreshTransport) { t.metrics = m }
}

// NewRefreshTransport wraps base. base must attach the credential from creds to each request.
func NewRefreshTransport(base http.RoundTripper, refresher Refresher, creds credstore.Store, opts ...refreshOption) *RefreshTransport {
	t := &RefreshTransport{
		base:      base,
		refresher: refresher,
		creds:     creds,
		timeout:   DefaultRefreshTimeout,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RoundTrip implements http.RoundTripper.
func (t *RefreshTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	snap, err := snapshotRequest(req)
	if err != nil {
		return nil, err
	}
	return t.send(req.Context(), snap, RequestAttempt{})
}

func (t *RefreshTransport) send(ctx context.Context, snap *requestSnapshot, attempt RequestAttempt) (*http.Response, error) {
	out, err := snap.build(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := t.base.RoundTrip(out)
	if err != nil || resp.StatusCode != http.StatusUnauthorized || attempt.Retried() {
		return resp, err
	}

	connectionID, ok := ConnectionIDFromPath(snap.url.Path)
	if !ok {
		return resp, nil
	}

	pending := newPendingRequest(ctx, snap)
	if !t.state.begin(pending) {
		discardBody(resp)
		t.logger.DebugContext(ctx, "queued request behind token refresh",
			"method", snap.method, "path", snap.url.Path)
		return pending.wait()
	}
	discardBody(resp)

	return t.refreshAndReplay(ctx, connectionID, snap)
}

func (t *RefreshTransport) refreshAndReplay(ctx context.Context, connectionID string, snap *requestSnapshot) (*http.Response, error) {
	t.logger.InfoContext(ctx, "refreshing jira token", "connection_id", connectionID)

	// The refresh outlives the caller that triggered it: other requests may be queued on it.
	refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.timeout)
	_, err := t.refreshCredential(refreshCtx, connectionID)
	cancel()

	queue := t.state.settle()

	if err != nil {
		t.metrics.ObserveRefresh(metrics.RefreshFailure)
		t.logger.WarnContext(ctx, "jira token refresh failed",
			"connection_id", connectionID, "queued", len(queue), "error", err)

		refreshErr := &RefreshError{ConnectionID: connectionID, Err: err}
		for _, p := range queue {
			t.metrics.ObserveReplay(metrics.ReplayReject)
			p.settle(nil, refreshErr)
		}
		return nil, refreshErr
	}

	t.metrics.ObserveRefresh(metrics.RefreshSuccess)
	t.logger.InfoContext(ctx, "jira token refreshed",
		"connection_id", connectionID, "queued", len(queue))

	t.metrics.ObserveReplay(metrics.ReplayLeader)
	resp, respErr := t.send(ctx, snap, RequestAttempt{}.Retry())

	if len(queue) > 0 {
		go t.replay(queue)
	}
	return resp, respErr
}

// Refresh refreshes the Jira token of a connection outside a request and
// stores the returned access token as the session credential, as a 401 does.
func (t *RefreshTransport) Refresh(ctx context.Context, connectionID string) (string, error) {
	refreshCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	token, err := t.refreshCredential(refreshCtx, connectionID)
	if err != nil {
		t.metrics.ObserveRefresh(metrics.RefreshFailure)
		t.logger.WarnContext(ctx, "jira token refresh failed", "connection_id", connectionID, "error", err)
		return "", err
	}
	t.metrics.ObserveRefresh(metrics.RefreshSuccess)
	t.logger.InfoContext(ctx, "jira token refreshed", "connection_id", connectionID)
	return token, nil
}

func (t *RefreshTransport) refreshCredential(ctx context.Context, connectionID string) (string, error) {
	token, err := t.refresher.Refresh(ctx, connectionID)
	if err != nil {
		return "", err
	}
	if token == "" {
		// The server refreshed the Jira token on its side; the session credential stands.
		return "", nil
	}
	if err := t.creds.Write(ctx, token); err != nil {
		return "", fmt.Errorf("failed to store refreshed credential: %w", err)
	}
	return token, nil
}

// replay sends queued requests one at a time, in arrival order.
func (t *RefreshTransport) replay(queue []*pendingRequest) {
	for _, p := range queue {
		if err := p.ctx.Err(); err != nil {
			p.settle(nil, err)
			continue
		}
		t.metrics.ObserveReplay(metrics.ReplayQueued)
		resp, err := t.send(p.ctx, p.snap, RequestAttempt{}.Retry())
		p.settle(resp, err)
	}
}

func discardBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}
