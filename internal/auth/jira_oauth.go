// Package auth implements the login flows of the CLI: the password grant against
// the review platform and the browser based Jira OAuth connection flow.
package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/httplog/v3"
	"github.com/google/uuid"
	"github.com/pkg/browser"
	"golang.org/x/oauth2"

	"github.com/crview/crview-cli/internal/api"
)

const (
	// DefaultCallbackPort is the default port for the local OAuth callback server
	DefaultCallbackPort = 9876

	// DefaultFlowTimeout bounds how long the flow waits for the browser callback
	DefaultFlowTimeout = 5 * time.Minute

	// AtlassianAuthURL is the Atlassian OAuth 2.0 (3LO) authorization endpoint
	AtlassianAuthURL = "https://auth.atlassian.com/authorize"

	// CallbackPath is served by the local callback server
	CallbackPath = "/callback"
)

// JiraScopes are requested when connecting a Jira site.
var JiraScopes = []string{"read:jira-work", "write:jira-work", "read:jira-user"}

// ErrFlowTimeout is returned when the browser never calls back.
var ErrFlowTimeout = errors.New("authentication timed out")

// CodeExchanger trades an authorization code for a Jira connection on the review platform.
type CodeExchanger interface {
	ExchangeToken(ctx context.Context, code, redirectURI string) (*api.ExchangeTokenResponse, error)
}

// JiraOAuthFlow connects a Jira site: it sends the user to the Atlassian consent
// page, receives the authorization code on a loopback server and hands the code to
// the review platform, which stores the resulting connection.
type JiraOAuthFlow struct {
	exchanger    CodeExchanger
	clientID     string
	authURL      string
	callbackPort int
	timeout      time.Duration
	openBrowser  func(url string) error
	out          io.Writer
	logger       *slog.Logger
}

// FlowOption configures a JiraOAuthFlow.
type FlowOption func(*JiraOAuthFlow)

// WithCallbackPort sets the first port tried for the callback server. Zero picks any free port.
func WithCallbackPort(port int) FlowOption {
	return func(o *JiraOAuthFlow) { o.callbackPort = port }
}

// WithFlowTimeout bounds the wait for the browser callback.
func WithFlowTimeout(d time.Duration) FlowOption {
	return func(o *JiraOAuthFlow) { o.timeout = d }
}

// WithAuthURL replaces the authorization endpoint.
func WithAuthURL(u string) FlowOption {
	return func(o *JiraOAuthFlow) { o.authURL = u }
}

// WithBrowser replaces the function used to open the consent page.
func WithBrowser(open func(url string) error) FlowOption {
	return func(o *JiraOAuthFlow) { o.openBrowser = open }
}

// WithOutput sets where user-facing progress messages are written.
func WithOutput(w io.Writer) FlowOption {
	return func(o *JiraOAuthFlow) { o.out = w }
}

// WithFlowLogger sets the logger used for the callback server.
func WithFlowLogger(l *slog.Logger) FlowOption {
	return func(o *JiraOAuthFlow) { o.logger = l }
}

// NewJiraOAuthFlow creates a new Jira OAuth flow handler
func NewJiraOAuthFlow(exchanger CodeExchanger, clientID string, opts ...FlowOption) *JiraOAuthFlow {
	o := &JiraOAuthFlow{
		exchanger:    exchanger,
		clientID:     clientID,
		authURL:      AtlassianAuthURL,
		callbackPort: DefaultCallbackPort,
		timeout:      DefaultFlowTimeout,
		openBrowser:  browser.OpenURL,
		out:          os.Stderr,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// AuthCodeURL builds the Atlassian consent URL for redirectURI and state.
func (o *JiraOAuthFlow) AuthCodeURL(redirectURI, state string) string {
	cfg := &oauth2.Config{
		ClientID:    o.clientID,
		Endpoint:    oauth2.Endpoint{AuthURL: o.authURL},
		RedirectURL: redirectURI,
		Scopes:      JiraScopes,
	}
	return cfg.AuthCodeURL(state,
		oauth2.SetAuthURLParam("audience", "api.atlassian.com"),
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

// Connect runs the flow and returns the connection the platform created.
func (o *JiraOAuthFlow) Connect(ctx context.Context) (*api.ExchangeTokenResponse, error) {
	if o.clientID == "" {
		return nil, errors.New("jira OAuth client ID is required")
	}

	listener, err := o.listen()
	if err != nil {
		return nil, fmt.Errorf("failed to start callback server: %w", err)
	}

	port := listener.Addr().(*net.TCPAddr).Port
	redirectURI := fmt.Sprintf("http://localhost:%d%s", port, CallbackPath)
	state := uuid.NewString()

	codeChan := make(chan string, 1)
	errChan := make(chan error, 1)

	server := &http.Server{
		Handler:           o.callbackHandler(state, codeChan, errChan),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go server.Serve(listener)
	defer server.Shutdown(context.Background())

	authURL := o.AuthCodeURL(redirectURI, state)

	fmt.Fprintln(o.out, "Opening browser to connect Jira...")
	fmt.Fprintf(o.out, "If the browser doesn't open, please visit:\n%s\n\n", authURL)

	if err := o.openBrowser(authURL); err != nil {
		fmt.Fprintf(o.out, "Failed to open browser automatically: %v\n", err)
	}

	fmt.Fprintln(o.out, "Waiting for authorization...")

	timer := time.NewTimer(o.timeout)
	defer timer.Stop()

	select {
	case code := <-codeChan:
		result, err := o.exchanger.ExchangeToken(ctx, code, redirectURI)
		if err != nil {
			return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
		}
		return result, nil
	case err := <-errChan:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrFlowTimeout
	}
}

// listen binds the first free port starting at the configured callback port.
func (o *JiraOAuthFlow) listen() (net.Listener, error) {
	if o.callbackPort == 0 {
		return net.Listen("tcp", "127.0.0.1:0")
	}

	for port := o.callbackPort; port < o.callbackPort+10; port++ {
		listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			return listener, nil
		}
	}
	return nil, fmt.Errorf("no available port found")
}

// callbackHandler serves the OAuth redirect. The first callback settles the flow.
func (o *JiraOAuthFlow) callbackHandler(expectedState string, codeChan chan<- string, errChan chan<- error) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(CallbackPath, func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		if query.Get("state") != expectedState {
			sendErr(errChan, errors.New("state mismatch"))
			http.Error(w, "State mismatch", http.StatusBadRequest)
			return
		}

		if errMsg := query.Get("error"); errMsg != "" {
			sendErr(errChan, fmt.Errorf("OAuth error: %s - %s", errMsg, query.Get("error_description")))
			writePage(w, "Jira authorization failed. You can close this window.")
			return
		}

		code := query.Get("code")
		if code == "" {
			sendErr(errChan, errors.New("no authorization code received"))
			http.Error(w, "No code received", http.StatusBadRequest)
			return
		}

		writePage(w, "Jira authorization received. You can close this window.")

		select {
		case codeChan <- code:
		default:
		}
	})

	return httplog.RequestLogger(o.logger, &httplog.Options{
		Schema:             httplog.SchemaECS.Concise(true),
		LogRequestHeaders:  []string{},
		LogResponseHeaders: []string{},
	})(mux)
}

func sendErr(errChan chan<- error, err error) {
	select {
	case errChan <- err:
	default:
	}
}

func writePage(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, callbackHTML, message)
}

// callbackHTML is the page shown in the browser after the redirect
const callbackHTML = `<!DOCTYPE html>
<html>
<head>
    <title>crview</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Helvetica, Arial, sans-serif;
            display: flex;
            justify-content: center;
            align-items: center;
            height: 100vh;
            margin: 0;
            background-color: #f5f5f5;
        }
        .container { text-align: center; padding: 40px; background: white; border-radius: 8px; }
        p { color: #666; }
    </style>
</head>
<body>
    <div class="container">
        <h1>crview</h1>
        <p>%s</p>
    </div>
</body>
</html>`
