package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Timestamp decodes the API's ISO-8601 times, which are UTC and often carry no zone suffix.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}

	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339))
}

// MarshalYAML renders the time as RFC 3339, or null when unset.
func (t Timestamp) MarshalYAML() (interface{}, error) {
	if t.IsZero() {
		return nil, nil
	}
	return t.UTC().Format(time.RFC3339), nil
}

// String formats the time for table output.
func (t Timestamp) String() string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

// MessageResponse is the generic {"message": ...} answer.
type MessageResponse struct {
	Message string `json:"message"`
}

// User is the account returned by the auth endpoints.
type User struct {
	ID       string `json:"_id" yaml:"id"`
	Email    string `json:"email" yaml:"email"`
	Username string `json:"username" yaml:"username"`
}

// LoginResponse is returned by /api/auth/login.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	User        User   `json:"user"`
}

// RegisterRequest is the body of /api/auth/register.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Username string `json:"username" validate:"required,min=2,max=64"`
	Password string `json:"password" validate:"required,min=6"`
}

// UpdateUserRequest is the body of PUT /api/auth/me.
type UpdateUserRequest struct {
	Email    string `json:"email,omitempty" validate:"omitempty,email"`
	Username string `json:"username,omitempty" validate:"omitempty,min=2,max=64"`
}

// ChangePasswordRequest is the body of /api/auth/change-password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=6,nefield=CurrentPassword"`
}

// Review status values.
const (
	ReviewPending    = "pending"
	ReviewProcessing = "processing"
	ReviewCompleted  = "completed"
	ReviewFailed     = "failed"
)

// Review is the base view of a code review.
type Review struct {
	ID             string                 `json:"_id" yaml:"id"`
	GitHubActionID string                 `json:"github_action_id" yaml:"github_action_id"`
	PRNumber       int                    `json:"pr_number" yaml:"pr_number"`
	RepoOwner      string                 `json:"repo_owner" yaml:"repo_owner"`
	RepoName       string                 `json:"repo_name" yaml:"repo_name"`
	Author         string                 `json:"author" yaml:"author"`
	PRTitle        string                 `json:"pr_title" yaml:"pr_title"`
	Status         string                 `json:"status" yaml:"status"`
	CreatedAt      Timestamp              `json:"created_at" yaml:"created_at"`
	UpdatedAt      Timestamp              `json:"updated_at" yaml:"updated_at"`
	FinalResult    map[string]interface{} `json:"final_result,omitempty" yaml:"final_result,omitempty"`
	MarkedIssues   []string               `json:"marked_issues" yaml:"marked_issues"`
	Username       string                 `json:"username" yaml:"username"`

	// Detail and full views only.
	DiffContent   string                   `json:"diff_content,omitempty" yaml:"diff_content,omitempty"`
	PRBody        string                   `json:"pr_body,omitempty" yaml:"pr_body,omitempty"`
	ReadmeContent string                   `json:"readme_content,omitempty" yaml:"readme_content,omitempty"`
	Comments      []map[string]interface{} `json:"comments,omitempty" yaml:"comments,omitempty"`
	AgentOutputs  []map[string]interface{} `json:"agent_outputs,omitempty" yaml:"agent_outputs,omitempty"`
	ChatHistory   []ChatMessage            `json:"chat_history,omitempty" yaml:"chat_history,omitempty"`
}

// Repository returns owner/name.
func (r *Review) Repository() string {
	return r.RepoOwner + "/" + r.RepoName
}

// ReviewList is a page of review history.
type ReviewList struct {
	Reviews []Review `json:"reviews" yaml:"reviews"`
	Total   int      `json:"total" yaml:"total"`
}

// MarkIssueRequest marks or unmarks an issue of a review.
type MarkIssueRequest struct {
	IssueID string `json:"issue_id"`
	Marked  bool   `json:"marked"`
}

// SyncIssueRequest creates a Jira issue from a review issue.
type SyncIssueRequest struct {
	ConnectionID string                 `json:"connection_id"`
	JiraFields   map[string]interface{} `json:"jira_fields"`
}

// SyncIssueResponse is the result of syncing an issue to Jira.
type SyncIssueResponse struct {
	Success  bool   `json:"success" yaml:"success"`
	Message  string `json:"message,omitempty" yaml:"message,omitempty"`
	IssueKey string `json:"issue_key,omitempty" yaml:"issue_key,omitempty"`
	IssueURL string `json:"issue_url,omitempty" yaml:"issue_url,omitempty"`
}

// API key status values.
const (
	APIKeyActive   = "active"
	APIKeyInactive = "inactive"
	APIKeyRevoked  = "revoked"
)

// APIKey is a stored API key. The full key is only shown once, on creation.
type APIKey struct {
	ID         string    `json:"_id" yaml:"id"`
	Name       string    `json:"name" yaml:"name"`
	Status     string    `json:"status" yaml:"status"`
	KeyPreview string    `json:"key_preview" yaml:"key_preview"`
	UsageCount int       `json:"usage_count" yaml:"usage_count"`
	RateLimit  int       `json:"rate_limit" yaml:"rate_limit"`
	CreatedAt  Timestamp `json:"created_at" yaml:"created_at"`
	LastUsed   Timestamp `json:"last_used" yaml:"last_used"`
	ExpiresAt  Timestamp `json:"expires_at" yaml:"expires_at"`
}

// GeneratedAPIKey is returned by key creation and carries the full key.
type GeneratedAPIKey struct {
	ID         string    `json:"id" yaml:"id"`
	APIKey     string    `json:"api_key" yaml:"api_key"`
	KeyPreview string    `json:"key_preview" yaml:"key_preview"`
	Name       string    `json:"name" yaml:"name"`
	CreatedAt  Timestamp `json:"created_at" yaml:"created_at"`
	ExpiresAt  Timestamp `json:"expires_at" yaml:"expires_at"`
}

// APIKeyStatusRequest is the body of PUT /api/apikeys/{id}/status.
type APIKeyStatusRequest struct {
	Status string `json:"status"`
}

// APIKeyDeleteRequest is the body of DELETE /api/apikeys/{id}.
type APIKeyDeleteRequest struct {
	ConfirmDelete bool `json:"confirm_delete"`
}

// JiraConnection is a configured Jira instance.
type JiraConnection struct {
	ID             string    `json:"_id" yaml:"id"`
	Name           string    `json:"name" yaml:"name"`
	Description    string    `json:"description,omitempty" yaml:"description,omitempty"`
	JiraURL        string    `json:"jira_url" yaml:"jira_url"`
	ProjectKey     string    `json:"project_key,omitempty" yaml:"project_key,omitempty"`
	AuthType       string    `json:"auth_type" yaml:"auth_type"`
	ClientID       string    `json:"client_id" yaml:"client_id"`
	TokenExpiresAt Timestamp `json:"token_expires_at" yaml:"token_expires_at"`
	IsCloud        bool      `json:"is_cloud" yaml:"is_cloud"`
	CreatedAt      Timestamp `json:"created_at" yaml:"created_at"`
	UpdatedAt      Timestamp `json:"updated_at" yaml:"updated_at"`
}

// JiraConnectionInput is the body for creating or updating a connection.
// Update sends only the fields that are set.
type JiraConnectionInput struct {
	Name         string `json:"name,omitempty"`
	Description  string `json:"description,omitempty"`
	JiraURL      string `json:"jira_url,omitempty" validate:"omitempty,url"`
	ProjectKey   string `json:"project_key,omitempty"`
	AuthType     string `json:"auth_type,omitempty" validate:"omitempty,oneof=oauth2"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	IsCloud      *bool  `json:"is_cloud,omitempty"`
}

// JiraConnectionTest is the body of POST /api/jira/connections/test.
type JiraConnectionTest struct {
	JiraURL     string `json:"jira_url" validate:"required,url"`
	AuthType    string `json:"auth_type" validate:"required"`
	AccessToken string `json:"access_token" validate:"required"`
	IsCloud     bool   `json:"is_cloud"`
}

// JiraTestResult is the outcome of a connection test.
type JiraTestResult struct {
	Success bool   `json:"success" yaml:"success"`
	Message string `json:"message" yaml:"message"`
}

// JiraField describes a field the server can fill when syncing issues.
type JiraField struct {
	Name     string `json:"name" yaml:"name"`
	Label    string `json:"label" yaml:"label"`
	Type     string `json:"type" yaml:"type"`
	Required bool   `json:"required" yaml:"required"`
}

// AuthURLRequest holds the query of GET /api/jira/oauth/auth-url.
type AuthURLRequest struct {
	JiraURL     string
	ClientID    string
	RedirectURI string
}

// AuthURLResponse is the OAuth authorization URL.
type AuthURLResponse struct {
	AuthURL string `json:"auth_url"`
}

// ExchangeTokenRequest trades an authorization code for a Jira connection.
type ExchangeTokenRequest struct {
	Code        string `json:"code"`
	RedirectURI string `json:"redirect_uri"`
}

// ExchangeTokenResponse carries the connection created by the code exchange.
type ExchangeTokenResponse struct {
	Connection JiraConnection         `json:"connection" yaml:"connection"`
	TokenData  map[string]interface{} `json:"token_data,omitempty" yaml:"-"`
}

// RefreshCredentialsRequest refreshes a Jira token from explicit OAuth client credentials.
type RefreshCredentialsRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
	ClientID     string `json:"client_id" validate:"required"`
	ClientSecret string `json:"client_secret" validate:"required"`
}

// RevokeTokenRequest is the body of /api/jira/oauth/revoke-token.
type RevokeTokenRequest struct {
	Token        string `json:"token" validate:"required"`
	ClientID     string `json:"client_id" validate:"required"`
	ClientSecret string `json:"client_secret" validate:"required"`
}

// AccessibleResource is a Jira site the connection's token can reach.
type AccessibleResource struct {
	ID        string   `json:"id" yaml:"id"`
	Name      string   `json:"name" yaml:"name"`
	URL       string   `json:"url" yaml:"url"`
	Scopes    []string `json:"scopes,omitempty" yaml:"scopes,omitempty"`
	AvatarURL string   `json:"avatarUrl,omitempty" yaml:"avatar_url,omitempty"`
}

// SwitchResourceRequest selects the active Jira site of a connection.
type SwitchResourceRequest struct {
	ResourceID string `json:"resource_id"`
}

// Token status values reported by the connection status endpoint.
const (
	TokenValid        = "valid"
	TokenExpiringSoon = "expiring_soon"
	TokenExpired      = "expired"
)

// ConnectionStatus is the token state of a Jira connection.
type ConnectionStatus struct {
	ConnectionID   string    `json:"connection_id" yaml:"connection_id"`
	TokenStatus    string    `json:"token_status" yaml:"token_status"`
	TokenExpiresAt Timestamp `json:"token_expires_at" yaml:"token_expires_at"`
	JiraURL        string    `json:"jira_url" yaml:"jira_url"`
	LastSyncAt     Timestamp `json:"last_sync_at" yaml:"last_sync_at"`
}

// ChatMessage is one entry of a review's copilot conversation.
type ChatMessage struct {
	Role      string    `json:"role" yaml:"role"`
	Content   string    `json:"content" yaml:"content"`
	Timestamp Timestamp `json:"timestamp" yaml:"timestamp"`
}

// ChatHistoryResponse is returned by /api/aicopilot/chathistory/{id}.
type ChatHistoryResponse struct {
	ChatHistory []ChatMessage `json:"chat_history" yaml:"chat_history"`
}

// SendMessageRequest is the body of /api/aicopilot/send/{id}.
type SendMessageRequest struct {
	Message string `json:"message"`
}

// ChatReply is the collected answer of a streamed copilot message.
type ChatReply struct {
	Type      string    `json:"type" yaml:"type"`
	Response  string    `json:"response" yaml:"response"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}
