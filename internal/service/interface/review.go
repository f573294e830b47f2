package iface

import (
	"context"

	"github.com/crview/crview-cli/internal/api"
)

// ReviewView selects how much of a review the server returns.
type ReviewView string

const (
	ViewBase   ReviewView = "base"
	ViewDetail ReviewView = "detail"
	ViewFull   ReviewView = "full"
)

// ReviewFilters narrows the review history. Empty fields are not sent.
type ReviewFilters struct {
	Author string
	Repo   string
	Status string
	Skip   int
	Limit  int
}

// ReviewService defines the interface for code review operations
type ReviewService interface {
	// GetReview returns a review by ID
	GetReview(ctx context.Context, id string, view ReviewView) (*api.Review, error)

	// GetReviewByGitHubAction returns the review created by a GitHub Action run
	GetReviewByGitHubAction(ctx context.Context, actionID string, view ReviewView) (*api.Review, error)

	// Latest returns the current user's most recent review
	Latest(ctx context.Context, view ReviewView) (*api.Review, error)

	// History lists reviews matching filters
	History(ctx context.Context, filters ReviewFilters) (*api.ReviewList, error)

	// MarkIssue marks or unmarks an issue of a review
	MarkIssue(ctx context.Context, reviewID, issueID string, marked bool) error

	// SyncIssueToJira creates a Jira issue from a review issue
	SyncIssueToJira(ctx context.Context, reviewID, issueID, connectionID string, fields map[string]interface{}) (*api.SyncIssueResponse, error)
}
