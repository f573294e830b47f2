package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/crview/crview-cli/internal/api"
	iface "github.com/crview/crview-cli/internal/service/interface"
)

const reviewsPath = "/api/codereview/reviews"

// reviewService implements iface.ReviewService
type reviewService struct {
	client *api.Client
	auth   iface.AuthService
}

// NewReviewService creates a new review service
func NewReviewService(client *api.Client, authService iface.AuthService) iface.ReviewService {
	return &reviewService{client: client, auth: authService}
}

// viewPath appends the view suffix. The full view has no suffix.
func viewPath(base string, view iface.ReviewView) (string, error) {
	switch view {
	case iface.ViewBase, iface.ViewDetail:
		return base + "/" + string(view), nil
	case iface.ViewFull, "":
		return base, nil
	default:
		return "", fmt.Errorf("unknown review view %q (expected base, detail or full)", view)
	}
}

func (s *reviewService) getReview(ctx context.Context, base string, view iface.ReviewView) (*api.Review, error) {
	if err := s.auth.EnsureAuthenticated(ctx); err != nil {
		return nil, err
	}

	path, err := viewPath(base, view)
	if err != nil {
		return nil, err
	}

	var review api.Review
	if err := s.client.Get(ctx, path, &review); err != nil {
		return nil, fmt.Errorf("failed to get review: %w", err)
	}
	return &review, nil
}

// GetReview returns a review by ID
func (s *reviewService) GetReview(ctx context.Context, id string, view iface.ReviewView) (*api.Review, error) {
	return s.getReview(ctx, reviewsPath+"/"+pathID(id), view)
}

// GetReviewByGitHubAction returns the review of a GitHub Action run
func (s *reviewService) GetReviewByGitHubAction(ctx context.Context, actionID string, view iface.ReviewView) (*api.Review, error) {
	return s.getReview(ctx, reviewsPath+"/github-action/"+pathID(actionID), view)
}

// Latest returns the most recent review of the current user
func (s *reviewService) Latest(ctx context.Context, view iface.ReviewView) (*api.Review, error) {
	return s.getReview(ctx, "/api/codereview/review-latest", view)
}

// History lists reviews. The server answers with a bare list or a {reviews, total} page.
func (s *reviewService) History(ctx context.Context, filters iface.ReviewFilters) (*api.ReviewList, error) {
	if err := s.auth.EnsureAuthenticated(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	if filters.Author != "" {
		params.Set("author", filters.Author)
	}
	if filters.Repo != "" {
		params.Set("repo", filters.Repo)
	}
	if filters.Status != "" {
		params.Set("status", filters.Status)
	}
	if filters.Skip > 0 {
		params.Set("skip", strconv.Itoa(filters.Skip))
	}
	if filters.Limit > 0 {
		params.Set("limit", strconv.Itoa(filters.Limit))
	}

	path := reviewsPath
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var raw json.RawMessage
	if err := s.client.Get(ctx, path, &raw); err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}

	reviews, err := decodeList[api.Review](raw, "reviews", "items")
	if err != nil {
		return nil, err
	}

	list := &api.ReviewList{Reviews: reviews, Total: len(reviews)}
	var page struct {
		Total *int `json:"total"`
	}
	if json.Unmarshal(raw, &page) == nil && page.Total != nil {
		list.Total = *page.Total
	}
	return list, nil
}

// MarkIssue marks or unmarks an issue
func (s *reviewService) MarkIssue(ctx context.Context, reviewID, issueID string, marked bool) error {
	if err := s.auth.EnsureAuthenticated(ctx); err != nil {
		return err
	}

	body := api.MarkIssueRequest{IssueID: issueID, Marked: marked}
	if err := s.client.Post(ctx, reviewsPath+"/"+pathID(reviewID)+"/mark-issue", body, nil); err != nil {
		return fmt.Errorf("failed to mark issue: %w", err)
	}
	return nil
}

// SyncIssueToJira creates a Jira issue from a review issue
func (s *reviewService) SyncIssueToJira(ctx context.Context, reviewID, issueID, connectionID string, fields map[string]interface{}) (*api.SyncIssueResponse, error) {
	if err := s.auth.EnsureAuthenticated(ctx); err != nil {
		return nil, err
	}
	if connectionID == "" {
		return nil, fmt.Errorf("a Jira connection ID is required")
	}
	if fields == nil {
		fields = map[string]interface{}{}
	}

	path := fmt.Sprintf("%s/%s/issues/%s/sync-to-jira", reviewsPath, pathID(reviewID), pathID(issueID))
	body := api.SyncIssueRequest{ConnectionID: connectionID, JiraFields: fields}

	var result api.SyncIssueResponse
	if err := s.client.Post(ctx, path, body, &result); err != nil {
		return nil, fmt.Errorf("failed to sync issue to Jira: %w", err)
	}
	return &result, nil
}
