package iface

import (
	"context"

	"github.com/crview/crview-cli/internal/api"
)

// CopilotService defines the interface for AI copilot chat operations
type CopilotService interface {
	// ChatHistory returns the conversation of a review
	ChatHistory(ctx context.Context, reviewID string) ([]api.ChatMessage, error)

	// Send posts a message and returns the streamed answer. The caller must close the stream.
	Send(ctx context.Context, reviewID, message string) (*api.Stream, error)

	// SendAndWait posts a message and collects the whole answer
	SendAndWait(ctx context.Context, reviewID, message string) (*api.ChatReply, error)
}
