package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/crview/crview-cli/internal/api"
	iface "github.com/crview/crview-cli/internal/service/interface"
)

// ReplySuccess is the type of a completed copilot reply.
const ReplySuccess = "success"

// copilotService implements iface.CopilotService
type copilotService struct {
	client *api.Client
	auth   iface.AuthService
}

// NewCopilotService creates a new copilot service
func NewCopilotService(client *api.Client, authService iface.AuthService) iface.CopilotService {
	return &copilotService{client: client, auth: authService}
}

func (s *copilotService) ChatHistory(ctx context.Context, reviewID string) ([]api.ChatMessage, error) {
	if err := s.auth.EnsureAuthenticated(ctx); err != nil {
		return nil, err
	}

	var raw json.RawMessage
	if err := s.client.Post(ctx, "/api/aicopilot/chathistory/"+pathID(reviewID), nil, &raw); err != nil {
		return nil, fmt.Errorf("failed to get chat history: %w", err)
	}
	return decodeList[api.ChatMessage](raw, "chat_history")
}

func (s *copilotService) Send(ctx context.Context, reviewID, message string) (*api.Stream, error) {
	if err := s.auth.EnsureAuthenticated(ctx); err != nil {
		return nil, err
	}
	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("message must not be empty")
	}

	stream, err := s.client.Stream(ctx, "/api/aicopilot/send/"+pathID(reviewID), api.SendMessageRequest{Message: message})
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	return stream, nil
}

// SendAndWait sends a message and collects the streamed answer.
func (s *copilotService) SendAndWait(ctx context.Context, reviewID, message string) (*api.ChatReply, error) {
	stream, err := s.Send(ctx, reviewID, message)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	for ev, err := range stream.All() {
		if err != nil {
			return nil, err
		}
		sb.WriteString(ev.Content)
	}

	return &api.ChatReply{
		Type:      ReplySuccess,
		Response:  sb.String(),
		Timestamp: time.Now().UTC(),
	}, nil
}
