package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// Stream event types sent by the copilot endpoint.
const (
	EventContent = "content"
	EventError   = "error"
)

// streamDone is the data payload that ends a stream.
const streamDone = "[DONE]"

// Event is one parsed server-sent event.
type Event struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// StreamError is an error event sent by the server inside the stream.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream error: %s", e.Message)
}

// Stream is a lazy sequence of events read from a text/event-stream response.
//
//	for stream.Next() {
//		ev := stream.Event()
//	}
//	if err := stream.Err(); err != nil { ... }
//
// Close, or cancelling the context the stream was opened with, closes the
// connection at once. Next returns false from then on.
type Stream struct {
	ctx     context.Context
	decoder ssestream.Decoder
	logger  *slog.Logger

	event Event
	err   error
	done  bool

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	stop      func() bool
}

func newStream(ctx context.Context, resp *http.Response, logger *slog.Logger) *Stream {
	s := &Stream{
		ctx:     ctx,
		decoder: ssestream.NewDecoder(resp),
		logger:  logger,
	}
	s.stop = context.AfterFunc(ctx, s.release)
	if ctx.Err() != nil {
		s.release()
	}
	return s
}

// Next advances to the next content event.
// It returns false at the end of the stream, on an error event, or after Close.
func (s *Stream) Next() bool {
	if s.done {
		return false
	}
	if s.closed.Load() {
		s.finish(s.ctx.Err())
		return false
	}

	for s.decoder.Next() {
		if s.closed.Load() {
			break
		}

		data := bytes.TrimSpace(s.decoder.Event().Data)
		if len(data) == 0 {
			continue
		}
		if string(data) == streamDone {
			s.finish(nil)
			return false
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			s.logger.WarnContext(s.ctx, "skipping unparseable stream event", "data", string(data), "error", err)
			continue
		}

		switch ev.Type {
		case EventContent:
			s.event = ev
			return true
		case EventError:
			s.finish(&StreamError{Message: ev.Content})
			return false
		default:
			s.logger.DebugContext(s.ctx, "skipping stream event", "type", ev.Type)
		}
	}

	switch {
	case s.closed.Load():
		// A cancelled context surfaces as its error; an explicit Close ends quietly.
		s.finish(s.ctx.Err())
	case s.decoder.Err() != nil:
		s.finish(fmt.Errorf("failed to read stream: %w", s.decoder.Err()))
	default:
		s.finish(nil)
	}
	return false
}

func (s *Stream) finish(err error) {
	s.done = true
	s.err = err
	_ = s.Close()
}

// Event returns the event read by the last successful Next.
func (s *Stream) Event() Event {
	return s.event
}

// Err returns the error that ended the stream, if any.
// Reaching [DONE] or the end of the body is not an error.
func (s *Stream) Err() error {
	return s.err
}

// Close releases the connection. It is safe to call more than once and from
// another goroutine than the reader.
func (s *Stream) Close() error {
	s.release()
	if s.stop != nil {
		s.stop()
	}
	return s.closeErr
}

// release closes the connection once. It runs on the AfterFunc goroutine
// too, so it must not touch s.stop.
func (s *Stream) release() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.decoder.Close()
	})
}

// All returns the stream as a range-over-func sequence. The stream is closed
// when the loop ends, including on break. A terminal error is yielded last
// with a zero Event.
func (s *Stream) All() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		defer s.Close()
		for s.Next() {
			if !yield(s.Event(), nil) {
				return
			}
		}
		if err := s.Err(); err != nil {
			yield(Event{}, err)
		}
	}
}

// Stream opens a server-sent event stream with a POST of body to path.
// A non-2xx answer is returned as *APIError before any event is read.
func (c *Client) Stream(ctx context.Context, path string, body interface{}) (*Stream, error) {
	var bodyReader io.Reader
	contentType := ""
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
		contentType = "application/json"
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, bodyReader, contentType)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, newAPIError(resp.StatusCode, respBody)
	}

	return newStream(ctx, resp, c.logger), nil
}

// StreamText opens a stream and concatenates its content events.
// On an error event the text received so far is returned with the error.
func (c *Client) StreamText(ctx context.Context, path string, body interface{}) (string, error) {
	stream, err := c.Stream(ctx, path, body)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for ev, err := range stream.All() {
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(ev.Content)
	}
	return sb.String(), nil
}
