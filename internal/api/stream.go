package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// doneSentinel terminates a chat event stream.
const doneSentinel = "[DONE]"

// StreamChunk is one element of a streamed chat response. Exactly one of the
// terminal conditions holds on the last element: Done (clean end) or Err.
type StreamChunk struct {
	Text string
	Done bool
	Err  error
}

// StreamChat posts a chat message and consumes the reply as an incremental
// event stream of {chunk} objects terminated by the [DONE] sentinel. The
// returned channel is closed after the terminal element. Canceling ctx
// closes the underlying connection; the consumer sees a terminal Err.
func (c *Client) StreamChat(ctx context.Context, sessionID, message string) (<-chan StreamChunk, error) {
	body, err := json.Marshal(map[string]any{
		"message":    message,
		"session_id": sessionID,
		"stream":     true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: "stream chat", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &NetworkError{Op: "stream chat", Status: resp.StatusCode}
	}

	out := make(chan StreamChunk, 8)
	go c.consumeChatStream(resp.Body, out)
	return out, nil
}

func (c *Client) consumeChatStream(body io.ReadCloser, out chan<- StreamChunk) {
	defer close(out)
	defer body.Close()

	reader := newSSEReader(body)
	for {
		frame, err := reader.Next()
		if err == io.EOF {
			// Stream ended without the sentinel: the server went away
			// mid-response.
			out <- StreamChunk{Err: &StreamError{Err: io.ErrUnexpectedEOF}}
			return
		}
		if err != nil {
			out <- StreamChunk{Err: &StreamError{Err: err}}
			return
		}
		if frame.Data == doneSentinel {
			out <- StreamChunk{Done: true}
			return
		}
		var payload struct {
			Chunk string `json:"chunk"`
		}
		if err := json.Unmarshal([]byte(frame.Data), &payload); err != nil {
			c.logger.Debugf("skipping malformed stream frame: %v", err)
			continue
		}
		if payload.Chunk != "" {
			out <- StreamChunk{Text: payload.Chunk}
		}
	}
}
