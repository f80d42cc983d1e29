package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/research-kreat/kreat-agentic/internal/retry"
	"github.com/research-kreat/kreat-agentic/internal/types"
	"github.com/research-kreat/kreat-agentic/internal/utils"
)

// PushChannel maintains the persistent server-to-client event connection.
// Events are delivered in arrival order on Events(); filtering by session id
// is the consumer's job. On transport drop the channel reconnects with the
// configured policy; once the attempt cap is exhausted it emits a terminal
// disconnect event and stops for good — only a restart resumes delivery.
type PushChannel struct {
	client *Client
	policy retry.Policy
	sleep  retry.Sleeper
	logger *utils.Logger
	events chan types.PushEvent
}

func NewPushChannel(client *Client, policy retry.Policy, logger *utils.Logger) *PushChannel {
	return &PushChannel{
		client: client,
		policy: policy,
		sleep:  retry.RealSleeper,
		logger: logger,
		events: make(chan types.PushEvent, 32),
	}
}

// SetSleeper replaces the reconnect wait, used by tests to avoid timers.
func (p *PushChannel) SetSleeper(s retry.Sleeper) { p.sleep = s }

// Events is the stream of push events. Closed when the channel stops,
// whether by context cancellation or reconnect exhaustion.
func (p *PushChannel) Events() <-chan types.PushEvent { return p.events }

// Run connects and pumps events until ctx is canceled or reconnects are
// exhausted. Blocking; callers run it in a goroutine.
func (p *PushChannel) Run(ctx context.Context) {
	defer close(p.events)

	for {
		err := p.policy.Run(ctx, p.sleep, func(attempt int) error {
			if attempt > 1 {
				p.logger.Debugf("push channel reconnect attempt %d", attempt)
			}
			return p.connectAndPump(ctx)
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			// Every attempt in the window failed: terminal.
			p.logger.Warnf("push channel reconnect exhausted: %v", err)
			p.emit(ctx, types.PushEvent{
				Name: types.EventDisconnect,
				Data: json.RawMessage(`{"reason":"reconnect_exhausted"}`),
			})
			return
		}
		// connectAndPump returned nil after a healthy connection dropped;
		// start a fresh attempt window.
	}
}

// connectAndPump opens the event stream and forwards frames. Returns nil if
// the connection was established and later dropped (the attempt window
// resets), or an error if it could not be established at all.
func (p *PushChannel) connectAndPump(ctx context.Context) error {
	endpoint := p.client.baseURL + "/api/events?user_id=" + url.QueryEscape(p.client.userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := p.client.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Op: "push connect", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return &NetworkError{Op: "push connect", Status: resp.StatusCode}
	}
	defer resp.Body.Close()

	p.emit(ctx, types.PushEvent{Name: types.EventConnect, Data: json.RawMessage(`{}`)})

	reader := newSSEReader(resp.Body)
	for {
		frame, err := reader.Next()
		if err != nil {
			if ctx.Err() == nil && err != io.EOF {
				p.logger.Debugf("push channel dropped: %v", err)
			}
			return nil // established connection lost; reconnect fresh
		}
		name := frame.Event
		if name == "" {
			name = types.EventStatus
		}
		p.emit(ctx, types.PushEvent{Name: name, Data: json.RawMessage(frame.Data)})
	}
}

func (p *PushChannel) emit(ctx context.Context, ev types.PushEvent) {
	select {
	case p.events <- ev:
	case <-ctx.Done():
	}
}
