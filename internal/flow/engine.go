// Package flow is the decision layer of the client: it maps user actions and
// inbound push events to store mutations and transport calls. Every
// transport failure is absorbed here and converted into an activity-log line
// or a system-role chat message; nothing propagates to the presentation
// layer.
package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/research-kreat/kreat-agentic/internal/api"
	"github.com/research-kreat/kreat-agentic/internal/config"
	"github.com/research-kreat/kreat-agentic/internal/state"
	"github.com/research-kreat/kreat-agentic/internal/types"
	"github.com/research-kreat/kreat-agentic/internal/utils"
)

// Phase is the lifecycle state of the open session.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseLoading
	PhaseCreating
	PhaseReady
)

func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "loading"
	case PhaseCreating:
		return "creating"
	case PhaseReady:
		return "ready"
	default:
		return "uninitialized"
	}
}

const (
	highlightDelay = 3 * time.Second
	removeDelay    = 500 * time.Millisecond
	localIDPrefix  = "local"
)

// Notifier is invoked after state changes so the presentation layer can
// re-render. May be nil.
type Notifier func()

// Engine coordinates the store, the REST client and the push channel.
type Engine struct {
	cfg    *config.Config
	client *api.Client
	store  *state.Store
	cache  *state.DiskCache
	logger *utils.Logger

	mu           sync.Mutex
	phase        Phase
	streamGen    int
	cancelStream context.CancelFunc
	streamBuf    strings.Builder

	notify Notifier

	// after schedules cosmetic delayed work; tests replace it to run
	// callbacks synchronously.
	after func(d time.Duration, fn func())
}

func NewEngine(cfg *config.Config, client *api.Client, store *state.Store, cache *state.DiskCache, logger *utils.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		client: client,
		store:  store,
		cache:  cache,
		logger: logger,
		phase:  PhaseUninitialized,
		after: func(d time.Duration, fn func()) {
			time.AfterFunc(d, fn)
		},
	}
}

// SetNotifier registers the re-render callback. Call before Open.
func (e *Engine) SetNotifier(fn Notifier) { e.notify = fn }

// SetScheduler replaces the delayed-work scheduler (tests).
func (e *Engine) SetScheduler(fn func(d time.Duration, fn func())) { e.after = fn }

func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

func (e *Engine) setPhase(p Phase) {
	e.mu.Lock()
	e.phase = p
	e.mu.Unlock()
}

func (e *Engine) render() {
	if e.notify != nil {
		e.notify()
	}
}

// Open makes a session current. An empty id starts a fresh conversation of
// the configured type. A load failure of any kind falls back to creating a
// new session; the failure is logged, never fatal.
func (e *Engine) Open(ctx context.Context, id string) error {
	e.CancelStream()
	e.store.Reset()

	if id == "" {
		return e.startFresh(ctx)
	}

	e.setPhase(PhaseLoading)
	e.render()

	session, messages, err := e.client.GetSession(ctx, id)
	if err != nil {
		if api.IsNotFound(err) {
			e.store.AddActivity("warn", "load", "session "+id+" not found, starting a new one")
		} else {
			e.store.AddActivity("error", "load", err.Error())
		}
		return e.startFresh(ctx)
	}

	e.store.SetSession(session)
	if len(messages) == 0 {
		messages = []types.Message{welcomeMessage(session.Type)}
	}
	e.store.SetHistory(messages)
	e.setPhase(PhaseReady)
	e.render()
	return nil
}

// startFresh creates a new conversation of the configured type. Block-typed
// conversations begin as a local placeholder: the server assigns the real id
// on the first analysis turn. Plain chat sessions are created server-side
// immediately.
func (e *Engine) startFresh(ctx context.Context) error {
	typ := e.cfg.SessionType
	e.setPhase(PhaseCreating)
	e.render()

	if types.IsBlockKind(typ) {
		session := types.Session{
			ID:        utils.NewLocalID(localIDPrefix),
			Type:      typ,
			Name:      defaultName(typ),
			CreatedAt: types.Now(),
		}
		e.store.SetSession(session)
		e.store.SetHistory([]types.Message{welcomeMessage(typ)})
		e.setPhase(PhaseReady)
		e.render()
		return nil
	}

	session, err := e.client.CreateSession(ctx, typ, "")
	if err != nil {
		e.store.AddActivity("error", "create", err.Error())
		e.store.AddMessage(errorMessage("Could not reach the KRAFT server to start a session. " + err.Error()))
		e.setPhase(PhaseUninitialized)
		e.render()
		return err
	}

	e.store.SetSession(session)
	e.store.SetHistory([]types.Message{welcomeMessage(session.Type)})
	e.store.UpsertSummary(state.Summary{SessionSummary: types.SessionSummary{
		ID:        session.ID,
		Name:      session.Name,
		Type:      session.Type,
		CreatedAt: session.CreatedAt,
	}})
	e.setPhase(PhaseReady)
	e.render()
	return nil
}

// Send submits one user turn. The user message is appended synchronously
// before any network call is issued, so a fast assistant reply can never
// land ahead of it. Empty input is rejected client-side.
func (e *Engine) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return &api.ValidationError{Reason: "message is empty"}
	}
	if e.store.InputBlocked() {
		return &api.ValidationError{Reason: "input is disabled"}
	}
	session, ok := e.store.Session()
	if !ok {
		return &api.ValidationError{Reason: "no open session"}
	}

	e.store.AddMessage(types.Message{Role: types.RoleUser, Content: text, Timestamp: types.Now()})
	e.store.SetTyping(true)
	e.render()

	if types.IsBlockKind(session.Type) {
		return e.sendAnalysis(ctx, session, text)
	}
	if e.cfg.Streaming {
		return e.sendStreaming(ctx, session, text)
	}
	return e.sendChat(ctx, session, text)
}

func (e *Engine) sendChat(ctx context.Context, session types.Session, text string) error {
	defer func() {
		e.store.SetTyping(false)
		e.render()
	}()

	result, err := e.client.SendChat(ctx, session.ID, text)
	if err != nil {
		e.surfaceSendFailure(err)
		return err
	}
	e.store.AddMessageDedup(types.Message{
		Role:      types.RoleAssistant,
		Content:   result.Response,
		Timestamp: types.Now(),
	})
	return nil
}

// sendAnalysis runs one block analysis turn. On the first turn of a local
// placeholder the server assigns the real block id; the placeholder is
// reconciled with it here.
func (e *Engine) sendAnalysis(ctx context.Context, session types.Session, text string) error {
	defer func() {
		e.store.SetTyping(false)
		e.render()
	}()

	blockID := session.ID
	if strings.HasPrefix(blockID, localIDPrefix+"-") {
		blockID = ""
	}

	result, err := e.client.AnalyzeBlock(ctx, blockID, text)
	if err != nil {
		e.surfaceSendFailure(err)
		return err
	}

	if blockID == "" && result.BlockID != "" {
		reconciled := session
		reconciled.ID = result.BlockID
		if result.BlockType != "" {
			reconciled.Type = result.BlockType
			reconciled.Name = defaultName(result.BlockType)
		}
		e.store.RemoveSummary(session.ID)
		e.store.SetSession(reconciled)
		e.store.UpsertSummary(state.Summary{SessionSummary: types.SessionSummary{
			ID:        reconciled.ID,
			Name:      reconciled.Name,
			Type:      reconciled.Type,
			CreatedAt: reconciled.CreatedAt,
		}})
	}

	e.store.AddMessageDedup(types.Message{
		Role:         types.RoleAssistant,
		Content:      result.Suggestion(),
		Timestamp:    types.Now(),
		FullResponse: result.Response,
	})
	return nil
}

// sendStreaming consumes the chunked reply. Chunks accumulate in a pending
// buffer and are committed as one assistant message only when the [DONE]
// sentinel arrives; on a stream error the partial buffer is dropped and a
// system error message is appended instead. The generation token guards
// against stale chunks after the stream is canceled by a session switch or a
// newer send.
func (e *Engine) sendStreaming(ctx context.Context, session types.Session, text string) error {
	e.CancelStream()

	sctx, cancel := context.WithCancel(ctx)

	e.mu.Lock()
	e.streamGen++
	gen := e.streamGen
	e.cancelStream = cancel
	e.streamBuf.Reset()
	e.mu.Unlock()

	chunks, err := e.client.StreamChat(sctx, session.ID, text)
	if err != nil {
		cancel()
		e.store.SetTyping(false)
		e.surfaceSendFailure(err)
		e.render()
		return err
	}

	go e.consumeStream(gen, chunks)
	return nil
}

func (e *Engine) consumeStream(gen int, chunks <-chan api.StreamChunk) {
	var buf strings.Builder
	for chunk := range chunks {
		if !e.streamAlive(gen) {
			// Canceled: drain silently, nothing may reach the store.
			continue
		}
		switch {
		case chunk.Err != nil:
			e.store.AddActivity("error", "stream", chunk.Err.Error())
			e.store.AddMessage(errorMessage("The response stream was interrupted."))
			e.finishStream(gen)
			return
		case chunk.Done:
			if buf.Len() > 0 {
				e.store.AddMessageDedup(types.Message{
					Role:      types.RoleAssistant,
					Content:   buf.String(),
					Timestamp: types.Now(),
				})
			}
			e.finishStream(gen)
			return
		default:
			buf.WriteString(chunk.Text)
			e.mu.Lock()
			e.streamBuf.WriteString(chunk.Text)
			e.mu.Unlock()
			e.render()
		}
	}
	// Channel closed without a terminal element; treat as interrupted.
	if e.streamAlive(gen) {
		e.store.AddMessage(errorMessage("The response stream ended unexpectedly."))
		e.finishStream(gen)
	}
}

func (e *Engine) streamAlive(gen int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.streamGen == gen
}

func (e *Engine) finishStream(gen int) {
	e.mu.Lock()
	if e.streamGen == gen {
		e.streamBuf.Reset()
		if e.cancelStream != nil {
			e.cancelStream()
			e.cancelStream = nil
		}
	}
	e.mu.Unlock()
	e.store.SetTyping(false)
	e.render()
}

// CancelStream aborts any in-flight streaming response. Chunks already in
// transit are discarded by the generation check.
func (e *Engine) CancelStream() {
	e.mu.Lock()
	e.streamGen++
	if e.cancelStream != nil {
		e.cancelStream()
		e.cancelStream = nil
	}
	e.streamBuf.Reset()
	e.mu.Unlock()
}

// StreamingText is the pending (uncommitted) streamed reply, for rendering.
func (e *Engine) StreamingText() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.streamBuf.String()
}

func (e *Engine) surfaceSendFailure(err error) {
	e.store.AddActivity("error", "send", err.Error())
	e.store.AddMessage(errorMessage("Sorry, I couldn't process that message. " + err.Error()))
}

// HandleEvent merges one push event into the store. Session-scoped events
// whose id does not match the open session are dropped; list-level events
// apply regardless.
func (e *Engine) HandleEvent(ev types.PushEvent) {
	defer e.render()

	switch ev.Name {
	case types.EventConnect:
		e.store.SetDisconnected(false)
		e.store.AddActivity("info", "push", "connected")

	case types.EventDisconnect:
		var payload struct {
			Reason string `json:"reason"`
		}
		_ = json.Unmarshal(ev.Data, &payload)
		if payload.Reason == "reconnect_exhausted" {
			e.store.SetDisconnected(true)
			e.store.AddActivity("error", "push", "reconnect attempts exhausted; live updates stopped")
		} else {
			e.store.AddActivity("warn", "push", "disconnected")
		}

	case types.EventError:
		e.store.AddActivity("error", "push", string(ev.Data))

	case types.EventStatus:
		var payload struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(ev.Data, &payload) == nil && payload.Message != "" {
			e.store.AddActivity("info", "server", payload.Message)
		}

	case types.EventChatResponse:
		var payload types.ChatResponsePayload
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			e.store.AddActivity("warn", "push", "bad chat_response payload")
			return
		}
		if payload.SessionID != e.store.SessionID() {
			return
		}
		ts := payload.Timestamp
		if ts == "" {
			ts = types.Now()
		}
		e.store.AddMessageDedup(types.Message{
			Role:         types.RoleAssistant,
			Content:      payload.Response,
			Timestamp:    ts,
			FullResponse: payload.Full,
		})
		e.store.SetTyping(false)

	case types.EventTypingIndicator:
		var payload types.TypingPayload
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			return
		}
		if payload.SessionID != e.store.SessionID() {
			return
		}
		e.store.SetTyping(payload.Typing)

	case types.EventSessionUpdate:
		var session types.Session
		if err := json.Unmarshal(ev.Data, &session); err != nil || session.ID == "" {
			return
		}
		if session.ID == e.store.SessionID() {
			e.store.SetSession(session)
		}
		e.store.UpsertSummary(state.Summary{SessionSummary: types.SessionSummary{
			ID:        session.ID,
			Name:      session.Name,
			Type:      session.Type,
			CreatedAt: session.CreatedAt,
		}})

	case types.EventNewSessionCreated:
		var session types.Session
		if err := json.Unmarshal(ev.Data, &session); err != nil || session.ID == "" {
			return
		}
		id := session.ID
		e.store.UpsertSummary(state.Summary{
			SessionSummary: types.SessionSummary{
				ID:        session.ID,
				Name:      session.Name,
				Type:      session.Type,
				CreatedAt: session.CreatedAt,
			},
			Highlight: true,
		})
		e.after(highlightDelay, func() {
			e.store.ClearHighlight(id)
			e.render()
		})

	case types.EventSessionsList:
		var payload struct {
			Sessions []types.SessionSummary `json:"sessions"`
		}
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			return
		}
		e.store.SetSummaries(payload.Sessions)

	case types.EventSessionDeleted:
		id := ev.SessionID()
		if id == "" {
			return
		}
		if id == e.store.SessionID() {
			e.store.AddMessage(types.Message{
				Role:      types.RoleSystem,
				Content:   "This session was deleted. Create or select another session to continue.",
				Timestamp: types.Now(),
			})
			e.store.BlockInput(true)
			e.store.RemoveSummary(id)
			e.setPhase(PhaseUninitialized)
			return
		}
		e.store.MarkRemoving(id)
		e.after(removeDelay, func() {
			e.store.RemoveSummary(id)
			e.render()
		})

	case types.EventScoutLog, types.EventAnalystLog, types.EventChatLog, types.EventContextLog:
		var payload types.LogPayload
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			return
		}
		level := payload.Level
		if level == "" {
			level = "info"
		}
		e.store.AddActivity(level, ev.Name, payload.Message)

	case types.EventScoutResult, types.EventAnalystResult:
		e.store.AddActivity("info", ev.Name, "result received")
		if e.cache != nil {
			var payload struct {
				SessionID string `json:"session_id"`
				Title     string `json:"title"`
			}
			if json.Unmarshal(ev.Data, &payload) == nil && payload.SessionID != "" {
				_ = e.cache.AddResult(state.ResultSummary{
					SessionID: payload.SessionID,
					Type:      ev.Name,
					Title:     payload.Title,
					SavedAt:   types.Now(),
				})
			}
		}

	default:
		e.logger.Debugf("ignoring unknown push event %q", ev.Name)
	}
}

// Pump feeds push events into the engine until the channel closes.
func (e *Engine) Pump(events <-chan types.PushEvent) {
	for ev := range events {
		e.HandleEvent(ev)
	}
}

// RefreshSessions reloads the sidebar list. A failed list is shown empty and
// logged, matching the load-time behavior.
func (e *Engine) RefreshSessions(ctx context.Context) {
	summaries, err := e.client.ListSessions(ctx, "", 0, 0)
	if err != nil {
		e.store.AddActivity("error", "sessions", err.Error())
		e.store.SetSummaries(nil)
		e.render()
		return
	}
	e.store.SetSummaries(summaries)
	e.render()
}

// Delete removes a session. Deleting the current session disables input
// until another is chosen; deleting any other only drops its list entry.
// A server-side 404 counts as already deleted.
func (e *Engine) Delete(ctx context.Context, id string) error {
	if err := e.client.DeleteSession(ctx, id); err != nil {
		e.store.AddActivity("error", "delete", err.Error())
		e.store.AddMessage(errorMessage("Could not delete the session. " + err.Error()))
		e.render()
		return err
	}
	if id == e.store.SessionID() {
		e.CancelStream()
		e.store.Reset()
		e.store.BlockInput(true)
		e.setPhase(PhaseUninitialized)
	}
	e.store.RemoveSummary(id)
	e.store.AddActivity("info", "delete", "deleted session "+id)
	e.render()
	return nil
}

// Clear wipes the current session's history back to a single welcome
// message.
func (e *Engine) Clear(ctx context.Context) error {
	session, ok := e.store.Session()
	if !ok {
		return &api.ValidationError{Reason: "no open session"}
	}
	if err := e.client.ClearSession(ctx, session.ID); err != nil {
		e.store.AddActivity("error", "clear", err.Error())
		e.store.AddMessage(errorMessage("Could not clear the session. " + err.Error()))
		e.render()
		return err
	}
	e.store.SetHistory([]types.Message{welcomeMessage(session.Type)})
	e.render()
	return nil
}

// Rename changes the current session's display name.
func (e *Engine) Rename(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return &api.ValidationError{Reason: "name is empty"}
	}
	session, ok := e.store.Session()
	if !ok {
		return &api.ValidationError{Reason: "no open session"}
	}
	if err := e.client.RenameSession(ctx, session.ID, name); err != nil {
		e.store.AddActivity("error", "rename", err.Error())
		e.render()
		return err
	}
	session.Name = name
	e.store.SetSession(session)
	e.store.UpsertSummary(state.Summary{SessionSummary: types.SessionSummary{
		ID:        session.ID,
		Name:      session.Name,
		Type:      session.Type,
		CreatedAt: session.CreatedAt,
	}})
	e.render()
	return nil
}

// CatchUp fetches messages the client may have missed while unfocused and
// merges them with deduplication.
func (e *Engine) CatchUp(ctx context.Context) {
	session, ok := e.store.Session()
	if !ok || strings.HasPrefix(session.ID, localIDPrefix+"-") {
		return
	}
	messages, err := e.client.MessagesAfter(ctx, session.ID, e.store.MessageCount())
	if err != nil {
		e.store.AddActivity("warn", "catchup", err.Error())
		return
	}
	for _, msg := range messages {
		e.store.AddMessageDedup(msg)
	}
	e.render()
}

// Shutdown sends a best-effort heartbeat and cancels in-flight work. Called
// on exit.
func (e *Engine) Shutdown(ctx context.Context) {
	e.CancelStream()
	if session, ok := e.store.Session(); ok && !strings.HasPrefix(session.ID, localIDPrefix+"-") {
		e.client.Heartbeat(ctx, session.ID, types.Now())
	}
}

func welcomeMessage(typ string) types.Message {
	return types.Message{
		Role:      types.RoleSystem,
		Content:   types.Welcome(typ),
		Timestamp: types.Now(),
	}
}

func errorMessage(text string) types.Message {
	return types.Message{
		Role:      types.RoleSystem,
		Content:   text,
		Timestamp: types.Now(),
		Error:     true,
	}
}

func defaultName(typ string) string {
	if typ == "" {
		return "New Session"
	}
	return fmt.Sprintf("New %s%s Session", strings.ToUpper(typ[:1]), typ[1:])
}
