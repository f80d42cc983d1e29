package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/research-kreat/kreat-agentic/internal/api"
	"github.com/research-kreat/kreat-agentic/internal/config"
	"github.com/research-kreat/kreat-agentic/internal/state"
	"github.com/research-kreat/kreat-agentic/internal/types"
	"github.com/research-kreat/kreat-agentic/internal/utils"
)

// fakeBackend is a minimal KRAFT server covering the endpoints the engine
// touches.
type fakeBackend struct {
	mu       sync.Mutex
	sessions map[string]types.Session
	created  int
	deleted  []string
	cleared  []string
	renamed  map[string]string
	chatFn   http.HandlerFunc
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		sessions: map[string]types.Session{},
		renamed:  map[string]string{},
	}
}

func (f *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sessions/new", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.created++
		session := types.Session{
			ID:        fmt.Sprintf("srv-%d", f.created),
			Type:      body["type"],
			Name:      "New Session",
			CreatedAt: "2025-01-01T00:00:00Z",
		}
		f.sessions[session.ID] = session
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(session)
	})
	mux.HandleFunc("GET /api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		session, ok := f.sessions[r.PathValue("id")]
		f.mu.Unlock()
		if !ok {
			http.Error(w, `{"error":"Session not found"}`, http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"session":  session,
			"messages": []types.Message{},
		})
	})
	mux.HandleFunc("DELETE /api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.deleted = append(f.deleted, r.PathValue("id"))
		delete(f.sessions, r.PathValue("id"))
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	})
	mux.HandleFunc("POST /api/sessions/{id}/clear", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.cleared = append(f.cleared, r.PathValue("id"))
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	})
	mux.HandleFunc("POST /api/sessions/{id}/rename", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.renamed[r.PathValue("id")] = body["name"]
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	})
	mux.HandleFunc("POST /api/sessions/{id}/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	})
	mux.HandleFunc("POST /api/chat", func(w http.ResponseWriter, r *http.Request) {
		if f.chatFn != nil {
			f.chatFn(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(types.ChatResult{Response: "hi"})
	})
	mux.HandleFunc("POST /api/analysis_of_block", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		result := types.AnalysisResult{
			BlockID:   "block-1",
			BlockType: "idea",
			Response: map[string]any{
				"suggestion":   "What would you like to call it?",
				"stakeholders": []any{"founders", "users"},
			},
		}
		if body["block_id"] != "" {
			result.BlockID = body["block_id"]
			result.Response = map[string]any{"suggestion": "Noted."}
		}
		_ = json.NewEncoder(w).Encode(result)
	})
	return mux
}

func newTestEngine(t *testing.T, backend *fakeBackend, sessionType string) (*Engine, *state.Store) {
	t.Helper()
	srv := httptest.NewServer(backend.handler())
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.APIURL = srv.URL
	cfg.SessionType = sessionType
	cfg.DataDir = t.TempDir()

	logger := utils.NewLogger("debug")
	store := state.NewStore(cfg.ActivityLines)
	store.SetIdentity("user-test")
	client := api.NewClient(srv.URL, "user-test", srv.Client(), logger)
	cache := state.NewDiskCache(cfg.DataDir, cfg.RecentResults)
	return NewEngine(cfg, client, store, cache, logger), store
}

func TestOpenWithoutIDCreatesSessionWithWelcome(t *testing.T) {
	engine, store := newTestEngine(t, newFakeBackend(), "general")

	require.NoError(t, engine.Open(context.Background(), ""))

	assert.Equal(t, PhaseReady, engine.Phase())
	history := store.History()
	require.Len(t, history, 1, "exactly one system welcome message")
	assert.Equal(t, types.RoleSystem, history[0].Role)
	assert.Equal(t, 1, store.MessageCount())
}

func TestOpenUnknownIDFallsBackToCreate(t *testing.T) {
	engine, store := newTestEngine(t, newFakeBackend(), "general")

	err := engine.Open(context.Background(), "abc")

	require.NoError(t, err, "a 404 must not surface as a fatal error")
	assert.Equal(t, PhaseReady, engine.Phase())
	session, ok := store.Session()
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(session.ID, "srv-"), "fell back to a fresh server session")
	require.Len(t, store.History(), 1)
	assert.False(t, store.History()[0].Error)
}

func TestSendAppendsUserThenAssistant(t *testing.T) {
	engine, store := newTestEngine(t, newFakeBackend(), "general")
	require.NoError(t, engine.Open(context.Background(), ""))

	var typingSeen []bool
	engine.SetNotifier(func() { typingSeen = append(typingSeen, store.Typing()) })

	before := store.MessageCount()
	require.NoError(t, engine.Send(context.Background(), "hello"))

	history := store.History()
	require.Equal(t, before+2, len(history), "one user plus one assistant message")
	assert.Equal(t, types.RoleUser, history[before].Role)
	assert.Equal(t, "hello", history[before].Content)
	assert.Equal(t, types.RoleAssistant, history[before+1].Role)
	assert.Equal(t, "hi", history[before+1].Content)

	assert.Contains(t, typingSeen, true, "typing was set while awaiting the reply")
	assert.False(t, store.Typing(), "typing cleared once the reply landed")
}

func TestSendEmptyRejected(t *testing.T) {
	engine, store := newTestEngine(t, newFakeBackend(), "general")
	require.NoError(t, engine.Open(context.Background(), ""))

	err := engine.Send(context.Background(), "   ")

	var verr *api.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 1, store.MessageCount(), "nothing appended")
}

func TestSendFailureSurfacesSystemMessage(t *testing.T) {
	backend := newFakeBackend()
	backend.chatFn = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}
	engine, store := newTestEngine(t, backend, "general")
	require.NoError(t, engine.Open(context.Background(), ""))

	err := engine.Send(context.Background(), "hello")

	require.Error(t, err)
	history := store.History()
	last := history[len(history)-1]
	assert.Equal(t, types.RoleSystem, last.Role)
	assert.True(t, last.Error, "failure shown as an error-flagged system message")
	assert.False(t, store.Typing(), "typing cleared even on failure")
}

func TestBlockPlaceholderReconciledOnFirstTurn(t *testing.T) {
	engine, store := newTestEngine(t, newFakeBackend(), "idea")
	require.NoError(t, engine.Open(context.Background(), ""))

	session, ok := store.Session()
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(session.ID, "local-"), "block conversations start as placeholders")

	require.NoError(t, engine.Send(context.Background(), "an app for gardeners"))

	session, _ = store.Session()
	assert.Equal(t, "block-1", session.ID, "placeholder replaced by the server-assigned id")

	history := store.History()
	last := history[len(history)-1]
	assert.Equal(t, types.RoleAssistant, last.Role)
	require.NotNil(t, last.FullResponse)
	assert.Contains(t, last.FullResponse, "stakeholders")
}

func TestDeleteCurrentDisablesInput(t *testing.T) {
	engine, store := newTestEngine(t, newFakeBackend(), "general")
	require.NoError(t, engine.Open(context.Background(), ""))
	current := store.SessionID()

	require.NoError(t, engine.Delete(context.Background(), current))

	assert.True(t, store.InputBlocked())
	assert.Equal(t, PhaseUninitialized, engine.Phase())
	_, open := store.Session()
	assert.False(t, open)
}

func TestDeleteOtherOnlyRemovesListEntry(t *testing.T) {
	engine, store := newTestEngine(t, newFakeBackend(), "general")
	require.NoError(t, engine.Open(context.Background(), ""))
	store.UpsertSummary(state.Summary{SessionSummary: types.SessionSummary{ID: "other"}})

	require.NoError(t, engine.Delete(context.Background(), "other"))

	assert.False(t, store.InputBlocked())
	assert.Equal(t, PhaseReady, engine.Phase())
	for _, entry := range store.Summaries() {
		assert.NotEqual(t, "other", entry.ID)
	}
}

func TestClearResetsToSingleWelcome(t *testing.T) {
	backend := newFakeBackend()
	engine, store := newTestEngine(t, backend, "general")
	require.NoError(t, engine.Open(context.Background(), ""))
	require.NoError(t, engine.Send(context.Background(), "hello"))
	require.Equal(t, 3, store.MessageCount())

	require.NoError(t, engine.Clear(context.Background()))

	history := store.History()
	require.Len(t, history, 1)
	assert.Equal(t, types.RoleSystem, history[0].Role)
	assert.Contains(t, backend.cleared, store.SessionID())
}

func TestChatResponsePushDedupedAgainstRESTCopy(t *testing.T) {
	engine, store := newTestEngine(t, newFakeBackend(), "general")
	require.NoError(t, engine.Open(context.Background(), ""))
	require.NoError(t, engine.Send(context.Background(), "hello"))

	history := store.History()
	echo := history[len(history)-1] // the assistant reply that arrived via REST
	payload, _ := json.Marshal(types.ChatResponsePayload{
		SessionID: store.SessionID(),
		Response:  echo.Content,
		Timestamp: echo.Timestamp,
	})

	engine.HandleEvent(types.PushEvent{Name: types.EventChatResponse, Data: payload})

	assert.Equal(t, len(history), store.MessageCount(),
		"the same logical response via the push path must be dropped")
}

func TestPushEventsForOtherSessionsIgnored(t *testing.T) {
	engine, store := newTestEngine(t, newFakeBackend(), "general")
	require.NoError(t, engine.Open(context.Background(), ""))
	before := store.MessageCount()

	payload, _ := json.Marshal(types.ChatResponsePayload{
		SessionID: "some-other-session",
		Response:  "not for you",
		Timestamp: "2025-01-01T00:00:00Z",
	})
	engine.HandleEvent(types.PushEvent{Name: types.EventChatResponse, Data: payload})

	assert.Equal(t, before, store.MessageCount())
}

func TestNewSessionCreatedHighlightsThenClears(t *testing.T) {
	engine, store := newTestEngine(t, newFakeBackend(), "general")

	var pending []func()
	engine.SetScheduler(func(_ time.Duration, fn func()) { pending = append(pending, fn) })

	payload, _ := json.Marshal(types.Session{ID: "fresh", Name: "Fresh", Type: "idea"})
	engine.HandleEvent(types.PushEvent{Name: types.EventNewSessionCreated, Data: payload})

	entries := store.Summaries()
	require.Len(t, entries, 1)
	assert.Equal(t, "fresh", entries[0].ID, "prepended")
	assert.True(t, entries[0].Highlight)

	require.Len(t, pending, 1)
	pending[0]()
	assert.False(t, store.Summaries()[0].Highlight, "highlight auto-clears")
}

func TestSessionDeletedPushForCurrentSession(t *testing.T) {
	engine, store := newTestEngine(t, newFakeBackend(), "general")
	require.NoError(t, engine.Open(context.Background(), ""))

	payload, _ := json.Marshal(map[string]string{"session_id": store.SessionID()})
	engine.HandleEvent(types.PushEvent{Name: types.EventSessionDeleted, Data: payload})

	assert.True(t, store.InputBlocked())
	assert.Equal(t, PhaseUninitialized, engine.Phase())
	history := store.History()
	last := history[len(history)-1]
	assert.Equal(t, types.RoleSystem, last.Role)
	assert.Contains(t, last.Content, "deleted")
}

func TestSessionDeletedPushForOtherSession(t *testing.T) {
	engine, store := newTestEngine(t, newFakeBackend(), "general")
	require.NoError(t, engine.Open(context.Background(), ""))

	var pending []func()
	engine.SetScheduler(func(_ time.Duration, fn func()) { pending = append(pending, fn) })
	store.UpsertSummary(state.Summary{SessionSummary: types.SessionSummary{ID: "other"}})

	payload, _ := json.Marshal(map[string]string{"session_id": "other"})
	engine.HandleEvent(types.PushEvent{Name: types.EventSessionDeleted, Data: payload})

	require.Len(t, store.Summaries(), 2)
	assert.True(t, store.Summaries()[0].Removing || store.Summaries()[1].Removing)
	assert.False(t, store.InputBlocked())

	require.Len(t, pending, 1)
	pending[0]()
	for _, entry := range store.Summaries() {
		assert.NotEqual(t, "other", entry.ID)
	}
}

func TestReconnectExhaustedSetsDisconnected(t *testing.T) {
	engine, store := newTestEngine(t, newFakeBackend(), "general")

	engine.HandleEvent(types.PushEvent{
		Name: types.EventDisconnect,
		Data: json.RawMessage(`{"reason":"reconnect_exhausted"}`),
	})

	assert.True(t, store.Disconnected())
}

func TestStreamingCancellationDiscardsChunks(t *testing.T) {
	release := make(chan struct{})
	backend := newFakeBackend()
	backend.chatFn = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"chunk\":\"par\"}\n\n")
		flusher.Flush()
		<-release
		fmt.Fprint(w, "data: {\"chunk\":\"tial\"}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}
	engine, store := newTestEngine(t, backend, "general")
	engine.cfg.Streaming = true
	require.NoError(t, engine.Open(context.Background(), ""))

	require.NoError(t, engine.Send(context.Background(), "hello"))
	require.Eventually(t, func() bool {
		return engine.StreamingText() == "par"
	}, 2*time.Second, 5*time.Millisecond)
	before := store.MessageCount() // welcome + user

	engine.CancelStream()
	close(release)

	// Give the consumer goroutine time to drain the stale chunks.
	assert.Never(t, func() bool {
		return store.MessageCount() != before
	}, 200*time.Millisecond, 20*time.Millisecond,
		"chunks arriving after cancellation must never reach the history")
	assert.Empty(t, engine.StreamingText())
}

func TestStreamingCommitsOnSentinel(t *testing.T) {
	backend := newFakeBackend()
	backend.chatFn = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"chunk\":\"Hel\"}\n\n")
		fmt.Fprint(w, "data: {\"chunk\":\"lo\"}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}
	engine, store := newTestEngine(t, backend, "general")
	engine.cfg.Streaming = true
	require.NoError(t, engine.Open(context.Background(), ""))

	require.NoError(t, engine.Send(context.Background(), "hi"))

	require.Eventually(t, func() bool {
		history := store.History()
		return len(history) == 3 && history[2].Content == "Hello"
	}, 2*time.Second, 5*time.Millisecond)
	assert.False(t, store.Typing())
}

func TestStreamErrorAppendsSystemMessageNotPartial(t *testing.T) {
	backend := newFakeBackend()
	backend.chatFn = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"chunk\":\"par\"}\n\n")
		// Connection closes without the sentinel.
	}
	engine, store := newTestEngine(t, backend, "general")
	engine.cfg.Streaming = true
	require.NoError(t, engine.Open(context.Background(), ""))

	require.NoError(t, engine.Send(context.Background(), "hi"))

	require.Eventually(t, func() bool {
		history := store.History()
		if len(history) != 3 {
			return false
		}
		last := history[2]
		return last.Role == types.RoleSystem && last.Error
	}, 2*time.Second, 5*time.Millisecond, "partial buffer replaced by a system error message")
	for _, msg := range store.History() {
		assert.NotEqual(t, "par", msg.Content)
	}
}

func TestRenameUpdatesSessionAndList(t *testing.T) {
	backend := newFakeBackend()
	engine, store := newTestEngine(t, backend, "general")
	require.NoError(t, engine.Open(context.Background(), ""))
	id := store.SessionID()

	require.NoError(t, engine.Rename(context.Background(), "Garden App"))

	session, _ := store.Session()
	assert.Equal(t, "Garden App", session.Name)
	assert.Equal(t, "Garden App", backend.renamed[id])
}

func TestExport(t *testing.T) {
	engine, store := newTestEngine(t, newFakeBackend(), "general")
	require.NoError(t, engine.Open(context.Background(), ""))
	require.NoError(t, engine.Send(context.Background(), "hello"))

	dir := t.TempDir()
	path, err := engine.Export(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc types.Export
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, store.SessionID(), doc.SessionID)
	assert.Len(t, doc.Messages, store.MessageCount())
	assert.NotEmpty(t, doc.ExportedAt)
}

func TestExportEmptyRejected(t *testing.T) {
	engine, store := newTestEngine(t, newFakeBackend(), "general")
	require.NoError(t, engine.Open(context.Background(), ""))
	store.SetHistory(nil)

	dir := t.TempDir()
	_, err := engine.Export(dir)

	var verr *api.ValidationError
	require.ErrorAs(t, err, &verr)
	entries, readErr := os.ReadDir(dir)
	require.NoError(t, readErr)
	assert.Empty(t, entries, "no file produced")
}

func TestCatchUpMergesWithDedup(t *testing.T) {
	backend := newFakeBackend()
	srvMessages := []types.Message{
		{Role: types.RoleAssistant, Content: "hi", Timestamp: "2025-01-01T00:00:01Z"},
		{Role: types.RoleAssistant, Content: "anything else?", Timestamp: "2025-01-01T00:00:02Z"},
	}
	engine, store := newTestEngine(t, backend, "general")

	// Wire the catch-up endpoint after engine construction so it can close
	// over the test data.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"messages": srvMessages})
	}))
	defer srv.Close()
	engine.client = api.NewClient(srv.URL, "user-test", srv.Client(), utils.NewLogger("debug"))

	store.SetSession(types.Session{ID: "srv-1", Type: "general"})
	store.SetHistory([]types.Message{srvMessages[0]}) // already have the first

	engine.CatchUp(context.Background())

	require.Equal(t, 2, store.MessageCount(), "duplicate dropped, new message merged")
	assert.Equal(t, "anything else?", store.History()[1].Content)
}
