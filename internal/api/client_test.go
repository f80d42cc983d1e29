package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/research-kreat/kreat-agentic/internal/utils"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "user-test", srv.Client(), utils.NewLogger("debug"))
}

func TestListSessions(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/sessions", r.URL.Path)
		assert.Equal(t, "idea", r.URL.Query().Get("type"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Equal(t, "10", r.URL.Query().Get("skip"))
		fmt.Fprint(w, `{"sessions":[{"session_id":"s1","name":"One","type":"idea"}],"count":1}`)
	}))

	sessions, err := client.ListSessions(context.Background(), "idea", 5, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "s1", sessions[0].ID)
}

func TestListSessionsServerError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := client.ListSessions(context.Background(), "", 0, 0)
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, http.StatusInternalServerError, netErr.Status)
}

func TestGetSessionNotFound(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"Session not found"}`, http.StatusNotFound)
	}))

	_, _, err := client.GetSession(context.Background(), "missing")
	assert.True(t, IsNotFound(err))
}

func TestGetSession(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/sessions/abc", r.URL.Path)
		fmt.Fprint(w, `{
			"session": {"session_id":"abc","type":"idea","name":"My Idea"},
			"messages": [{"role":"system","content":"welcome","timestamp":"2025-01-01T00:00:00Z"}]
		}`)
	}))

	session, messages, err := client.GetSession(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", session.ID)
	require.Len(t, messages, 1)
	assert.Equal(t, "welcome", messages[0].Content)
}

func TestCreateSession(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/sessions/new", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "problem", body["type"])
		fmt.Fprint(w, `{"session_id":"new-1","type":"problem","name":"New Problem Session","created_at":"2025-01-01T00:00:00Z"}`)
	}))

	session, err := client.CreateSession(context.Background(), "problem", "")
	require.NoError(t, err)
	assert.Equal(t, "new-1", session.ID)
	assert.Equal(t, "New Problem Session", session.Name)
}

func TestDeleteSessionIdempotent(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
	}))

	assert.NoError(t, client.DeleteSession(context.Background(), "already-gone"),
		"a missing id is treated as already deleted")
}

func TestSendChat(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body["message"])
		assert.Equal(t, "s1", body["session_id"])
		fmt.Fprint(w, `{"response":"hi","session_id":"s1"}`)
	}))

	result, err := client.SendChat(context.Background(), "s1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hi", result.Response)
}

func TestAnalyzeBlockFirstTurn(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/analysis_of_block", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "user-test", body["user_id"])
		_, hasBlock := body["block_id"]
		assert.False(t, hasBlock, "first turn sends no block id")
		fmt.Fprint(w, `{
			"block_id":"b1","block_type":"idea","confidence":0.92,
			"response":{"suggestion":"What would you like to call it?","stakeholders":["founders"]}
		}`)
	}))

	result, err := client.AnalyzeBlock(context.Background(), "", "an app for gardeners")
	require.NoError(t, err)
	assert.Equal(t, "b1", result.BlockID)
	assert.Equal(t, "idea", result.BlockType)
	assert.Equal(t, "What would you like to call it?", result.Suggestion())
}

func TestMessagesAfter(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "3", r.URL.Query().Get("after"))
		fmt.Fprint(w, `{"messages":[{"role":"assistant","content":"late reply","timestamp":"2025-01-01T00:00:10Z"}]}`)
	}))

	messages, err := client.MessagesAfter(context.Background(), "s1", 3)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "late reply", messages[0].Content)
}

func TestStreamChat(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, chunk := range []string{"Hel", "lo ", "there"} {
			fmt.Fprintf(w, "data: {\"chunk\":%q}\n\n", chunk)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))

	chunks, err := client.StreamChat(context.Background(), "s1", "hi")
	require.NoError(t, err)

	var text string
	var done bool
	for chunk := range chunks {
		require.NoError(t, chunk.Err)
		if chunk.Done {
			done = true
			continue
		}
		text += chunk.Text
	}
	assert.True(t, done, "stream must end with the sentinel")
	assert.Equal(t, "Hello there", text)
}

func TestStreamChatTruncated(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"chunk\":\"partial\"}\n\n")
		// No sentinel: connection closes mid-stream.
	}))

	chunks, err := client.StreamChat(context.Background(), "s1", "hi")
	require.NoError(t, err)

	var last StreamChunk
	for chunk := range chunks {
		last = chunk
	}
	require.Error(t, last.Err, "a stream ending without the sentinel is an error")
	var streamErr *StreamError
	assert.ErrorAs(t, last.Err, &streamErr)
}
