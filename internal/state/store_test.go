package state

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/research-kreat/kreat-agentic/internal/types"
)

func TestMessageCountTracksHistory(t *testing.T) {
	s := NewStore(10)
	for i := 0; i < 25; i++ {
		s.AddMessage(types.Message{Role: types.RoleUser, Content: fmt.Sprintf("msg %d", i)})
		assert.Equal(t, len(s.History()), s.MessageCount())
	}
	assert.Equal(t, 25, s.MessageCount())
}

func TestSetHistoryNormalizesTimestamps(t *testing.T) {
	s := NewStore(10)
	s.SetHistory([]types.Message{
		{Role: types.RoleUser, Content: "no timestamp"},
		{Role: types.RoleAssistant, Content: "keeps timestamp", Timestamp: "2025-01-02T03:04:05Z"},
	})

	history := s.History()
	require.Len(t, history, 2)
	assert.NotEmpty(t, history[0].Timestamp, "missing timestamp must be assigned")
	assert.Equal(t, "2025-01-02T03:04:05Z", history[1].Timestamp, "explicit timestamp must pass through unchanged")
}

func TestAddMessageAssignsTimestamp(t *testing.T) {
	s := NewStore(10)
	s.AddMessage(types.Message{Role: types.RoleSystem, Content: "hi"})
	assert.NotEmpty(t, s.History()[0].Timestamp)
}

func TestAddMessageDedup(t *testing.T) {
	s := NewStore(10)
	msg := types.Message{Role: types.RoleAssistant, Content: "hello", Timestamp: "2025-01-02T03:04:05Z"}

	assert.True(t, s.AddMessageDedup(msg))
	assert.False(t, s.AddMessageDedup(msg), "identical role/content/timestamp must be dropped")
	assert.Equal(t, 1, s.MessageCount())

	// Any field differing means a distinct event.
	later := msg
	later.Timestamp = "2025-01-02T03:04:06Z"
	assert.True(t, s.AddMessageDedup(later))
	assert.Equal(t, 2, s.MessageCount())
}

func TestUpsertSummaryPrependsNewAndReplacesExisting(t *testing.T) {
	s := NewStore(10)
	s.UpsertSummary(Summary{SessionSummary: types.SessionSummary{ID: "a", Name: "first"}})
	s.UpsertSummary(Summary{SessionSummary: types.SessionSummary{ID: "b", Name: "second"}})

	entries := s.Summaries()
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].ID, "new entries are prepended")

	s.UpsertSummary(Summary{SessionSummary: types.SessionSummary{ID: "a", Name: "renamed"}})
	entries = s.Summaries()
	require.Len(t, entries, 2, "updates must replace in place, not duplicate")
	assert.Equal(t, "renamed", entries[1].Name)
}

func TestRemoveSummary(t *testing.T) {
	s := NewStore(10)
	s.UpsertSummary(Summary{SessionSummary: types.SessionSummary{ID: "a"}})
	s.RemoveSummary("a")
	s.RemoveSummary("missing") // no-op
	assert.Empty(t, s.Summaries())
}

func TestHighlightAndRemovingFlags(t *testing.T) {
	s := NewStore(10)
	s.UpsertSummary(Summary{SessionSummary: types.SessionSummary{ID: "a"}, Highlight: true})
	assert.True(t, s.Summaries()[0].Highlight)

	s.ClearHighlight("a")
	assert.False(t, s.Summaries()[0].Highlight)

	s.MarkRemoving("a")
	assert.True(t, s.Summaries()[0].Removing)
}

func TestResetKeepsIdentityAndActivity(t *testing.T) {
	s := NewStore(10)
	s.SetIdentity("user-1")
	s.SetSession(types.Session{ID: "sess-1"})
	s.AddMessage(types.Message{Role: types.RoleUser, Content: "hi"})
	s.SetTyping(true)
	s.BlockInput(true)
	s.AddActivity("info", "test", "line")

	s.Reset()

	assert.Equal(t, "user-1", s.Identity())
	assert.Zero(t, s.MessageCount())
	assert.False(t, s.Typing())
	assert.False(t, s.InputBlocked())
	_, open := s.Session()
	assert.False(t, open)
	assert.Len(t, s.Activity(), 1)
}

func TestActivityLogBounded(t *testing.T) {
	s := NewStore(5)
	for i := 0; i < 20; i++ {
		s.AddActivity("info", "test", fmt.Sprintf("line %d", i))
	}
	entries := s.Activity()
	require.Len(t, entries, 5)
	assert.Equal(t, "line 19", entries[4].Text)
}

func TestDiskCacheIdentityStable(t *testing.T) {
	dir := t.TempDir()
	cache := NewDiskCache(dir, 5)

	first, err := cache.LoadIdentity()
	require.NoError(t, err)
	require.NotEmpty(t, first.UserID)

	second, err := cache.LoadIdentity()
	require.NoError(t, err)
	assert.Equal(t, first.UserID, second.UserID, "identity must survive reloads")
}

func TestDiskCacheResultsBounded(t *testing.T) {
	cache := NewDiskCache(t.TempDir(), 3)
	for i := 0; i < 6; i++ {
		require.NoError(t, cache.AddResult(ResultSummary{
			SessionID: fmt.Sprintf("s%d", i),
			SavedAt:   fmt.Sprintf("2025-01-0%dT00:00:00Z", i+1),
		}))
	}
	results, err := cache.LoadResults()
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "s5", results[0].SessionID, "newest entry first")
}
