// Package state holds the client's single authoritative in-memory snapshot:
// identity, the current session, its ordered message history, typing and
// connection flags, the session summary list, and a bounded activity log.
// Mutations replace whole slices so readers always observe a consistent
// snapshot.
package state

import (
	"sync"
	"time"

	"github.com/research-kreat/kreat-agentic/internal/types"
)

// ActivityEntry is one line of the activity log.
type ActivityEntry struct {
	Level  string
	Source string
	Text   string
	Time   time.Time
}

// Summary decorates a session list entry with transient display state.
type Summary struct {
	types.SessionSummary
	Highlight bool // newly created, cosmetic
	Removing  bool // pending deletion, cosmetic
}

// Store is the client state store. All methods are safe for concurrent use;
// accessors return copies.
type Store struct {
	mu sync.RWMutex

	identity string

	current      types.Session
	hasSession   bool
	history      []types.Message
	typing       bool
	disconnected bool
	inputBlocked bool

	summaries []Summary

	activity    []ActivityEntry
	activityCap int
}

func NewStore(activityCap int) *Store {
	if activityCap <= 0 {
		activityCap = 200
	}
	return &Store{activityCap: activityCap}
}

// SetIdentity records the persisted client identity.
func (s *Store) SetIdentity(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = id
}

func (s *Store) Identity() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// SetSession makes a session current. Switching sessions always goes through
// SetHistory as well, so the history never refers to a different session.
func (s *Store) SetSession(session types.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = session
	s.hasSession = true
	s.inputBlocked = false
}

// Session returns the current session and whether one is open.
func (s *Store) Session() (types.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.hasSession
}

// SessionID returns the current session id, or "" when none is open.
func (s *Store) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasSession {
		return ""
	}
	return s.current.ID
}

// AddMessage appends one message to the history. The displayed message count
// is always len(History()); there is no separate counter to drift.
func (s *Store) AddMessage(msg types.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, normalize(msg))
}

// AddMessageDedup appends unless an identical message (same role, content
// and timestamp) is already present. Duplicates are dropped, not merged.
// Reports whether the message was appended.
func (s *Store) AddMessageDedup(msg types.Message) bool {
	msg = normalize(msg)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.history {
		if existing.Equal(msg) {
			return false
		}
	}
	s.history = append(s.history, msg)
	return true
}

// SetHistory replaces the whole history. Every message is normalized so a
// timestamp is always present.
func (s *Store) SetHistory(msgs []types.Message) {
	next := make([]types.Message, len(msgs))
	for i, m := range msgs {
		next[i] = normalize(m)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = next
}

// History returns a copy of the message history.
func (s *Store) History() []types.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Message, len(s.history))
	copy(out, s.history)
	return out
}

// MessageCount is the length of the history.
func (s *Store) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

func (s *Store) SetTyping(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typing = v
}

func (s *Store) Typing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.typing
}

// SetDisconnected marks the push channel as permanently down. REST
// operations stay usable.
func (s *Store) SetDisconnected(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnected = v
}

func (s *Store) Disconnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.disconnected
}

// BlockInput disables the composer, used when the current session is deleted
// out from under the client.
func (s *Store) BlockInput(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputBlocked = v
}

func (s *Store) InputBlocked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inputBlocked
}

// UpsertSummary updates a list entry in place when the id is already
// present, otherwise prepends it (new entries surface at the top).
func (s *Store) UpsertSummary(entry Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.summaries {
		if existing.ID == entry.ID {
			next := make([]Summary, len(s.summaries))
			copy(next, s.summaries)
			next[i] = entry
			s.summaries = next
			return
		}
	}
	next := make([]Summary, 0, len(s.summaries)+1)
	next = append(next, entry)
	next = append(next, s.summaries...)
	s.summaries = next
}

// RemoveSummary drops a list entry by id. Unknown ids are a no-op.
func (s *Store) RemoveSummary(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make([]Summary, 0, len(s.summaries))
	for _, existing := range s.summaries {
		if existing.ID != id {
			next = append(next, existing)
		}
	}
	s.summaries = next
}

// SetSummaries replaces the session list wholesale.
func (s *Store) SetSummaries(entries []types.SessionSummary) {
	next := make([]Summary, len(entries))
	for i, e := range entries {
		next[i] = Summary{SessionSummary: e}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries = next
}

// Summaries returns a copy of the session list.
func (s *Store) Summaries() []Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Summary, len(s.summaries))
	copy(out, s.summaries)
	return out
}

// ClearHighlight drops the transient highlight from a list entry.
func (s *Store) ClearHighlight(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.summaries {
		if existing.ID == id && existing.Highlight {
			next := make([]Summary, len(s.summaries))
			copy(next, s.summaries)
			next[i].Highlight = false
			s.summaries = next
			return
		}
	}
}

// MarkRemoving flags a list entry as pending removal (cosmetic delay before
// the entry actually disappears).
func (s *Store) MarkRemoving(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.summaries {
		if existing.ID == id {
			next := make([]Summary, len(s.summaries))
			copy(next, s.summaries)
			next[i].Removing = true
			s.summaries = next
			return
		}
	}
}

// AddActivity appends a line to the bounded activity log.
func (s *Store) AddActivity(level, source, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activity = append(s.activity, ActivityEntry{
		Level:  level,
		Source: source,
		Text:   text,
		Time:   time.Now().UTC(),
	})
	if len(s.activity) > s.activityCap {
		s.activity = s.activity[len(s.activity)-s.activityCap:]
	}
}

// Activity returns a copy of the activity log.
func (s *Store) Activity() []ActivityEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ActivityEntry, len(s.activity))
	copy(out, s.activity)
	return out
}

// Reset returns the store to the post-identity, pre-session state. Identity
// and the activity log survive; everything session-scoped is dropped.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = types.Session{}
	s.hasSession = false
	s.history = nil
	s.typing = false
	s.inputBlocked = false
}

// normalize guarantees a timestamp is present, assigning one at
// normalization time if absent. Explicit timestamps pass through unchanged.
func normalize(msg types.Message) types.Message {
	if msg.Timestamp == "" {
		msg.Timestamp = types.Now()
	}
	return msg
}
