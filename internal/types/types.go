package types

import (
	"encoding/json"
	"time"
)

// Message roles. Fixed set; anything else coming off the wire is kept as-is
// but rendered like a system line.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Session is one persisted conversation thread on the KRAFT backend.
type Session struct {
	ID           string `json:"session_id"`
	Type         string `json:"type"`
	Name         string `json:"name"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at,omitempty"`
	MessageCount int    `json:"message_count,omitempty"`
	Status       string `json:"status,omitempty"`
}

// ShortID returns the first 8 characters of the session ID for display and
// export file naming.
func (s Session) ShortID() string {
	if len(s.ID) >= 8 {
		return s.ID[:8]
	}
	return s.ID
}

// SessionSummary is the sidebar entry for a session: identity plus the few
// fields the list renders. Unique by ID within a list.
type SessionSummary struct {
	ID        string `json:"session_id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	CreatedAt string `json:"created_at"`
}

// Message is one turn in a conversation. Messages are never mutated after
// they are appended to a history.
type Message struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`

	// FullResponse carries the assistant's structured payload (stakeholders,
	// risks, tags, ...). Keys outside the known card set are ignored for
	// rendering but preserved for export.
	FullResponse map[string]any `json:"full_response,omitempty"`

	// Error marks a surfaced client-side failure rather than assistant
	// content.
	Error bool `json:"error,omitempty"`
}

// Equal reports whether two messages describe the same logical event. Role,
// content and timestamp must all match exactly; this is the dedup rule for
// messages arriving via both the REST and push paths.
func (m Message) Equal(other Message) bool {
	return m.Role == other.Role && m.Content == other.Content && m.Timestamp == other.Timestamp
}

// ChatResult is the reply to POST /api/chat in single-shot mode.
type ChatResult struct {
	Response  string   `json:"response"`
	SessionID string   `json:"session_id"`
	Actions   []string `json:"actions,omitempty"`
}

// AnalysisResult is the reply to POST /api/analysis_of_block. On a first
// turn (no block id sent) the server classifies the input and assigns both
// the block id and type.
type AnalysisResult struct {
	BlockID    string         `json:"block_id"`
	BlockType  string         `json:"block_type"`
	Confidence float64        `json:"confidence,omitempty"`
	Response   map[string]any `json:"response"`
}

// Suggestion extracts the assistant's conversational reply from the
// structured analysis payload.
func (r AnalysisResult) Suggestion() string {
	if r.Response == nil {
		return ""
	}
	if s, ok := r.Response["suggestion"].(string); ok {
		return s
	}
	return ""
}

// Export is the artifact written by the export action.
type Export struct {
	SessionID  string    `json:"session_id"`
	Type       string    `json:"type"`
	Messages   []Message `json:"messages"`
	ExportedAt string    `json:"exported_at"`
}

// Push channel event names.
const (
	EventConnect           = "connect"
	EventDisconnect        = "disconnect"
	EventError             = "error"
	EventStatus            = "status"
	EventChatResponse      = "chat_response"
	EventTypingIndicator   = "typing_indicator"
	EventSessionUpdate     = "session_update"
	EventNewSessionCreated = "new_session_created"
	EventSessionsList      = "sessions_list"
	EventSessionDeleted    = "session_deleted"
	EventScoutLog          = "scout_log"
	EventAnalystLog        = "analyst_log"
	EventChatLog           = "chat_log"
	EventContextLog        = "context_log"
	EventScoutResult       = "scout_result"
	EventAnalystResult     = "analyst_result"
)

// PushEvent is one typed event off the push channel: a name plus a JSON
// payload containing at least the relevant session id (for session-scoped
// events).
type PushEvent struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// SessionID digs the session/block id out of the payload without forcing
// callers to know each event's full shape.
func (e PushEvent) SessionID() string {
	var probe struct {
		SessionID string `json:"session_id"`
		BlockID   string `json:"block_id"`
	}
	if err := json.Unmarshal(e.Data, &probe); err != nil {
		return ""
	}
	if probe.SessionID != "" {
		return probe.SessionID
	}
	return probe.BlockID
}

// ChatResponsePayload is the body of a chat_response event.
type ChatResponsePayload struct {
	SessionID string         `json:"session_id"`
	Response  string         `json:"response"`
	Timestamp string         `json:"timestamp"`
	Full      map[string]any `json:"full_response,omitempty"`
}

// TypingPayload is the body of a typing_indicator event.
type TypingPayload struct {
	SessionID string `json:"session_id"`
	Typing    bool   `json:"typing"`
}

// LogPayload is the body of the *_log events (scout_log, analyst_log,
// chat_log, context_log).
type LogPayload struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	Level     string `json:"level,omitempty"`
}

// Now returns the client-side timestamp format used for user messages and
// normalization fallbacks.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
