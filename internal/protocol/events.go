package protocol

import (
	"bytes"
	"encoding/json"
)

// Event names of the companion chat protocol.
const (
	EventJoinChat    = "join_chat"
	EventSendMessage = "send_message"

	EventConnected       = "connected"
	EventChatJoined      = "chat_joined"
	EventMessageReceived = "message_received"
	EventResponseStart   = "response_start"
	EventResponseChunk   = "response_chunk"
	EventResponseEnd     = "response_end"
	EventError           = "error"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// JoinChat asks the server to enter a companion's conversation.
type JoinChat struct {
	CompanionID   int    `json:"companion_id"`
	UserID        string `json:"user_id"`
	ChatSessionID *int   `json:"chat_session_id,omitempty"`
}

// SendMessage submits one user utterance.
type SendMessage struct {
	Message   string `json:"message"`
	SessionID *int   `json:"session_id,omitempty"`
}

// Greeting is the server's "connected" event.
type Greeting struct {
	Message string `json:"message"`
}

// ChatJoined acknowledges a join with the conversation history.
type ChatJoined struct {
	CompanionID   int           `json:"companion_id"`
	ChatSessionID *int          `json:"chat_session_id,omitempty"`
	Message       string        `json:"message"`
	History       []ChatMessage `json:"history"`
}

// ResponseChunk is one fragment of a streamed reply. Seq is optional; when the
// server numbers fragments they start at zero.
type ResponseChunk struct {
	Chunk string `json:"chunk"`
	Seq   *int   `json:"seq,omitempty"`
}

// ErrorPayload reports a server-side failure.
type ErrorPayload struct {
	Message string `json:"message"`
}

// ChatMessage is a persisted or echoed chat message. Older servers echo the
// user message as {message, timestamp}; both shapes decode into this type.
type ChatMessage struct {
	ID        *int64 `json:"id,omitempty"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID        *int64          `json:"id"`
		Role      string          `json:"role"`
		Content   string          `json:"content"`
		Message   string          `json:"message"`
		Timestamp json.RawMessage `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.ID = raw.ID
	m.Role = raw.Role
	m.Content = raw.Content
	if m.Content == "" && raw.Message != "" {
		m.Content = raw.Message
		if m.Role == "" {
			m.Role = RoleUser
		}
	}
	m.Timestamp = decodeTimestamp(raw.Timestamp)
	return nil
}

func decodeTimestamp(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return ""
	}
	return n.String()
}
