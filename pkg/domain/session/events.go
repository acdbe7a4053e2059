package session

import (
	"github.com/sipeed/agentc/pkg/domain/message"
	"github.com/sipeed/agentc/pkg/events"
)

// ChatSessionChangedPayload is the inbound chat_session_changed event.
type ChatSessionChangedPayload struct {
	ChatSession Export `json:"chat_session"`
}

func (ChatSessionChangedPayload) EventName() events.Name { return events.ChatSessionChanged }

// Changed is emitted when the active session changes. An empty id means
// no session.
type Changed struct {
	PreviousSessionID string `json:"previousSessionId,omitempty"`
	CurrentSessionID  string `json:"currentSessionId,omitempty"`
}

func (Changed) EventName() events.Name { return events.SessionChanged }

// MessageAdded is emitted after a message lands in a session transcript.
type MessageAdded struct {
	SessionID string          `json:"sessionId"`
	Message   message.Message `json:"message"`
}

func (MessageAdded) EventName() events.Name { return events.MessageAdded }

// ListUpdated is emitted when sessions are created, deleted, renamed or
// imported.
type ListUpdated struct {
	Sessions []Summary `json:"sessions"`
}

func (ListUpdated) EventName() events.Name { return events.SessionsUpdated }

// Streaming is emitted for each delta appended to the in-flight message.
type Streaming struct {
	SessionID string       `json:"sessionId"`
	MessageID string       `json:"messageId"`
	Delta     string       `json:"delta"`
	Type      message.Type `json:"type"`
}

func (Streaming) EventName() events.Name { return events.MessageStreaming }
