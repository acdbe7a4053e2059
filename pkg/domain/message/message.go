// Package message defines transcript messages and the streaming assembler
// that builds one message at a time out of incremental deltas.
package message

import (
	"time"

	"github.com/sipeed/agentc/pkg/domain"
	"github.com/sipeed/agentc/pkg/domain/media"
)

// Type classifies a transcript entry.
type Type string

const (
	TypeMessage Type = "message"
	TypeThought Type = "thought"
	TypeMedia   Type = "media"
	TypeSystem  Type = "system"
)

func (t Type) String() string { return string(t) }

// Status is the lifecycle state of a message.
type Status string

const (
	StatusStreaming Status = "streaming"
	StatusComplete  Status = "complete"
)

// ToolCall is one tool invocation requested by the agent.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"input,omitempty"`
	Blocked   bool                   `json:"blocked,omitempty"`
	// Pattern that blocked the call, when Blocked.
	BlockedBy string `json:"blockedBy,omitempty"`
}

// ToolResult is the outcome of a tool invocation.
type ToolResult struct {
	ToolCallID string `json:"tool_use_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Metadata is attached to a message when it is finalized.
type Metadata struct {
	InputTokens    int          `json:"inputTokens,omitempty"`
	OutputTokens   int          `json:"outputTokens,omitempty"`
	StopReason     string       `json:"stopReason,omitempty"`
	ToolCalls      []ToolCall   `json:"toolCalls,omitempty"`
	ToolResults    []ToolResult `json:"toolResults,omitempty"`
	SentByClass    string       `json:"sentByClass,omitempty"`
	SentByFunction string       `json:"sentByFunction,omitempty"`
	Severity       string       `json:"severity,omitempty"`
}

// Clone returns a deep copy of md.
func (md *Metadata) Clone() *Metadata {
	if md == nil {
		return nil
	}
	cp := *md
	cp.ToolCalls = cloneToolCalls(md.ToolCalls)
	if md.ToolResults != nil {
		cp.ToolResults = append([]ToolResult(nil), md.ToolResults...)
	}
	return &cp
}

// Message is a finalized, immutable transcript entry.
type Message struct {
	ID          domain.EntityID    `json:"id"`
	Role        domain.MessageRole `json:"role"`
	Content     string             `json:"content"`
	Type        Type               `json:"type"`
	Status      Status             `json:"status"`
	Timestamp   time.Time          `json:"timestamp"`
	Metadata    *Metadata          `json:"metadata,omitempty"`
	IsCollapsed bool               `json:"isCollapsed,omitempty"`

	// Media entries only.
	ContentType    string            `json:"contentType,omitempty"`
	URL            string            `json:"url,omitempty"`
	ForeignContent media.ForeignFlag `json:"foreignContent,omitempty"`
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	m.Metadata = m.Metadata.Clone()
	if m.ForeignContent != nil {
		m.ForeignContent = append(media.ForeignFlag(nil), m.ForeignContent...)
	}
	return m
}

// NewUserMessage builds a completed user-role message.
func NewUserMessage(content string, at time.Time) Message {
	return completed(domain.RoleUser, TypeMessage, content, at)
}

// NewSystemMessage builds a completed system notice.
func NewSystemMessage(content, severity string, at time.Time) Message {
	m := completed(domain.RoleSystem, TypeSystem, content, at)
	if severity != "" {
		m.Metadata = &Metadata{Severity: severity}
	}
	return m
}

// NewMediaMessage builds a completed media entry from a render_media
// payload. The foreign flag is carried over unmodified.
func NewMediaMessage(p media.RenderMediaPayload, at time.Time) Message {
	role := domain.MessageRole(p.Role)
	if !role.Valid() {
		role = domain.RoleAssistant
	}
	m := completed(role, TypeMedia, p.Content, at)
	m.ContentType = p.ContentType
	m.URL = p.URL
	m.ForeignContent = p.ForeignContent.Clone()
	if p.SentByClass != "" || p.SentByFunction != "" {
		m.Metadata = &Metadata{SentByClass: p.SentByClass, SentByFunction: p.SentByFunction}
	}
	return m
}

func completed(role domain.MessageRole, typ Type, content string, at time.Time) Message {
	if at.IsZero() {
		at = domain.Now()
	}
	return Message{
		ID:        domain.NewID(),
		Role:      role,
		Content:   content,
		Type:      typ,
		Status:    StatusComplete,
		Timestamp: at,
	}
}

func cloneToolCalls(in []ToolCall) []ToolCall {
	if in == nil {
		return nil
	}
	out := make([]ToolCall, len(in))
	for i, tc := range in {
		out[i] = tc
		if tc.Arguments != nil {
			out[i].Arguments = map[string]interface{}(domain.Metadata(tc.Arguments).Clone())
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Domain errors
// ---------------------------------------------------------------------------

type MessageError string

func (e MessageError) Error() string { return string(e) }

const (
	ErrNoMessageInProgress MessageError = "no message in progress"
)
