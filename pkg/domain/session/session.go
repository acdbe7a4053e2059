// Package session defines the ChatSession aggregate: one conversation
// thread with its transcript, metadata, agent configuration and token
// accounting, plus the export record used for persistence and transfer.
package session

import (
	"time"

	"github.com/sipeed/agentc/pkg/domain"
	"github.com/sipeed/agentc/pkg/domain/agent"
	"github.com/sipeed/agentc/pkg/domain/message"
)

// ---------------------------------------------------------------------------
// ChatSession aggregate root
// ---------------------------------------------------------------------------

// ChatSession owns its message history. Messages and Metadata are never nil.
type ChatSession struct {
	ID          domain.EntityID
	Name        string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Metadata    domain.Metadata
	Messages    []message.Message
	AgentConfig *agent.Config
	Tokens      TokenUsage
}

// TokenUsage accumulates completion token counts.
type TokenUsage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Total returns input plus output tokens.
func (t TokenUsage) Total() int { return t.InputTokens + t.OutputTokens }

// New creates an empty session with a fresh id.
func New(name string, metadata domain.Metadata) *ChatSession {
	now := domain.Now()
	meta := metadata.Clone()
	if meta == nil {
		meta = domain.Metadata{}
	}
	return &ChatSession{
		ID:        domain.NewID(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  meta,
		Messages:  make([]message.Message, 0),
	}
}

// ---------------------------------------------------------------------------
// Behavior
// ---------------------------------------------------------------------------

// AddMessage appends msg to the transcript.
func (s *ChatSession) AddMessage(msg message.Message) {
	s.Messages = append(s.Messages, msg.Clone())
	s.touch()
}

// ClearMessages empties the transcript.
func (s *ChatSession) ClearMessages() {
	s.Messages = make([]message.Message, 0)
	s.touch()
}

// Rename changes the display name.
func (s *ChatSession) Rename(name string) {
	s.Name = name
	s.touch()
}

// SetMetadata writes one metadata key.
func (s *ChatSession) SetMetadata(key string, value interface{}) {
	s.Metadata.Set(key, value)
	s.touch()
}

// SetAgentConfig replaces the agent configuration.
func (s *ChatSession) SetAgentConfig(cfg *agent.Config) {
	s.AgentConfig = cfg.Clone()
	s.touch()
}

// AddTokens adds a completion's usage to the running totals.
func (s *ChatSession) AddTokens(input, output int) {
	s.Tokens.InputTokens += input
	s.Tokens.OutputTokens += output
	s.touch()
}

// CanExecuteTool evaluates the session's tool access policy.
func (s *ChatSession) CanExecuteTool(name string) bool {
	return s.AgentConfig.CanExecuteTool(name)
}

// History returns a copy of the transcript.
func (s *ChatSession) History() []message.Message {
	out := make([]message.Message, len(s.Messages))
	for i := range s.Messages {
		out[i] = s.Messages[i].Clone()
	}
	return out
}

// MessageCount returns the number of transcript entries.
func (s *ChatSession) MessageCount() int {
	return len(s.Messages)
}

// Summary returns the list view of the session.
func (s *ChatSession) Summary() Summary {
	return Summary{
		ID:           s.ID.String(),
		Name:         s.Name,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
		MessageCount: len(s.Messages),
	}
}

// Clone returns a deep copy.
func (s *ChatSession) Clone() *ChatSession {
	cp := *s
	cp.Metadata = s.Metadata.Clone()
	cp.Messages = s.History()
	cp.AgentConfig = s.AgentConfig.Clone()
	return &cp
}

func (s *ChatSession) touch() {
	s.UpdatedAt = domain.Now()
}

// Summary is a lightweight description for session lists.
type Summary struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	MessageCount int       `json:"messageCount"`
}

// ---------------------------------------------------------------------------
// Export record
// ---------------------------------------------------------------------------

// Export is the serialized form of a session. The first five fields are
// the stable exchange shape; the rest are optional and default sensibly
// when absent.
type Export struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	CreatedAt time.Time         `json:"createdAt"`
	Messages  []message.Message `json:"messages"`
	Metadata  domain.Metadata   `json:"metadata"`

	UpdatedAt   *time.Time    `json:"updatedAt,omitempty"`
	AgentConfig *agent.Config `json:"agentConfig,omitempty"`
	Tokens      *TokenUsage   `json:"tokens,omitempty"`
}

// Export returns the session's export record. It shares no memory with s.
func (s *ChatSession) Export() Export {
	updated := s.UpdatedAt
	e := Export{
		ID:          s.ID.String(),
		Name:        s.Name,
		CreatedAt:   s.CreatedAt,
		Messages:    s.History(),
		Metadata:    s.Metadata.Clone(),
		UpdatedAt:   &updated,
		AgentConfig: s.AgentConfig.Clone(),
	}
	if e.Metadata == nil {
		e.Metadata = domain.Metadata{}
	}
	if s.Tokens != (TokenUsage{}) {
		tokens := s.Tokens
		e.Tokens = &tokens
	}
	return e
}

// FromExport rebuilds a session from its export record.
func FromExport(e Export) (*ChatSession, error) {
	if e.ID == "" {
		return nil, ErrMissingID
	}
	s := &ChatSession{
		ID:          domain.EntityID(e.ID),
		Name:        e.Name,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.CreatedAt,
		Metadata:    e.Metadata.Clone(),
		Messages:    make([]message.Message, 0, len(e.Messages)),
		AgentConfig: e.AgentConfig.Clone(),
	}
	if e.UpdatedAt != nil {
		s.UpdatedAt = *e.UpdatedAt
	}
	if s.Metadata == nil {
		s.Metadata = domain.Metadata{}
	}
	for _, m := range e.Messages {
		s.Messages = append(s.Messages, m.Clone())
	}
	if e.Tokens != nil {
		s.Tokens = *e.Tokens
	}
	return s, nil
}

// ---------------------------------------------------------------------------
// Repository interface
// ---------------------------------------------------------------------------

// Repository persists session export records.
type Repository interface {
	FindByID(id string) (*Export, error)
	FindAll() ([]Export, error)
	Save(e Export) error
	Delete(id string) error
}

// ---------------------------------------------------------------------------
// Domain errors
// ---------------------------------------------------------------------------

type SessionError string

func (e SessionError) Error() string { return string(e) }

const (
	ErrSessionNotFound SessionError = "session not found"
	ErrMissingID       SessionError = "session id cannot be empty"
	ErrNoActiveSession SessionError = "no active session"
)
