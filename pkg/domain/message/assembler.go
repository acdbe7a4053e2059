package message

import (
	"strings"
	"sync"
	"time"

	"github.com/sipeed/agentc/pkg/domain"
	"github.com/sipeed/agentc/pkg/logger"
)

// Kinds accepted by StartMessage besides the message roles.
const KindThought = "thought"

// StreamingMessage is a snapshot of the message being assembled.
type StreamingMessage struct {
	ID        domain.EntityID    `json:"id"`
	Role      domain.MessageRole `json:"role"`
	Content   string             `json:"content"`
	Type      Type               `json:"type"`
	Status    Status             `json:"status"`
	Timestamp time.Time          `json:"timestamp"`
	ToolCalls []ToolCall         `json:"toolCalls,omitempty"`
}

type inProgress struct {
	id        domain.EntityID
	role      domain.MessageRole
	typ       Type
	content   strings.Builder
	createdAt time.Time
	toolCalls []ToolCall
	results   []ToolResult
}

// Assembler accumulates deltas into a single in-flight message.
//
// Content is appended strictly in call order; the assembler never reorders
// or deduplicates. At most one message is in progress at a time.
type Assembler struct {
	mu      sync.Mutex
	current *inProgress
}

// NewAssembler creates an idle assembler.
func NewAssembler() *Assembler {
	return &Assembler{}
}

// StartMessage begins a new message. kind is "thought" for reasoning
// output, otherwise a message role ("assistant", "user", ...). Starting
// while another message is streaming discards the old one with a warning.
func (a *Assembler) StartMessage(kind string) StreamingMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.start(kind)
}

// start replaces the in-progress message; caller holds a.mu.
func (a *Assembler) start(kind string) StreamingMessage {
	if a.current != nil {
		logger.WarnCF("stream", "Starting a message while another is streaming, discarding it", map[string]interface{}{
			"discarded_id":  a.current.id.String(),
			"discarded_len": a.current.content.Len(),
			"kind":          kind,
		})
	}

	role, typ := domain.RoleAssistant, TypeMessage
	if kind == KindThought {
		typ = TypeThought
	} else if r := domain.MessageRole(kind); r.Valid() {
		role = r
	} else {
		logger.WarnCF("stream", "Unknown message kind, using assistant", map[string]interface{}{
			"kind": kind,
		})
	}

	a.current = &inProgress{
		id:        domain.NewID(),
		role:      role,
		typ:       typ,
		createdAt: domain.Now(),
	}
	return a.current.snapshot()
}

// ensure auto-starts an assistant message when idle; caller holds a.mu.
func (a *Assembler) ensure(op string) {
	if a.current != nil {
		return
	}
	logger.WarnCF("stream", "No message in progress, auto-starting assistant message", map[string]interface{}{
		"operation": op,
	})
	a.start(string(domain.RoleAssistant))
}

// AppendText appends delta to the in-progress message and returns the
// updated snapshot. When idle it first starts an assistant message.
func (a *Assembler) AppendText(delta string) StreamingMessage {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.ensure("append_text")
	a.current.content.WriteString(delta)
	return a.current.snapshot()
}

// AddToolCalls records tool calls on the in-progress message. A call whose
// id was already recorded is merged into the earlier entry: non-empty
// names replace, argument keys are merged, a block is sticky.
func (a *Assembler) AddToolCalls(calls ...ToolCall) {
	if len(calls) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.ensure("add_tool_calls")
	for _, tc := range calls {
		a.current.toolCalls = mergeToolCall(a.current.toolCalls, tc)
	}
}

// AddToolResults records tool results on the in-progress message.
func (a *Assembler) AddToolResults(results ...ToolResult) {
	if len(results) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.ensure("add_tool_results")
	a.current.results = append(a.current.results, results...)
}

func mergeToolCall(list []ToolCall, tc ToolCall) []ToolCall {
	for i := range list {
		if tc.ID == "" || list[i].ID != tc.ID {
			continue
		}
		if tc.Name != "" {
			list[i].Name = tc.Name
		}
		if len(tc.Arguments) > 0 {
			if list[i].Arguments == nil {
				list[i].Arguments = make(map[string]interface{}, len(tc.Arguments))
			}
			for k, v := range tc.Arguments {
				list[i].Arguments[k] = v
			}
		}
		if tc.Blocked {
			list[i].Blocked = true
			list[i].BlockedBy = tc.BlockedBy
		}
		return list
	}
	return append(list, cloneToolCalls([]ToolCall{tc})...)
}

// Finalize completes the in-progress message and resets the assembler.
// Tool calls and results recorded while streaming come first in the
// metadata, followed by those passed in md. Thought messages are collapsed
// by default.
func (a *Assembler) Finalize(md *Metadata) (Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cur := a.current
	if cur == nil {
		return Message{}, ErrNoMessageInProgress
	}
	a.current = nil

	meta := md.Clone()
	if len(cur.toolCalls) > 0 || len(cur.results) > 0 {
		if meta == nil {
			meta = &Metadata{}
		}
		calls := cloneToolCalls(cur.toolCalls)
		for _, tc := range meta.ToolCalls {
			calls = mergeToolCall(calls, tc)
		}
		meta.ToolCalls = calls
		meta.ToolResults = append(append([]ToolResult(nil), cur.results...), meta.ToolResults...)
	}

	msg := Message{
		ID:          cur.id,
		Role:        cur.role,
		Content:     cur.content.String(),
		Type:        cur.typ,
		Status:      StatusComplete,
		Timestamp:   cur.createdAt,
		Metadata:    meta,
		IsCollapsed: cur.typ == TypeThought,
	}

	logger.DebugCF("stream", "Message finalized", map[string]interface{}{
		"message_id": msg.ID.String(),
		"type":       msg.Type.String(),
		"length":     len(msg.Content),
	})
	return msg, nil
}

// Reset discards any in-progress message.
func (a *Assembler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = nil
}

// ResetIfStreaming discards the in-progress message, if any, and reports
// whether there was one.
func (a *Assembler) ResetIfStreaming() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	had := a.current != nil
	a.current = nil
	return had
}

// IsStreaming reports whether a message is in progress.
func (a *Assembler) IsStreaming() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current != nil
}

// Current returns a snapshot of the in-progress message.
func (a *Assembler) Current() (StreamingMessage, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return StreamingMessage{}, false
	}
	return a.current.snapshot(), true
}

func (p *inProgress) snapshot() StreamingMessage {
	return StreamingMessage{
		ID:        p.id,
		Role:      p.role,
		Content:   p.content.String(),
		Type:      p.typ,
		Status:    StatusStreaming,
		Timestamp: p.createdAt,
		ToolCalls: cloneToolCalls(p.toolCalls),
	}
}
