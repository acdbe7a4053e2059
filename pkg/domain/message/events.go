package message

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/sipeed/agentc/pkg/events"
)

// WireTime is a protocol timestamp. The server sends either an RFC 3339
// string or Unix milliseconds.
type WireTime time.Time

// Time returns the timestamp in UTC.
func (t WireTime) Time() time.Time { return time.Time(t).UTC() }

func (t WireTime) MarshalJSON() ([]byte, error) {
	if time.Time(t).IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time().Format(time.RFC3339Nano))
}

func (t *WireTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = WireTime{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*t = WireTime{}
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("parse timestamp %q: %w", s, err)
		}
		*t = WireTime(parsed.UTC())
		return nil
	}
	ms, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("parse timestamp %s: %w", data, err)
	}
	*t = WireTime(time.UnixMilli(int64(ms)).UTC())
	return nil
}

// ---------------------------------------------------------------------------
// Inbound events
// ---------------------------------------------------------------------------

// TextStartPayload opens an assistant message.
type TextStartPayload struct{}

func (TextStartPayload) EventName() events.Name { return events.TextStart }

// TextDeltaPayload carries the next fragment of the streaming message.
type TextDeltaPayload struct {
	Content string `json:"content"`
}

func (TextDeltaPayload) EventName() events.Name { return events.TextDelta }

// TextEndPayload closes the streaming message.
type TextEndPayload struct {
	Timestamp WireTime `json:"timestamp"`
}

func (TextEndPayload) EventName() events.Name { return events.TextEnd }

// ThoughtDeltaPayload carries a fragment of agent reasoning.
type ThoughtDeltaPayload struct {
	Content string `json:"content"`
}

func (ThoughtDeltaPayload) EventName() events.Name { return events.ThoughtDelta }

// CompletionPayload reports model completion status and token usage.
type CompletionPayload struct {
	Running      bool   `json:"running"`
	StopReason   string `json:"stop_reason,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
}

func (CompletionPayload) EventName() events.Name { return events.Completion }

// ToolCallPayload reports tool invocations and their results.
type ToolCallPayload struct {
	Active      bool         `json:"active"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

func (ToolCallPayload) EventName() events.Name { return events.ToolCall }

// UserInputPayload echoes what the user said or typed.
type UserInputPayload struct {
	Content   string   `json:"content"`
	Timestamp WireTime `json:"timestamp"`
}

func (UserInputPayload) EventName() events.Name { return events.UserInput }
