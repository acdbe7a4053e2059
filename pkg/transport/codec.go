package transport

import (
	"encoding/json"
	"fmt"

	"github.com/sipeed/agentc/pkg/domain/agent"
	"github.com/sipeed/agentc/pkg/domain/avatar"
	"github.com/sipeed/agentc/pkg/domain/media"
	"github.com/sipeed/agentc/pkg/domain/message"
	"github.com/sipeed/agentc/pkg/domain/session"
	"github.com/sipeed/agentc/pkg/domain/turn"
	"github.com/sipeed/agentc/pkg/domain/voice"
	"github.com/sipeed/agentc/pkg/events"
)

// Frames are flat JSON objects: a "type" field naming the event plus the
// payload's own fields at the same level.
type frameHeader struct {
	Type events.Name `json:"type"`
}

type decoder func(data []byte) (events.Payload, error)

func decodeAs[T events.Payload](data []byte) (events.Payload, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

var decoders = map[events.Name]decoder{
	events.UserTurnStart:             decodeAs[turn.StartSignal],
	events.UserTurnEnd:               decodeAs[turn.EndSignal],
	events.TextStart:                 decodeAs[message.TextStartPayload],
	events.TextDelta:                 decodeAs[message.TextDeltaPayload],
	events.TextEnd:                   decodeAs[message.TextEndPayload],
	events.ThoughtDelta:              decodeAs[message.ThoughtDeltaPayload],
	events.Completion:                decodeAs[message.CompletionPayload],
	events.ToolCall:                  decodeAs[message.ToolCallPayload],
	events.UserInput:                 decodeAs[message.UserInputPayload],
	events.RenderMedia:               decodeAs[media.RenderMediaPayload],
	events.SystemMessage:             decodeAs[events.SystemMessagePayload],
	events.ChatSessionChanged:        decodeAs[session.ChatSessionChangedPayload],
	events.AgentConfigurationChanged: decodeAs[agent.ConfigurationChangedPayload],
	events.VoiceList:                 decodeAs[voice.ListPayload],
	events.AgentVoiceChanged:         decodeAs[voice.AgentVoiceChangedPayload],
	events.AvatarList:                decodeAs[avatar.ListPayload],
	events.AvatarConnectionChanged:   decodeAs[avatar.ConnectionChangedPayload],
	events.ServerError:               decodeAs[events.ServerErrorPayload],
}

// Decode turns one inbound frame into its typed payload.
func Decode(frame []byte) (events.Payload, error) {
	var h frameHeader
	if err := json.Unmarshal(frame, &h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if h.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	dec, ok := decoders[h.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, h.Type)
	}
	p, err := dec(frame)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedFrame, h.Type, err)
	}
	return p, nil
}

// Encode renders a payload as a frame. It is the inverse of Decode and is
// used by tests and by tools that replay recorded sessions.
func Encode(p events.Payload) ([]byte, error) {
	return encodeFrame(string(p.EventName()), p)
}

// EncodeCommand renders a client command as a frame.
func EncodeCommand(cmd events.Command) ([]byte, error) {
	return encodeFrame(cmd.CommandType().String(), cmd)
}

func encodeFrame(typ string, body interface{}) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", typ, err)
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("encode %s: body is not an object: %w", typ, err)
	}
	typeJSON, _ := json.Marshal(typ)
	fields["type"] = typeJSON
	return json.Marshal(fields)
}

// FrameType extracts the type field of a frame without decoding the rest.
func FrameType(frame []byte) string {
	var h frameHeader
	if err := json.Unmarshal(frame, &h); err != nil {
		return ""
	}
	return string(h.Type)
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

type TransportError string

func (e TransportError) Error() string { return string(e) }

const (
	ErrMalformedFrame   TransportError = "malformed frame"
	ErrUnknownEventType TransportError = "unknown event type"
	ErrClosed           TransportError = "connection closed"
)
