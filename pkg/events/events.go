// Package events defines the event contracts shared by every agentc
// component. Event names are closed constants; each name has exactly one
// payload type, defined next to the component that owns it. No ad-hoc
// map[string]interface{} events.
package events

// Name identifies an event on the bus.
type Name string

func (n Name) String() string { return string(n) }

// Payload is implemented by every event payload. EventName ties a payload
// type to its event so it cannot be published under the wrong name.
type Payload interface {
	EventName() Name
}

// Listener receives payloads for the event it was registered on.
type Listener func(Payload)

// ListenerID is the handle returned by On/Once and consumed by Off.
type ListenerID uint64

// Bus is the publish/subscribe port every component is built on.
// pkg/infrastructure/eventbus provides the in-process implementation.
type Bus interface {
	On(name Name, fn Listener) ListenerID
	Once(name Name, fn Listener) ListenerID
	Off(name Name, id ListenerID) bool
	Emit(payload Payload) bool
	RemoveAllListeners(names ...Name)
	ListenerCount(name Name) int
}

// --- Inbound events (server -> client, decoded by pkg/transport) ---

const (
	// Turn signals
	UserTurnStart Name = "user_turn_start"
	UserTurnEnd   Name = "user_turn_end"

	// Streaming text
	TextStart    Name = "text_start"
	TextDelta    Name = "text_delta"
	TextEnd      Name = "text_end"
	ThoughtDelta Name = "thought_delta"
	Completion   Name = "completion"
	ToolCall     Name = "tool_call"

	// Transcript input
	UserInput     Name = "user_input"
	RenderMedia   Name = "render_media"
	SystemMessage Name = "system_message"

	// Session and agent state
	ChatSessionChanged        Name = "chat_session_changed"
	AgentConfigurationChanged Name = "agent_configuration_changed"

	// Voice and avatar
	VoiceList               Name = "voice_list"
	AgentVoiceChanged       Name = "agent_voice_changed"
	AvatarList              Name = "avatar_list"
	AvatarConnectionChanged Name = "avatar_connection_changed"

	ServerError Name = "error"
)

// --- Outbound events (client -> UI layer) ---

const (
	TurnStateChanged Name = "turn-state-changed"

	VoiceChanged  Name = "voice-changed"
	VoicesUpdated Name = "voices-updated"

	AvatarSessionStarted Name = "avatar-session-started"
	AvatarSessionEnded   Name = "avatar-session-ended"
	AvatarStateChanged   Name = "avatar-state-changed"

	SessionChanged   Name = "session-changed"
	MessageAdded     Name = "message-added"
	SessionsUpdated  Name = "sessions-updated"
	MessageStreaming Name = "message-streaming"

	ClientError Name = "client-error"
)

// Inbound lists every event the transport may decode, in wire order of
// the protocol documentation.
func Inbound() []Name {
	return []Name{
		UserTurnStart, UserTurnEnd,
		TextStart, TextDelta, TextEnd, ThoughtDelta, Completion, ToolCall,
		UserInput, RenderMedia, SystemMessage,
		ChatSessionChanged, AgentConfigurationChanged,
		VoiceList, AgentVoiceChanged, AvatarList, AvatarConnectionChanged,
		ServerError,
	}
}

// Outbound lists every event emitted toward the UI layer.
func Outbound() []Name {
	return []Name{
		TurnStateChanged,
		VoiceChanged, VoicesUpdated,
		AvatarSessionStarted, AvatarSessionEnded, AvatarStateChanged,
		SessionChanged, MessageAdded, SessionsUpdated, MessageStreaming,
		ClientError,
	}
}

// --- Payloads that carry no domain types ---

// SystemMessagePayload is a server notice appended to the transcript.
type SystemMessagePayload struct {
	Content  string `json:"content"`
	Severity string `json:"severity,omitempty"`
}

func (SystemMessagePayload) EventName() Name { return SystemMessage }

// ServerErrorPayload reports a server-side failure.
type ServerErrorPayload struct {
	Message string `json:"message"`
	Source  string `json:"source,omitempty"`
}

func (ServerErrorPayload) EventName() Name { return ServerError }

// ClientErrorPayload re-emits a server error toward the UI layer.
type ClientErrorPayload struct {
	Message string `json:"message"`
	Source  string `json:"source,omitempty"`
}

func (ClientErrorPayload) EventName() Name { return ClientError }
