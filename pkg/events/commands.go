package events

// CommandType identifies a client -> server command frame.
type CommandType string

func (c CommandType) String() string { return string(c) }

const (
	CmdTextInput          CommandType = "text_input"
	CmdSetAgentVoice      CommandType = "set_agent_voice"
	CmdSetAvatarSession   CommandType = "set_avatar_session"
	CmdClearAvatarSession CommandType = "clear_avatar_session"
	CmdSetChatSession     CommandType = "set_chat_session"
)

// Command is implemented by every client -> server frame body.
type Command interface {
	CommandType() CommandType
}

// TextInputCommand sends typed user input.
type TextInputCommand struct {
	Text string `json:"text"`
}

func (TextInputCommand) CommandType() CommandType { return CmdTextInput }

// SetAgentVoiceCommand asks the server to switch the agent voice.
type SetAgentVoiceCommand struct {
	VoiceID string `json:"voice_id"`
}

func (SetAgentVoiceCommand) CommandType() CommandType { return CmdSetAgentVoice }

// SetAvatarSessionCommand asks the server to attach an avatar.
type SetAvatarSessionCommand struct {
	AvatarID string `json:"avatar_id"`
}

func (SetAvatarSessionCommand) CommandType() CommandType { return CmdSetAvatarSession }

// ClearAvatarSessionCommand detaches the avatar.
type ClearAvatarSessionCommand struct{}

func (ClearAvatarSessionCommand) CommandType() CommandType { return CmdClearAvatarSession }

// SetChatSessionCommand switches the server-side chat session.
type SetChatSessionCommand struct {
	SessionID string `json:"session_id"`
}

func (SetChatSessionCommand) CommandType() CommandType { return CmdSetChatSession }
