// Package avatar mirrors the state of an externally managed avatar
// session. The avatar SDK owns the real session lifecycle; this package
// only records which session is attached so the rest of the client agrees.
package avatar

import (
	"time"

	"github.com/sipeed/agentc/pkg/events"
)

// Avatar is one entry of the catalog supplied at login.
type Avatar struct {
	AvatarID      string   `json:"avatar_id" yaml:"avatar_id"`
	PoseName      string   `json:"pose_name,omitempty" yaml:"pose_name,omitempty"`
	Status        string   `json:"status,omitempty" yaml:"status,omitempty"`
	IsPublic      bool     `json:"is_public" yaml:"is_public"`
	DefaultVoice  string   `json:"default_voice,omitempty" yaml:"default_voice,omitempty"`
	NormalPreview string   `json:"normal_preview,omitempty" yaml:"normal_preview,omitempty"`
	Tags          []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Session identifies the attached avatar session.
type Session struct {
	SessionID string    `json:"sessionId"`
	AvatarID  string    `json:"avatarId"`
	StartedAt time.Time `json:"startedAt"`
}

// ListPayload is the inbound avatar_list event.
type ListPayload struct {
	Avatars []Avatar `json:"avatars"`
}

func (ListPayload) EventName() events.Name { return events.AvatarList }

// ConnectionChangedPayload is the inbound avatar_connection_changed event.
// An empty AvatarSessionID means the server detached the avatar.
type ConnectionChangedPayload struct {
	AvatarSessionID string `json:"avatar_session_id"`
	AvatarID        string `json:"avatar_id,omitempty"`
}

func (ConnectionChangedPayload) EventName() events.Name { return events.AvatarConnectionChanged }

// SessionStarted is emitted when a session is attached.
type SessionStarted struct {
	SessionID string `json:"sessionId"`
	AvatarID  string `json:"avatarId"`
}

func (SessionStarted) EventName() events.Name { return events.AvatarSessionStarted }

// SessionEnded is emitted when a session is detached.
type SessionEnded struct {
	SessionID string `json:"sessionId"`
}

func (SessionEnded) EventName() events.Name { return events.AvatarSessionEnded }

// StateChanged follows every SessionStarted and SessionEnded.
type StateChanged struct {
	Active bool `json:"active"`
}

func (StateChanged) EventName() events.Name { return events.AvatarStateChanged }
