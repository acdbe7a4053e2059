package avatar

import (
	"sync"

	"github.com/sipeed/agentc/pkg/domain"
	"github.com/sipeed/agentc/pkg/events"
	"github.com/sipeed/agentc/pkg/logger"
)

// Manager tracks at most one active avatar session and the avatar catalog.
type Manager struct {
	bus events.Bus

	mu      sync.Mutex
	avatars []Avatar
	session *Session
}

// NewManager creates a manager publishing on bus with an initial catalog.
func NewManager(bus events.Bus, avatars []Avatar) *Manager {
	return &Manager{bus: bus, avatars: copyAvatars(avatars)}
}

// SetAvatarSession attaches a session. It is a no-op when the same session
// id is already active; any other active session is cleared first.
func (m *Manager) SetAvatarSession(sessionID, avatarID string) {
	m.mu.Lock()
	if m.session != nil && m.session.SessionID == sessionID {
		m.mu.Unlock()
		logger.DebugCF("avatar", "Avatar session already active", map[string]interface{}{
			"session_id": sessionID,
		})
		return
	}
	hadSession := m.session != nil
	m.mu.Unlock()

	if hadSession {
		m.ClearAvatarSession()
	}

	m.mu.Lock()
	m.session = &Session{SessionID: sessionID, AvatarID: avatarID, StartedAt: domain.Now()}
	m.mu.Unlock()

	logger.InfoCF("avatar", "Avatar session started", map[string]interface{}{
		"session_id": sessionID,
		"avatar_id":  avatarID,
	})
	m.bus.Emit(SessionStarted{SessionID: sessionID, AvatarID: avatarID})
	m.bus.Emit(StateChanged{Active: true})
}

// ClearAvatarSession detaches the active session. It is a logged no-op
// when nothing is active.
func (m *Manager) ClearAvatarSession() {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		logger.DebugC("avatar", "No avatar session to clear")
		return
	}
	ended := m.session.SessionID
	m.session = nil
	m.mu.Unlock()

	logger.InfoCF("avatar", "Avatar session ended", map[string]interface{}{
		"session_id": ended,
	})
	m.bus.Emit(SessionEnded{SessionID: ended})
	m.bus.Emit(StateChanged{Active: false})
}

// GetAvatarSession returns the active session, or nil.
func (m *Manager) GetAvatarSession() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	s := *m.session
	return &s
}

// HasActiveSession reports whether a session is attached.
func (m *Manager) HasActiveSession() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil
}

// SetAvailableAvatars replaces the catalog.
func (m *Manager) SetAvailableAvatars(avatars []Avatar) {
	m.mu.Lock()
	m.avatars = copyAvatars(avatars)
	m.mu.Unlock()
}

// GetAvailableAvatars returns a copy of the catalog.
func (m *Manager) GetAvailableAvatars() []Avatar {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyAvatars(m.avatars)
}

// FindAvatar looks up an avatar by id.
func (m *Manager) FindAvatar(avatarID string) (Avatar, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.avatars {
		if a.AvatarID == avatarID {
			return a, true
		}
	}
	return Avatar{}, false
}

// IsAvatarAvailable reports whether avatarID is in the catalog.
func (m *Manager) IsAvatarAvailable(avatarID string) bool {
	_, ok := m.FindAvatar(avatarID)
	return ok
}

func copyAvatars(in []Avatar) []Avatar {
	out := make([]Avatar, len(in))
	copy(out, in)
	return out
}
