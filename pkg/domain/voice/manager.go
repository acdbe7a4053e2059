package voice

import (
	"sync"

	"github.com/sipeed/agentc/pkg/domain"
	"github.com/sipeed/agentc/pkg/events"
	"github.com/sipeed/agentc/pkg/logger"
)

// Option configures a Manager.
type Option func(*Manager)

// WithDefaultVoice sets the voice selected when a catalog arrives and no
// voice is active yet.
func WithDefaultVoice(id string) Option {
	return func(m *Manager) { m.defaultVoiceID = id }
}

// Manager owns the voice catalog and the active voice.
type Manager struct {
	bus            events.Bus
	defaultVoiceID string

	mu      sync.Mutex
	voices  []Voice
	current *Voice
}

// NewManager creates a manager publishing on bus. The catalog starts with
// only the synthetic voices and no active voice.
func NewManager(bus events.Bus, opts ...Option) *Manager {
	m := &Manager{bus: bus}
	for _, opt := range opts {
		opt(m)
	}
	m.voices = withSynthetic(nil)
	return m
}

// withSynthetic copies voices and appends any missing synthetic voice.
func withSynthetic(voices []Voice) []Voice {
	out := make([]Voice, 0, len(voices)+2)
	hasNone, hasAvatar := false, false
	for _, v := range voices {
		switch v.VoiceID {
		case NoneVoiceID:
			hasNone = true
		case AvatarVoiceID:
			hasAvatar = true
		}
		out = append(out, v)
	}
	if !hasNone {
		out = append(out, NoneVoice())
	}
	if !hasAvatar {
		out = append(out, AvatarVoice())
	}
	return out
}

func (m *Manager) find(id string) (Voice, bool) {
	for _, v := range m.voices {
		if v.VoiceID == id {
			return v, true
		}
	}
	return Voice{}, false
}

// SetAvailableVoices replaces the catalog and re-injects the synthetic
// voices. When no voice is active, or the active voice is not in the new
// catalog, a default is selected: the configured default id if present,
// then "none", then the first catalog entry.
func (m *Manager) SetAvailableVoices(voices []Voice) {
	m.mu.Lock()
	previousCount := len(m.voices)
	m.voices = withSynthetic(voices)
	snapshot := m.copyVoices()
	needsDefault := m.current == nil
	dropped := ""
	if m.current != nil {
		if _, ok := m.find(m.current.VoiceID); !ok {
			dropped = m.current.VoiceID
			needsDefault = true
		}
	}
	defaultID := ""
	if needsDefault {
		defaultID = m.pickDefault()
	}
	m.mu.Unlock()

	if dropped != "" {
		logger.WarnCF("voice", "Active voice left the catalog, selecting default", map[string]interface{}{
			"voice_id":   dropped,
			"default_id": defaultID,
		})
	}

	logger.DebugCF("voice", "Voice catalog updated", map[string]interface{}{
		"previous_count": previousCount,
		"current_count":  len(snapshot),
	})
	m.bus.Emit(Updated{
		Voices:        snapshot,
		PreviousCount: previousCount,
		CurrentCount:  len(snapshot),
	})

	if needsDefault && defaultID != "" {
		m.SetCurrentVoice(defaultID, domain.SourceClient)
	}
}

// pickDefault chooses the default voice id; caller holds m.mu.
func (m *Manager) pickDefault() string {
	if m.defaultVoiceID != "" {
		if _, ok := m.find(m.defaultVoiceID); ok {
			return m.defaultVoiceID
		}
	}
	if _, ok := m.find(NoneVoiceID); ok {
		return NoneVoiceID
	}
	if len(m.voices) > 0 {
		return m.voices[0].VoiceID
	}
	return ""
}

// SetCurrentVoice activates the voice with id. It returns false if id is
// empty or unknown. Re-selecting the active voice is a no-op returning true.
func (m *Manager) SetCurrentVoice(id string, source domain.ChangeSource) bool {
	if id == "" {
		logger.ErrorC("voice", "Cannot set voice: empty voice id")
		return false
	}

	m.mu.Lock()
	v, ok := m.find(id)
	if !ok {
		v, ok = syntheticVoice(id)
		if ok {
			logger.WarnCF("voice", "Synthetic voice missing from catalog, restoring it", map[string]interface{}{
				"voice_id": id,
			})
			m.voices = append(m.voices, v)
		}
	}
	if !ok {
		m.mu.Unlock()
		logger.ErrorCF("voice", "Cannot set voice: not in catalog", map[string]interface{}{
			"voice_id": id,
			"source":   source.String(),
		})
		return false
	}
	if m.current != nil && m.current.VoiceID == id {
		m.mu.Unlock()
		return true
	}

	previous := m.current
	current := v
	m.current = &current
	m.mu.Unlock()

	logger.InfoCF("voice", "Voice changed", map[string]interface{}{
		"voice_id": id,
		"source":   source.String(),
	})
	m.bus.Emit(Changed{
		PreviousVoice: copyVoice(previous),
		CurrentVoice:  copyVoice(&current),
		Source:        source,
	})
	return true
}

// GetCurrentVoice returns the active voice, or nil if none is selected.
func (m *Manager) GetCurrentVoice() *Voice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyVoice(m.current)
}

// GetAvailableVoices returns a copy of the catalog.
func (m *Manager) GetAvailableVoices() []Voice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.copyVoices()
}

// FindVoice looks up a catalog entry by id.
func (m *Manager) FindVoice(id string) (Voice, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.find(id)
}

// VoicesByVendor returns catalog entries from vendor.
func (m *Manager) VoicesByVendor(vendor string) []Voice {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Voice
	for _, v := range m.voices {
		if v.Vendor == vendor {
			out = append(out, v)
		}
	}
	return out
}

// IsAvatarVoice reports whether the active voice is the avatar voice.
func (m *Manager) IsAvatarVoice() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil && m.current.VoiceID == AvatarVoiceID
}

// IsTextOnlyVoice reports whether the active voice is the text-only voice.
func (m *Manager) IsTextOnlyVoice() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil && m.current.VoiceID == NoneVoiceID
}

// GetAudioFormat returns the active voice's output format. ok is false when
// no voice is active or the active voice is synthetic.
func (m *Manager) GetAudioFormat() (format string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.IsSynthetic() {
		return "", false
	}
	return m.current.OutputFormat, true
}

// GetVoiceCapabilities derives capability facts from the active voice.
func (m *Manager) GetVoiceCapabilities() Capabilities {
	m.mu.Lock()
	cur := copyVoice(m.current)
	m.mu.Unlock()

	if cur == nil {
		return Capabilities{}
	}
	caps := Capabilities{
		IsAvatar:   cur.VoiceID == AvatarVoiceID,
		IsTextOnly: cur.VoiceID == NoneVoiceID,
		Vendor:     cur.Vendor,
	}
	if !cur.IsSynthetic() {
		caps.SupportsAudio = true
		caps.AudioFormat = cur.OutputFormat
	}
	return caps
}

// Reset clears the catalog back to the synthetic voices and deselects the
// active voice, emitting voice-changed only if a voice was active.
func (m *Manager) Reset() {
	m.mu.Lock()
	previous := m.current
	m.current = nil
	m.voices = withSynthetic(nil)
	m.mu.Unlock()

	if previous == nil {
		return
	}
	m.bus.Emit(Changed{
		PreviousVoice: copyVoice(previous),
		CurrentVoice:  nil,
		Source:        domain.SourceClient,
	})
}

// copyVoices copies the catalog; caller holds m.mu.
func (m *Manager) copyVoices() []Voice {
	out := make([]Voice, len(m.voices))
	copy(out, m.voices)
	return out
}

func copyVoice(v *Voice) *Voice {
	if v == nil {
		return nil
	}
	cp := *v
	if v.Languages != nil {
		cp.Languages = append([]string(nil), v.Languages...)
	}
	return &cp
}
