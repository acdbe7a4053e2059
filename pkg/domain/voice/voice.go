// Package voice holds the catalog of selectable agent voices and the single
// active voice. Two synthetic voices, "none" (text only) and "avatar"
// (audio delegated to an avatar session), are always present.
package voice

import (
	"github.com/sipeed/agentc/pkg/domain"
	"github.com/sipeed/agentc/pkg/events"
)

// Synthetic voice identifiers.
const (
	NoneVoiceID   = "none"
	AvatarVoiceID = "avatar"
)

// Vendor of the synthetic voices.
const SystemVendor = "system"

// Voice describes one selectable voice.
type Voice struct {
	VoiceID      string   `json:"voice_id" yaml:"voice_id"`
	Vendor       string   `json:"vendor" yaml:"vendor"`
	Description  string   `json:"description,omitempty" yaml:"description,omitempty"`
	OutputFormat string   `json:"output_format,omitempty" yaml:"output_format,omitempty"`
	Languages    []string `json:"languages,omitempty" yaml:"languages,omitempty"`
}

// IsSynthetic reports whether v is one of the two built-in voices.
func (v Voice) IsSynthetic() bool {
	return v.VoiceID == NoneVoiceID || v.VoiceID == AvatarVoiceID
}

// NoneVoice returns the text-only synthetic voice.
func NoneVoice() Voice {
	return Voice{
		VoiceID:      NoneVoiceID,
		Vendor:       SystemVendor,
		Description:  "No voice (text only)",
		OutputFormat: "none",
	}
}

// AvatarVoice returns the avatar-delegated synthetic voice.
func AvatarVoice() Voice {
	return Voice{
		VoiceID:      AvatarVoiceID,
		Vendor:       SystemVendor,
		Description:  "Voice provided by the avatar session",
		OutputFormat: "special",
	}
}

// syntheticVoice returns the synthetic voice for id, if id names one.
func syntheticVoice(id string) (Voice, bool) {
	switch id {
	case NoneVoiceID:
		return NoneVoice(), true
	case AvatarVoiceID:
		return AvatarVoice(), true
	}
	return Voice{}, false
}

// Capabilities summarizes what the active voice can do.
type Capabilities struct {
	SupportsAudio bool   `json:"supportsAudio"`
	IsAvatar      bool   `json:"isAvatar"`
	IsTextOnly    bool   `json:"isTextOnly"`
	AudioFormat   string `json:"audioFormat,omitempty"`
	Vendor        string `json:"vendor,omitempty"`
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// ListPayload is the inbound voice_list event.
type ListPayload struct {
	Voices []Voice `json:"voices"`
}

func (ListPayload) EventName() events.Name { return events.VoiceList }

// AgentVoiceChangedPayload is the inbound agent_voice_changed event.
type AgentVoiceChangedPayload struct {
	Voice Voice `json:"voice"`
}

func (AgentVoiceChangedPayload) EventName() events.Name { return events.AgentVoiceChanged }

// Changed is emitted when the active voice changes.
type Changed struct {
	PreviousVoice *Voice              `json:"previousVoice"`
	CurrentVoice  *Voice              `json:"currentVoice"`
	Source        domain.ChangeSource `json:"source"`
}

func (Changed) EventName() events.Name { return events.VoiceChanged }

// Updated is emitted when the catalog is replaced.
type Updated struct {
	Voices        []Voice `json:"voices"`
	PreviousCount int     `json:"previousCount"`
	CurrentCount  int     `json:"currentCount"`
}

func (Updated) EventName() events.Name { return events.VoicesUpdated }
