package voice

import (
	"testing"

	"github.com/sipeed/agentc/pkg/domain"
	"github.com/sipeed/agentc/pkg/infrastructure/eventbus"
	"github.com/sipeed/agentc/pkg/logger"
)

var (
	nova  = Voice{VoiceID: "nova", Vendor: "openai", OutputFormat: "pcm_24000"}
	onyx  = Voice{VoiceID: "onyx", Vendor: "openai", OutputFormat: "pcm_24000"}
	rachl = Voice{VoiceID: "rachel", Vendor: "elevenlabs", OutputFormat: "mp3_44100"}
)

type recorded struct {
	changes []Changed
	updates []Updated
}

func newManager(opts ...Option) (*Manager, *recorded) {
	bus := eventbus.New()
	rec := &recorded{}
	eventbus.Listen(bus, func(e Changed) { rec.changes = append(rec.changes, e) })
	eventbus.Listen(bus, func(e Updated) { rec.updates = append(rec.updates, e) })
	return NewManager(bus, opts...), rec
}

func hasVoice(voices []Voice, id string) bool {
	for _, v := range voices {
		if v.VoiceID == id {
			return true
		}
	}
	return false
}

func TestSyntheticVoicesAlwaysPresent(t *testing.T) {
	tests := []struct {
		name  string
		input []Voice
	}{
		{name: "nil", input: nil},
		{name: "empty", input: []Voice{}},
		{name: "vendor voices", input: []Voice{nova, onyx}},
		{name: "already has none", input: []Voice{NoneVoice(), nova}},
		{name: "already has both", input: []Voice{AvatarVoice(), NoneVoice()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newManager()
			m.SetAvailableVoices(tt.input)
			got := m.GetAvailableVoices()
			if !hasVoice(got, NoneVoiceID) || !hasVoice(got, AvatarVoiceID) {
				t.Fatalf("catalog %v is missing a synthetic voice", got)
			}
			count := 0
			for _, v := range got {
				if v.VoiceID == NoneVoiceID {
					count++
				}
			}
			if count != 1 {
				t.Errorf("none voice appears %d times", count)
			}
		})
	}
}

func TestDefaultSelection(t *testing.T) {
	tests := []struct {
		name      string
		defaultID string
		catalog   []Voice
		want      string
	}{
		{name: "configured default present", defaultID: "onyx", catalog: []Voice{nova, onyx}, want: "onyx"},
		{name: "configured default missing falls back to none", defaultID: "alloy", catalog: []Voice{nova}, want: NoneVoiceID},
		{name: "no configured default", catalog: []Voice{nova}, want: NoneVoiceID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []Option
			if tt.defaultID != "" {
				opts = append(opts, WithDefaultVoice(tt.defaultID))
			}
			m, rec := newManager(opts...)
			m.SetAvailableVoices(tt.catalog)

			cur := m.GetCurrentVoice()
			if cur == nil || cur.VoiceID != tt.want {
				t.Fatalf("current voice = %v, want %s", cur, tt.want)
			}
			if len(rec.updates) != 1 {
				t.Errorf("voices-updated emitted %d times, want 1", len(rec.updates))
			}
			if len(rec.changes) != 1 || rec.changes[0].Source != domain.SourceClient {
				t.Errorf("expected one client voice-changed, got %+v", rec.changes)
			}
		})
	}
}

func TestCatalogReplaceKeepsSelectedVoice(t *testing.T) {
	m, rec := newManager()
	m.SetAvailableVoices([]Voice{nova})
	m.SetCurrentVoice("nova", domain.SourceClient)
	rec.changes = nil

	m.SetAvailableVoices([]Voice{nova, onyx})
	if cur := m.GetCurrentVoice(); cur == nil || cur.VoiceID != "nova" {
		t.Fatalf("current voice = %v, want nova", cur)
	}
	if len(rec.changes) != 0 {
		t.Errorf("catalog replace with a selected voice emitted %d changes", len(rec.changes))
	}
	last := rec.updates[len(rec.updates)-1]
	if last.PreviousCount != 3 || last.CurrentCount != 4 {
		t.Errorf("counts = %d -> %d, want 3 -> 4", last.PreviousCount, last.CurrentCount)
	}
}

func TestCatalogReplaceDroppingSelectedVoice(t *testing.T) {
	tests := []struct {
		name      string
		defaultID string
		want      string
	}{
		{name: "falls back to configured default", defaultID: "onyx", want: "onyx"},
		{name: "falls back to none", want: NoneVoiceID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := logger.Record()
			defer rec.Stop()

			var opts []Option
			if tt.defaultID != "" {
				opts = append(opts, WithDefaultVoice(tt.defaultID))
			}
			m, events := newManager(opts...)
			m.SetAvailableVoices([]Voice{nova, onyx})
			m.SetCurrentVoice("nova", domain.SourceServer)
			events.changes = nil

			m.SetAvailableVoices([]Voice{onyx})
			cur := m.GetCurrentVoice()
			if cur == nil || cur.VoiceID != tt.want {
				t.Fatalf("current voice = %v, want %s", cur, tt.want)
			}
			if !hasVoice(m.GetAvailableVoices(), cur.VoiceID) {
				t.Error("current voice is not in the catalog")
			}
			if format, ok := m.GetAudioFormat(); tt.want == NoneVoiceID && ok {
				t.Errorf("text-only fallback reports audio format %q", format)
			}
			if len(events.changes) != 1 {
				t.Fatalf("voice-changed emitted %d times, want 1", len(events.changes))
			}
			ev := events.changes[0]
			if ev.PreviousVoice == nil || ev.PreviousVoice.VoiceID != "nova" || ev.Source != domain.SourceClient {
				t.Errorf("change event = %+v", ev)
			}
			if !rec.Has(logger.WARN, "voice", "left the catalog") {
				t.Error("dropping the active voice should warn")
			}
		})
	}
}

func TestSetCurrentVoice(t *testing.T) {
	rec := logger.Record()
	defer rec.Stop()

	m, events := newManager()
	m.SetAvailableVoices([]Voice{nova, rachl})
	events.changes = nil

	if m.SetCurrentVoice("", domain.SourceClient) {
		t.Error("empty id should fail")
	}
	if m.SetCurrentVoice("ghost", domain.SourceServer) {
		t.Error("unknown id should fail")
	}
	if !rec.Has(logger.ERROR, "voice", "not in catalog") {
		t.Error("unknown id should log an error")
	}

	if !m.SetCurrentVoice("rachel", domain.SourceServer) {
		t.Fatal("known id should succeed")
	}
	if !m.SetCurrentVoice("rachel", domain.SourceClient) {
		t.Fatal("reselecting the active voice should return true")
	}
	if len(events.changes) != 1 {
		t.Fatalf("voice-changed emitted %d times, want 1", len(events.changes))
	}
	ev := events.changes[0]
	if ev.PreviousVoice == nil || ev.PreviousVoice.VoiceID != NoneVoiceID {
		t.Errorf("previous voice = %v, want none", ev.PreviousVoice)
	}
	if ev.CurrentVoice == nil || ev.CurrentVoice.VoiceID != "rachel" || ev.Source != domain.SourceServer {
		t.Errorf("unexpected change event %+v", ev)
	}
}

func TestSyntheticVoiceRestoredOnLookupMiss(t *testing.T) {
	m, _ := newManager()
	// Simulate a catalog that lost its synthetic entries.
	m.mu.Lock()
	m.voices = []Voice{nova}
	m.mu.Unlock()

	if !m.SetCurrentVoice(AvatarVoiceID, domain.SourceServer) {
		t.Fatal("avatar voice should always resolve")
	}
	if !hasVoice(m.GetAvailableVoices(), AvatarVoiceID) {
		t.Error("restored synthetic voice should be added back to the catalog")
	}
}

func TestDerivedQueries(t *testing.T) {
	tests := []struct {
		id         string
		avatar     bool
		textOnly   bool
		format     string
		hasFormat  bool
		supportsAu bool
	}{
		{id: NoneVoiceID, textOnly: true},
		{id: AvatarVoiceID, avatar: true},
		{id: "rachel", format: "mp3_44100", hasFormat: true, supportsAu: true},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			m, _ := newManager()
			m.SetAvailableVoices([]Voice{rachl})
			m.SetCurrentVoice(tt.id, domain.SourceClient)

			if m.IsAvatarVoice() != tt.avatar {
				t.Errorf("IsAvatarVoice = %v", m.IsAvatarVoice())
			}
			if m.IsTextOnlyVoice() != tt.textOnly {
				t.Errorf("IsTextOnlyVoice = %v", m.IsTextOnlyVoice())
			}
			format, ok := m.GetAudioFormat()
			if ok != tt.hasFormat || format != tt.format {
				t.Errorf("GetAudioFormat = (%q, %v)", format, ok)
			}
			caps := m.GetVoiceCapabilities()
			if caps.SupportsAudio != tt.supportsAu || caps.IsAvatar != tt.avatar || caps.IsTextOnly != tt.textOnly {
				t.Errorf("capabilities = %+v", caps)
			}
		})
	}
}

func TestNoVoiceSelected(t *testing.T) {
	m, _ := newManager()
	if m.GetCurrentVoice() != nil {
		t.Fatal("fresh manager should have no voice")
	}
	if _, ok := m.GetAudioFormat(); ok {
		t.Error("no audio format without a voice")
	}
	if caps := m.GetVoiceCapabilities(); caps != (Capabilities{}) {
		t.Errorf("capabilities without a voice = %+v", caps)
	}
}

func TestReset(t *testing.T) {
	m, rec := newManager()
	m.Reset()
	if len(rec.changes) != 0 {
		t.Fatal("Reset with no voice should not emit")
	}

	m.SetAvailableVoices([]Voice{nova})
	m.SetCurrentVoice("nova", domain.SourceClient)
	rec.changes = nil

	m.Reset()
	if m.GetCurrentVoice() != nil {
		t.Error("Reset should clear the active voice")
	}
	got := m.GetAvailableVoices()
	if len(got) != 2 || !hasVoice(got, NoneVoiceID) || !hasVoice(got, AvatarVoiceID) {
		t.Errorf("catalog after Reset = %v", got)
	}
	if len(rec.changes) != 1 || rec.changes[0].CurrentVoice != nil {
		t.Errorf("expected one change to nil, got %+v", rec.changes)
	}
}

func TestVoicesByVendor(t *testing.T) {
	m, _ := newManager()
	m.SetAvailableVoices([]Voice{nova, onyx, rachl})
	if got := m.VoicesByVendor("openai"); len(got) != 2 {
		t.Errorf("openai voices = %v", got)
	}
	if got := m.VoicesByVendor(SystemVendor); len(got) != 2 {
		t.Errorf("system voices = %v", got)
	}
}
