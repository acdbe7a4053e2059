package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/sipeed/agentc/pkg/domain"
	"github.com/sipeed/agentc/pkg/domain/agent"
	"github.com/sipeed/agentc/pkg/domain/media"
	"github.com/sipeed/agentc/pkg/domain/message"
)

func sampleSession() *ChatSession {
	s := New("Planning", domain.Metadata{
		"pinned": true,
		"tags":   []interface{}{"work", "q3"},
		"nested": map[string]interface{}{"depth": 2.0},
	})
	at := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	s.AddMessage(message.NewUserMessage("hello", at))
	s.AddMessage(message.Message{
		ID:        domain.NewID(),
		Role:      domain.RoleAssistant,
		Content:   "hi there",
		Type:      message.TypeMessage,
		Status:    message.StatusComplete,
		Timestamp: at.Add(time.Second),
		Metadata: &message.Metadata{
			InputTokens: 12,
			StopReason:  "end_turn",
			ToolCalls:   []message.ToolCall{{ID: "t1", Name: "search", Arguments: map[string]interface{}{"q": "x"}}},
		},
	})
	s.AddMessage(message.Message{
		ID:          domain.NewID(),
		Role:        domain.RoleAssistant,
		Content:     "hmm",
		Type:        message.TypeThought,
		Status:      message.StatusComplete,
		Timestamp:   at.Add(2 * time.Second),
		IsCollapsed: true,
	})
	s.AddMessage(message.NewMediaMessage(media.RenderMediaPayload{
		ContentType:    "text/html",
		Content:        "<b>x</b>",
		ForeignContent: media.Foreign(true),
	}, at.Add(3*time.Second)))
	s.SetAgentConfig(&agent.Config{Key: "default", BlockedToolPatterns: []string{"admin_*"}})
	s.AddTokens(12, 4)
	return s
}

func TestExportImportRoundTrip(t *testing.T) {
	s := sampleSession()

	back, err := FromExport(s.Export())
	if err != nil {
		t.Fatalf("FromExport: %v", err)
	}
	if diff := cmp.Diff(s, back); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestExportImportRoundTripThroughJSON(t *testing.T) {
	s := sampleSession()

	data, err := json.Marshal(s.Export())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var e Export
	if err := json.Unmarshal(data, &e); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	back, err := FromExport(e)
	if err != nil {
		t.Fatalf("FromExport: %v", err)
	}
	if diff := cmp.Diff(s, back); diff != "" {
		t.Errorf("JSON round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestExportShape(t *testing.T) {
	data, err := json.Marshal(New("empty", nil).Export())
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"id", "name", "createdAt", "messages", "metadata"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("export is missing %q", key)
		}
	}
	if string(raw["messages"]) != "[]" || string(raw["metadata"]) != "{}" {
		t.Errorf("empty collections encoded as %s / %s", raw["messages"], raw["metadata"])
	}
}

func TestImportMinimalRecord(t *testing.T) {
	raw := `{"id":"abc","name":"n","createdAt":"2026-01-02T03:04:05Z","messages":null,"metadata":null}`
	var e Export
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		t.Fatal(err)
	}
	s, err := FromExport(e)
	if err != nil {
		t.Fatal(err)
	}
	if s.Messages == nil || s.Metadata == nil {
		t.Error("imported collections should be non-nil")
	}
	if !s.UpdatedAt.Equal(s.CreatedAt) {
		t.Errorf("UpdatedAt = %v, want CreatedAt", s.UpdatedAt)
	}
}

func TestImportRequiresID(t *testing.T) {
	if _, err := FromExport(Export{Name: "x"}); err != ErrMissingID {
		t.Fatalf("err = %v, want ErrMissingID", err)
	}
}

func TestExportDoesNotAlias(t *testing.T) {
	s := sampleSession()
	e := s.Export()
	e.Metadata["pinned"] = false
	e.Messages[0].Content = "changed"
	e.AgentConfig.BlockedToolPatterns[0] = "none"

	if s.Metadata["pinned"] != true || s.Messages[0].Content != "hello" {
		t.Error("export shares memory with the session")
	}
	if !s.CanExecuteTool("web") || s.CanExecuteTool("admin_panel") {
		t.Error("session policy changed through the export")
	}
}

func TestSessionBehavior(t *testing.T) {
	s := New("a", nil)
	before := s.UpdatedAt
	time.Sleep(time.Millisecond)

	s.Rename("b")
	if s.Name != "b" || !s.UpdatedAt.After(before) {
		t.Errorf("Rename did not update name/timestamp")
	}
	s.SetMetadata("k", "v")
	if s.Metadata.Get("k") != "v" {
		t.Error("SetMetadata failed")
	}
	s.AddMessage(message.NewUserMessage("x", time.Time{}))
	if s.MessageCount() != 1 || s.Summary().MessageCount != 1 {
		t.Error("message count mismatch")
	}
	s.ClearMessages()
	if s.MessageCount() != 0 || s.Messages == nil {
		t.Error("ClearMessages should leave an empty, non-nil transcript")
	}
	s.AddTokens(3, 4)
	if s.Tokens.Total() != 7 {
		t.Errorf("tokens = %+v", s.Tokens)
	}
}
