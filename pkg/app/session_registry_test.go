package app

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/sipeed/agentc/pkg/domain"
	agentdomain "github.com/sipeed/agentc/pkg/domain/agent"
	"github.com/sipeed/agentc/pkg/domain/media"
	"github.com/sipeed/agentc/pkg/domain/message"
	sessiondomain "github.com/sipeed/agentc/pkg/domain/session"
	"github.com/sipeed/agentc/pkg/events"
	"github.com/sipeed/agentc/pkg/infrastructure/eventbus"
	"github.com/sipeed/agentc/pkg/logger"
)

type outbound struct {
	changed   []sessiondomain.Changed
	added     []sessiondomain.MessageAdded
	lists     []sessiondomain.ListUpdated
	streaming []sessiondomain.Streaming
}

func newRegistry(t *testing.T) (*SessionRegistry, *eventbus.InProcessEventBus, *outbound) {
	t.Helper()
	in, out := eventbus.New(), eventbus.New()
	rec := &outbound{}
	eventbus.Listen(out, func(e sessiondomain.Changed) { rec.changed = append(rec.changed, e) })
	eventbus.Listen(out, func(e sessiondomain.MessageAdded) { rec.added = append(rec.added, e) })
	eventbus.Listen(out, func(e sessiondomain.ListUpdated) { rec.lists = append(rec.lists, e) })
	eventbus.Listen(out, func(e sessiondomain.Streaming) { rec.streaming = append(rec.streaming, e) })

	r := NewSessionRegistry(out)
	r.Attach(in)
	t.Cleanup(r.Detach)
	return r, in, rec
}

func TestCreateAndListSessions(t *testing.T) {
	r, _, rec := newRegistry(t)
	a := r.CreateSession("first", nil)
	b := r.CreateSession("second", domain.Metadata{"k": "v"})

	if a == b {
		t.Fatal("session ids collide")
	}
	list := r.ListSessions()
	if len(list) != 2 || list[0].ID != a.String() || list[1].ID != b.String() {
		t.Fatalf("ListSessions = %+v, want creation order", list)
	}
	if len(rec.lists) != 2 {
		t.Errorf("sessions-updated emitted %d times, want 2", len(rec.lists))
	}
	sess, ok := r.GetSession(b)
	if !ok || sess.Metadata.Get("k") != "v" {
		t.Errorf("GetSession(b) = %+v, %v", sess, ok)
	}
}

func TestSetCurrentSession(t *testing.T) {
	r, _, rec := newRegistry(t)
	id := r.CreateSession("s", nil)

	if err := r.SetCurrentSession("missing"); !errors.Is(err, sessiondomain.ErrSessionNotFound) {
		t.Fatalf("unknown id err = %v", err)
	}
	if err := r.SetCurrentSession(id); err != nil {
		t.Fatal(err)
	}
	if err := r.SetCurrentSession(id); err != nil {
		t.Fatal(err)
	}
	if len(rec.changed) != 1 || rec.changed[0].CurrentSessionID != id.String() {
		t.Fatalf("session-changed = %+v, want one change to %s", rec.changed, id)
	}
	if err := r.SetCurrentSession(""); err != nil {
		t.Fatal(err)
	}
	if r.GetCurrentSession() != nil {
		t.Error("empty id should clear the active session")
	}
}

func TestDeleteSession(t *testing.T) {
	r, _, rec := newRegistry(t)
	keep := r.CreateSession("keep", nil)
	drop := r.CreateSession("drop", nil)
	r.SetCurrentSession(drop)
	rec.changed = nil

	if !r.DeleteSession(drop) {
		t.Fatal("DeleteSession should report an existing session")
	}
	if r.DeleteSession(drop) {
		t.Fatal("DeleteSession should report a missing session")
	}
	if !r.CurrentSessionID().IsZero() {
		t.Error("deleting the active session should clear the active reference")
	}
	if len(rec.changed) != 1 || rec.changed[0].CurrentSessionID != "" {
		t.Errorf("session-changed = %+v", rec.changed)
	}
	if list := r.ListSessions(); len(list) != 1 || list[0].ID != keep.String() {
		t.Errorf("remaining sessions = %+v", list)
	}
}

func TestAddMessageToUnknownSessionWarns(t *testing.T) {
	lr := logger.Record()
	defer lr.Stop()

	r, _, rec := newRegistry(t)
	r.AddMessage("ghost", message.NewUserMessage("hi", time.Time{}))

	if !lr.Has(logger.WARN, "session", "unknown session") {
		t.Error("routing miss should log a warning")
	}
	if len(rec.added) != 0 {
		t.Error("routing miss should not emit message-added")
	}
}

func TestStreamingIngestion(t *testing.T) {
	r, in, rec := newRegistry(t)
	id := r.CreateSession("chat", nil)
	r.SetCurrentSession(id)

	in.Emit(message.UserInputPayload{Content: "hi"})
	in.Emit(message.TextStartPayload{})
	in.Emit(message.TextDeltaPayload{Content: "Hello "})
	in.Emit(message.TextDeltaPayload{Content: "world"})
	in.Emit(message.CompletionPayload{Running: false, StopReason: "end_turn", InputTokens: 7, OutputTokens: 2})
	in.Emit(message.TextEndPayload{})

	history := r.GetMessageHistory(id)
	if len(history) != 2 {
		t.Fatalf("history = %+v", history)
	}
	if history[0].Role != domain.RoleUser || history[0].Content != "hi" {
		t.Errorf("first message = %+v", history[0])
	}
	got := history[1]
	if got.Role != domain.RoleAssistant || got.Content != "Hello world" || got.Status != message.StatusComplete {
		t.Errorf("assistant message = %+v", got)
	}
	if got.Metadata == nil || got.Metadata.StopReason != "end_turn" || got.Metadata.InputTokens != 7 {
		t.Errorf("metadata = %+v", got.Metadata)
	}
	if len(rec.streaming) != 2 || rec.streaming[1].MessageID != got.ID.String() {
		t.Errorf("message-streaming = %+v", rec.streaming)
	}
	if len(rec.added) != 2 {
		t.Errorf("message-added emitted %d times", len(rec.added))
	}
	if sess := r.GetCurrentSession(); sess.Tokens.Total() != 9 {
		t.Errorf("session tokens = %+v", sess.Tokens)
	}
}

func TestThoughtThenText(t *testing.T) {
	r, in, _ := newRegistry(t)
	id := r.CreateSession("chat", nil)
	r.SetCurrentSession(id)

	in.Emit(message.ThoughtDeltaPayload{Content: "let me "})
	in.Emit(message.ThoughtDeltaPayload{Content: "think"})
	in.Emit(message.TextStartPayload{})
	in.Emit(message.TextDeltaPayload{Content: "answer"})
	in.Emit(message.TextEndPayload{})

	history := r.GetMessageHistory(id)
	if len(history) != 2 {
		t.Fatalf("history = %+v", history)
	}
	if history[0].Type != message.TypeThought || history[0].Content != "let me think" || !history[0].IsCollapsed {
		t.Errorf("thought = %+v", history[0])
	}
	if history[1].Type != message.TypeMessage || history[1].Content != "answer" {
		t.Errorf("answer = %+v", history[1])
	}
}

func TestEventsWithoutActiveSessionAreDropped(t *testing.T) {
	lr := logger.Record()
	defer lr.Stop()

	r, in, rec := newRegistry(t)
	id := r.CreateSession("idle", nil)

	in.Emit(message.UserInputPayload{Content: "lost"})
	in.Emit(message.TextStartPayload{})
	in.Emit(message.TextDeltaPayload{Content: "lost"})
	in.Emit(message.TextEndPayload{})
	in.Emit(events.SystemMessagePayload{Content: "lost"})

	if n := len(r.GetMessageHistory(id)); n != 0 {
		t.Errorf("inactive session received %d messages", n)
	}
	if len(rec.added) != 0 || len(rec.streaming) != 0 {
		t.Error("dropped events should not emit")
	}
	if lr.Count(logger.WARN, "session") != 0 {
		t.Error("dropping with no active session should be silent")
	}
	if r.IsStreaming() {
		t.Error("nothing should be streaming")
	}
}

func TestToolCallsAreCheckedAgainstPolicy(t *testing.T) {
	r, in, _ := newRegistry(t)
	id := r.CreateSession("tools", nil)
	r.SetCurrentSession(id)
	in.Emit(agentdomain.ConfigurationChangedPayload{AgentConfig: agentdomain.Config{
		Key:                 "ops",
		BlockedToolPatterns: []string{"admin_*"},
	}})

	if r.CanExecuteTool("admin_reset") || !r.CanExecuteTool("web_search") {
		t.Fatal("active session policy not applied")
	}

	in.Emit(message.TextStartPayload{})
	in.Emit(message.ToolCallPayload{Active: true, ToolCalls: []message.ToolCall{
		{ID: "1", Name: "web_search"},
		{ID: "2", Name: "admin_reset"},
	}})
	in.Emit(message.ToolCallPayload{Active: false, ToolResults: []message.ToolResult{{ToolCallID: "1", Content: "ok"}}})
	in.Emit(message.TextEndPayload{})

	history := r.GetMessageHistory(id)
	if len(history) != 1 || history[0].Metadata == nil {
		t.Fatalf("history = %+v", history)
	}
	calls := history[0].Metadata.ToolCalls
	if len(calls) != 2 || calls[0].Blocked || !calls[1].Blocked || calls[1].BlockedBy != "admin_*" {
		t.Errorf("tool calls = %+v", calls)
	}
	if len(history[0].Metadata.ToolResults) != 1 {
		t.Errorf("tool results = %+v", history[0].Metadata.ToolResults)
	}
}

func TestMediaAndSystemMessages(t *testing.T) {
	r, in, _ := newRegistry(t)
	id := r.CreateSession("media", nil)
	r.SetCurrentSession(id)

	in.Emit(media.RenderMediaPayload{ContentType: "text/html", Content: "<p/>"})
	in.Emit(events.SystemMessagePayload{Content: "maintenance", Severity: "warning"})

	history := r.GetMessageHistory(id)
	if len(history) != 2 {
		t.Fatalf("history = %+v", history)
	}
	if history[0].Type != message.TypeMedia || !history[0].ForeignContent.IsForeign() || history[0].ForeignContent.Present() {
		t.Errorf("media message = %+v", history[0])
	}
	if history[1].Type != message.TypeSystem || history[1].Role != domain.RoleSystem {
		t.Errorf("system message = %+v", history[1])
	}
}

func TestChatSessionChangedImportsAndActivates(t *testing.T) {
	r, in, _ := newRegistry(t)
	in.Emit(sessiondomain.ChatSessionChangedPayload{ChatSession: sessiondomain.Export{
		ID:        "srv-1",
		Name:      "from server",
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Messages:  []message.Message{message.NewUserMessage("earlier", time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC))},
	}})

	if r.CurrentSessionID() != "srv-1" {
		t.Fatalf("current session = %q", r.CurrentSessionID())
	}
	if h := r.GetMessageHistory("srv-1"); len(h) != 1 || h[0].Content != "earlier" {
		t.Errorf("imported history = %+v", h)
	}
}

func TestExportImportRoundTripThroughRegistry(t *testing.T) {
	src, in, _ := newRegistry(t)
	id := src.CreateSession("trip", domain.Metadata{"topic": "go", "n": 3.0})
	src.SetCurrentSession(id)
	in.Emit(message.UserInputPayload{Content: "q"})
	in.Emit(message.TextDeltaPayload{Content: "a"})
	in.Emit(message.TextEndPayload{})

	exported, err := src.ExportSession(id)
	if err != nil {
		t.Fatal(err)
	}

	dst, _, _ := newRegistry(t)
	gotID, err := dst.ImportSession(exported)
	if err != nil {
		t.Fatal(err)
	}
	want, _ := src.GetSession(id)
	got, _ := dst.GetSession(gotID)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestBulkImportSkipsInvalidRecords(t *testing.T) {
	r, _, _ := newRegistry(t)
	n, err := r.ImportSessions([]sessiondomain.Export{
		{ID: "a", Name: "a"},
		{Name: "no id"},
		{ID: "b", Name: "b"},
	})
	if n != 2 {
		t.Errorf("imported %d, want 2", n)
	}
	if !errors.Is(err, sessiondomain.ErrMissingID) {
		t.Errorf("err = %v, want ErrMissingID", err)
	}
	if len(r.ExportAll()) != 2 {
		t.Errorf("ExportAll = %d records", len(r.ExportAll()))
	}
}

func TestClearOperations(t *testing.T) {
	r, _, _ := newRegistry(t)
	id := r.CreateSession("c", nil)
	r.AddMessage(id, message.NewUserMessage("x", time.Time{}))
	r.SetCurrentSession(id)

	if !r.ClearSessionMessages(id) || len(r.GetMessageHistory(id)) != 0 {
		t.Fatal("ClearSessionMessages failed")
	}
	if r.ClearSessionMessages("ghost") {
		t.Error("ClearSessionMessages should report a missing session")
	}
	r.ClearAllSessions()
	if r.SessionCount() != 0 || !r.CurrentSessionID().IsZero() {
		t.Error("ClearAllSessions should drop everything and the active reference")
	}
}

func TestRenameAndMetadata(t *testing.T) {
	r, _, _ := newRegistry(t)
	id := r.CreateSession("old", nil)
	if err := r.RenameSession(id, "new"); err != nil {
		t.Fatal(err)
	}
	if err := r.SetSessionMetadata(id, "color", "blue"); err != nil {
		t.Fatal(err)
	}
	if err := r.RenameSession("ghost", "x"); !errors.Is(err, sessiondomain.ErrSessionNotFound) {
		t.Errorf("rename ghost err = %v", err)
	}
	sess, _ := r.GetSession(id)
	if sess.Name != "new" || sess.Metadata.Get("color") != "blue" {
		t.Errorf("session = %+v", sess)
	}
}

type memRepo struct {
	records map[string]sessiondomain.Export
	fail    error
}

func newMemRepo() *memRepo { return &memRepo{records: make(map[string]sessiondomain.Export)} }

func (m *memRepo) FindByID(id string) (*sessiondomain.Export, error) {
	e, ok := m.records[id]
	if !ok {
		return nil, sessiondomain.ErrSessionNotFound
	}
	return &e, nil
}

func (m *memRepo) FindAll() ([]sessiondomain.Export, error) {
	out := make([]sessiondomain.Export, 0, len(m.records))
	for _, e := range m.records {
		out = append(out, e)
	}
	return out, nil
}

func (m *memRepo) Save(e sessiondomain.Export) error {
	if m.fail != nil {
		return m.fail
	}
	m.records[e.ID] = e
	return nil
}

func (m *memRepo) Delete(id string) error {
	delete(m.records, id)
	return nil
}

func TestSaveToAndLoadFrom(t *testing.T) {
	src, _, _ := newRegistry(t)
	id := src.CreateSession("persisted", nil)
	src.AddMessage(id, message.NewUserMessage("kept", time.Time{}))

	repo := newMemRepo()
	if err := src.SaveTo(repo); err != nil {
		t.Fatal(err)
	}

	dst, _, _ := newRegistry(t)
	n, err := dst.LoadFrom(repo)
	if err != nil || n != 1 {
		t.Fatalf("LoadFrom = %d, %v", n, err)
	}
	if h := dst.GetMessageHistory(id); len(h) != 1 || h[0].Content != "kept" {
		t.Errorf("loaded history = %+v", h)
	}

	repo.fail = errors.New("disk full")
	if err := src.SaveTo(repo); err == nil {
		t.Error("SaveTo should surface repository errors")
	}
}

func TestSaveToRemovesDeletedSessions(t *testing.T) {
	src, _, _ := newRegistry(t)
	kept := src.CreateSession("kept", nil)
	doomed := src.CreateSession("doomed", nil)

	repo := newMemRepo()
	if err := src.SaveTo(repo); err != nil {
		t.Fatal(err)
	}
	src.DeleteSession(doomed)
	if err := src.SaveTo(repo); err != nil {
		t.Fatal(err)
	}

	dst, _, _ := newRegistry(t)
	if n, err := dst.LoadFrom(repo); err != nil || n != 1 {
		t.Fatalf("LoadFrom = %d, %v", n, err)
	}
	if _, ok := dst.GetSession(doomed); ok {
		t.Error("deleted session came back after reload")
	}
	if _, ok := dst.GetSession(kept); !ok {
		t.Error("kept session missing after reload")
	}

	src.ClearAllSessions()
	if err := src.SaveTo(repo); err != nil {
		t.Fatal(err)
	}
	if len(repo.records) != 0 {
		t.Errorf("store still holds %d records after ClearAllSessions", len(repo.records))
	}
}

func TestSwitchingSessionMidStreamDiscardsMessage(t *testing.T) {
	rec := logger.Record()
	defer rec.Stop()

	r, in, _ := newRegistry(t)
	a := r.CreateSession("a", nil)
	b := r.CreateSession("b", nil)
	r.SetCurrentSession(a)

	in.Emit(message.TextStartPayload{})
	in.Emit(message.TextDeltaPayload{Content: "lost"})
	if err := r.SetCurrentSession(b); err != nil {
		t.Fatal(err)
	}
	if r.IsStreaming() {
		t.Fatal("switching sessions should discard the message in progress")
	}
	if !rec.Has(logger.WARN, "session", "mid-stream") {
		t.Error("discarding a message should warn")
	}

	in.Emit(message.TextStartPayload{})
	in.Emit(message.TextDeltaPayload{Content: "kept"})
	in.Emit(message.TextEndPayload{})
	if h := r.GetMessageHistory(a); len(h) != 0 {
		t.Errorf("previous session history = %+v", h)
	}
	if h := r.GetMessageHistory(b); len(h) != 1 || h[0].Content != "kept" {
		t.Errorf("new session history = %+v", h)
	}
}

func TestDiscardStream(t *testing.T) {
	r, in, _ := newRegistry(t)
	id := r.CreateSession("c", nil)
	r.SetCurrentSession(id)

	in.Emit(message.TextDeltaPayload{Content: "partial"})
	in.Emit(message.CompletionPayload{StopReason: "max_tokens", OutputTokens: 3})
	r.DiscardStream()
	if r.IsStreaming() {
		t.Fatal("DiscardStream should drop the message in progress")
	}

	in.Emit(message.TextStartPayload{})
	in.Emit(message.TextDeltaPayload{Content: "fresh"})
	in.Emit(message.TextEndPayload{})
	h := r.GetMessageHistory(id)
	if len(h) != 1 || h[0].Content != "fresh" {
		t.Fatalf("history = %+v", h)
	}
	if h[0].Metadata != nil && h[0].Metadata.StopReason != "" {
		t.Errorf("pending metadata survived DiscardStream: %+v", h[0].Metadata)
	}
}
