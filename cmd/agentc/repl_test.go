package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/sipeed/agentc/pkg/app"
	"github.com/sipeed/agentc/pkg/domain/message"
	"github.com/sipeed/agentc/pkg/domain/turn"
	"github.com/sipeed/agentc/pkg/domain/voice"
	"github.com/sipeed/agentc/pkg/events"
	"github.com/sipeed/agentc/pkg/infrastructure/persistence"
)

type recordingSender struct {
	sent []events.Command
}

func (s *recordingSender) Send(_ context.Context, cmd events.Command) error {
	s.sent = append(s.sent, cmd)
	return nil
}

func newTestREPL(t *testing.T) (*repl, *recordingSender, *bytes.Buffer) {
	t.Helper()
	repo, err := persistence.NewSessionFileRepository(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	sender := &recordingSender{}
	client := app.NewClient(sender)
	t.Cleanup(client.Dispose)
	out := &bytes.Buffer{}
	return &repl{client: client, repo: repo, out: out}, sender, out
}

func TestREPLCommands(t *testing.T) {
	r, sender, out := newTestREPL(t)
	ctx := context.Background()

	if r.handle(ctx, "hello") {
		t.Fatal("text should not quit")
	}
	if !strings.Contains(out.String(), "not the user's turn") {
		t.Errorf("text before the user's turn should report an error, got %q", out.String())
	}

	r.client.Inbound.Emit(turn.StartSignal{})
	r.handle(ctx, "hello")
	if len(sender.sent) != 1 || sender.sent[0].(events.TextInputCommand).Text != "hello" {
		t.Fatalf("sent = %#v", sender.sent)
	}

	r.handle(ctx, "/new Planning")
	if r.client.Sessions.SessionCount() != 1 || r.client.Sessions.CurrentSessionID().IsZero() {
		t.Fatal("/new should create and activate a session")
	}
	if last := sender.sent[len(sender.sent)-1]; last.CommandType() != events.CmdSetChatSession {
		t.Errorf("/new should tell the server, last command %v", last.CommandType())
	}

	r.handle(ctx, "/rename Roadmap")
	if cur := r.client.Sessions.GetCurrentSession(); cur == nil || cur.Name != "Roadmap" {
		t.Errorf("rename failed: %+v", cur)
	}

	out.Reset()
	r.handle(ctx, "/voice none")
	if cur := r.client.Voices.GetCurrentVoice(); cur == nil || cur.VoiceID != voice.NoneVoiceID {
		t.Errorf("voice = %v", cur)
	}
	r.handle(ctx, "/voice ghost")
	if !strings.Contains(out.String(), "unknown voice") {
		t.Errorf("unknown voice output %q", out.String())
	}

	out.Reset()
	r.handle(ctx, "/save")
	if !strings.Contains(out.String(), "saved 1 sessions") {
		t.Errorf("save output %q", out.String())
	}
	stored, err := r.repo.FindAll()
	if err != nil || len(stored) != 1 || stored[0].Name != "Roadmap" {
		t.Errorf("repository = %+v, %v", stored, err)
	}

	out.Reset()
	r.handle(ctx, "/bogus")
	if !strings.Contains(out.String(), "unknown command") {
		t.Errorf("bogus output %q", out.String())
	}
	if !r.handle(ctx, "/quit") {
		t.Error("/quit should quit")
	}
}

func TestREPLReconnect(t *testing.T) {
	r, _, out := newTestREPL(t)
	ctx := context.Background()

	r.handle(ctx, "/reconnect")
	if !strings.Contains(out.String(), "not available") {
		t.Errorf("reconnect without a dialer printed %q", out.String())
	}

	dials := 0
	r.connect = func(context.Context) error {
		dials++
		if dials > 1 {
			return errAlreadyConnected
		}
		return nil
	}
	out.Reset()
	r.handle(ctx, "/reconnect")
	if dials != 1 || !strings.Contains(out.String(), "connected") {
		t.Errorf("dials = %d, output %q", dials, out.String())
	}
	out.Reset()
	r.handle(ctx, "/reconnect")
	if !strings.Contains(out.String(), "already connected") {
		t.Errorf("second reconnect printed %q", out.String())
	}
}

func TestPrinterStreamsAndTerminatesLines(t *testing.T) {
	r, _, _ := newTestREPL(t)
	out := &bytes.Buffer{}
	var prompt string
	p := newPrinter(out, func(s string) { prompt = s })
	detach := p.attach(r.client.Outbound)
	defer detach()

	id := r.client.Sessions.CreateSession("s", nil)
	if err := r.client.Sessions.SetCurrentSession(id); err != nil {
		t.Fatal(err)
	}
	in := r.client.Inbound
	in.Emit(turn.StartSignal{})
	if prompt != promptReady {
		t.Errorf("prompt = %q after turn start", prompt)
	}
	in.Emit(message.TextStartPayload{})
	in.Emit(message.TextDeltaPayload{Content: "Hel"})
	in.Emit(message.TextDeltaPayload{Content: "lo"})
	in.Emit(message.TextEndPayload{})
	in.Emit(events.SystemMessagePayload{Content: "heads up"})

	want := "agent: Hello\n[system] heads up\n"
	if !strings.Contains(out.String(), want) {
		t.Errorf("output = %q, want it to contain %q", out.String(), want)
	}
}
