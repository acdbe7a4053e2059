package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/sipeed/agentc/pkg/domain"
	"github.com/sipeed/agentc/pkg/domain/avatar"
	"github.com/sipeed/agentc/pkg/domain/message"
	"github.com/sipeed/agentc/pkg/domain/session"
	"github.com/sipeed/agentc/pkg/domain/turn"
	"github.com/sipeed/agentc/pkg/domain/voice"
	"github.com/sipeed/agentc/pkg/events"
	"github.com/sipeed/agentc/pkg/infrastructure/eventbus"
)

const (
	promptReady   = "you> "
	promptWaiting = "...> "
)

// printer renders outbound events to the terminal.
type printer struct {
	mu        sync.Mutex
	out       io.Writer
	setPrompt func(string)
	streaming string
}

func newPrinter(out io.Writer, setPrompt func(string)) *printer {
	if setPrompt == nil {
		setPrompt = func(string) {}
	}
	return &printer{out: out, setPrompt: setPrompt}
}

func (p *printer) attach(bus events.Bus) (detach func()) {
	subs := []struct {
		name events.Name
		id   events.ListenerID
	}{
		{events.MessageStreaming, eventbus.Listen(bus, p.onStreaming)},
		{events.MessageAdded, eventbus.Listen(bus, p.onMessageAdded)},
		{events.TurnStateChanged, eventbus.Listen(bus, p.onTurn)},
		{events.VoiceChanged, eventbus.Listen(bus, p.onVoice)},
		{events.AvatarSessionStarted, eventbus.Listen(bus, p.onAvatarStarted)},
		{events.AvatarSessionEnded, eventbus.Listen(bus, p.onAvatarEnded)},
		{events.SessionChanged, eventbus.Listen(bus, p.onSessionChanged)},
		{events.ClientError, eventbus.Listen(bus, p.onError)},
	}
	return func() {
		for _, s := range subs {
			bus.Off(s.name, s.id)
		}
	}
}

func (p *printer) onStreaming(e session.Streaming) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.streaming != e.MessageID {
		p.endLineLocked()
		p.streaming = e.MessageID
		if e.Type == message.TypeThought {
			fmt.Fprint(p.out, "(thinking) ")
		} else {
			fmt.Fprint(p.out, "agent: ")
		}
	}
	fmt.Fprint(p.out, e.Delta)
}

// endLineLocked terminates a streamed line; caller holds p.mu.
func (p *printer) endLineLocked() {
	if p.streaming != "" {
		fmt.Fprintln(p.out)
		p.streaming = ""
	}
}

func (p *printer) onMessageAdded(e session.MessageAdded) {
	p.mu.Lock()
	defer p.mu.Unlock()
	msg := e.Message
	if msg.ID.String() == p.streaming {
		p.endLineLocked()
		return
	}
	p.endLineLocked()

	switch msg.Type {
	case message.TypeSystem:
		fmt.Fprintf(p.out, "[system] %s\n", msg.Content)
	case message.TypeMedia:
		if msg.URL != "" {
			fmt.Fprintf(p.out, "[media %s] %s\n", msg.ContentType, msg.URL)
		} else {
			fmt.Fprintf(p.out, "[media %s] %d bytes\n", msg.ContentType, len(msg.Content))
		}
	default:
		if msg.Role == domain.RoleAssistant && msg.Content != "" {
			fmt.Fprintf(p.out, "agent: %s\n", msg.Content)
		}
		if msg.Metadata != nil {
			for _, tc := range msg.Metadata.ToolCalls {
				if tc.Blocked {
					fmt.Fprintf(p.out, "[tool] %s blocked (%s)\n", tc.Name, tc.BlockedBy)
				}
			}
		}
	}
}

func (p *printer) onTurn(e turn.StateChanged) {
	if e.CanSendInput {
		p.setPrompt(promptReady)
	} else {
		p.setPrompt(promptWaiting)
	}
}

func (p *printer) onVoice(e voice.Changed) {
	if e.CurrentVoice == nil {
		return
	}
	p.line("[voice] %s (%s)", e.CurrentVoice.VoiceID, e.Source)
}

func (p *printer) onAvatarStarted(e avatar.SessionStarted) {
	p.line("[avatar] %s connected", e.AvatarID)
}

func (p *printer) onAvatarEnded(avatar.SessionEnded) {
	p.line("[avatar] disconnected")
}

func (p *printer) onSessionChanged(e session.Changed) {
	if e.CurrentSessionID == "" {
		p.line("[session] none active")
		return
	}
	p.line("[session] %s", e.CurrentSessionID)
}

func (p *printer) onError(e events.ClientErrorPayload) {
	if e.Source != "" {
		p.line("[error] %s: %s", e.Source, e.Message)
		return
	}
	p.line("[error] %s", e.Message)
}

func (p *printer) line(format string, args ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endLineLocked()
	fmt.Fprintf(p.out, format+"\n", args...)
}
