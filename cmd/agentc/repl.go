package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/chzyer/readline"

	"github.com/sipeed/agentc/pkg/app"
	"github.com/sipeed/agentc/pkg/domain"
	"github.com/sipeed/agentc/pkg/domain/session"
	"github.com/sipeed/agentc/pkg/logger"
)

const helpText = `Commands:
  /voices               list voices
  /voice <id>           select a voice
  /avatars              list avatars
  /avatar <id>|off      start or end an avatar session
  /sessions             list chat sessions
  /session <id>         switch chat session
  /new [name]           create and switch to a new session
  /rename <name>        rename the current session
  /delete <id>          delete a session
  /history              show the current transcript
  /save                 save sessions now
  /reconnect            dial the server again after a disconnect
  /quit                 exit
Anything else is sent to the agent.`

type repl struct {
	client  *app.Client
	repo    session.Repository
	out     io.Writer
	connect func(ctx context.Context) error
}

var errAlreadyConnected = errors.New("already connected")

func completer() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("/help"),
		readline.PcItem("/voices"),
		readline.PcItem("/voice"),
		readline.PcItem("/avatars"),
		readline.PcItem("/avatar", readline.PcItem("off")),
		readline.PcItem("/sessions"),
		readline.PcItem("/session"),
		readline.PcItem("/new"),
		readline.PcItem("/rename"),
		readline.PcItem("/delete"),
		readline.PcItem("/history"),
		readline.PcItem("/save"),
		readline.PcItem("/reconnect"),
		readline.PcItem("/quit"),
	)
}

// handle runs one input line and reports whether the user asked to quit.
func (r *repl) handle(ctx context.Context, line string) bool {
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		r.report(r.client.SendText(ctx, line))
		return false
	}

	cmd, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "quit", "exit", "q":
		return true
	case "help", "?":
		fmt.Fprintln(r.out, helpText)
	case "voices":
		r.listVoices()
	case "voice":
		if arg == "" {
			fmt.Fprintln(r.out, "usage: /voice <id>")
			break
		}
		r.report(r.client.SetVoice(ctx, arg))
	case "avatars":
		r.listAvatars()
	case "avatar":
		switch arg {
		case "":
			fmt.Fprintln(r.out, "usage: /avatar <id>|off")
		case "off":
			r.report(r.client.EndAvatarSession(ctx))
		default:
			r.report(r.client.StartAvatarSession(ctx, arg))
		}
	case "sessions":
		r.listSessions()
	case "session":
		if arg == "" {
			fmt.Fprintln(r.out, "usage: /session <id>")
			break
		}
		r.report(r.client.SwitchSession(ctx, domain.EntityID(arg)))
	case "new":
		name := arg
		if name == "" {
			name = "Chat " + time.Now().Format("2006-01-02 15:04")
		}
		id := r.client.Sessions.CreateSession(name, nil)
		r.report(r.client.SwitchSession(ctx, id))
	case "rename":
		cur := r.client.Sessions.CurrentSessionID()
		if cur.IsZero() || arg == "" {
			fmt.Fprintln(r.out, "usage: /rename <name> (with an active session)")
			break
		}
		r.report(r.client.Sessions.RenameSession(cur, arg))
	case "delete":
		if !r.client.Sessions.DeleteSession(domain.EntityID(arg)) {
			fmt.Fprintf(r.out, "no session %q\n", arg)
		}
	case "history":
		r.history()
	case "save":
		if err := r.client.Sessions.SaveTo(r.repo); err != nil {
			r.report(err)
		} else {
			fmt.Fprintf(r.out, "saved %d sessions\n", r.client.Sessions.SessionCount())
		}
	case "reconnect":
		if r.connect == nil {
			fmt.Fprintln(r.out, "reconnect is not available")
			break
		}
		if err := r.connect(ctx); err != nil {
			r.report(err)
		} else {
			fmt.Fprintln(r.out, "connected")
		}
	default:
		fmt.Fprintf(r.out, "unknown command /%s, try /help\n", cmd)
	}
	return false
}

func (r *repl) report(err error) {
	if err == nil {
		return
	}
	logger.DebugCF("repl", "Command failed", map[string]interface{}{"error": err.Error()})
	fmt.Fprintf(r.out, "error: %v\n", err)
}

func (r *repl) listVoices() {
	current := r.client.Voices.GetCurrentVoice()
	w := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	for _, v := range r.client.Voices.GetAvailableVoices() {
		mark := " "
		if current != nil && current.VoiceID == v.VoiceID {
			mark = "*"
		}
		fmt.Fprintf(w, "%s %s\t%s\t%s\n", mark, v.VoiceID, v.Vendor, v.Description)
	}
	w.Flush()
}

func (r *repl) listAvatars() {
	avatars := r.client.Avatars.GetAvailableAvatars()
	if len(avatars) == 0 {
		fmt.Fprintln(r.out, "no avatars available")
		return
	}
	active := r.client.Avatars.GetAvatarSession()
	for _, a := range avatars {
		mark := " "
		if active != nil && active.AvatarID == a.AvatarID {
			mark = "*"
		}
		fmt.Fprintf(r.out, "%s %s\n", mark, a.AvatarID)
	}
}

func (r *repl) listSessions() {
	summaries := r.client.Sessions.ListSessions()
	if len(summaries) == 0 {
		fmt.Fprintln(r.out, "no sessions")
		return
	}
	current := r.client.Sessions.CurrentSessionID().String()
	w := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	for _, s := range summaries {
		mark := " "
		if s.ID == current {
			mark = "*"
		}
		fmt.Fprintf(w, "%s %s\t%s\t%d msgs\t%s\n", mark, s.ID, s.Name, s.MessageCount, s.UpdatedAt.Local().Format(time.DateTime))
	}
	w.Flush()
}

func (r *repl) history() {
	cur := r.client.Sessions.GetCurrentSession()
	if cur == nil {
		fmt.Fprintln(r.out, "no active session")
		return
	}
	for _, m := range cur.History() {
		prefix := m.Role.String()
		if m.Type != "" && m.Type != "message" {
			prefix += "/" + string(m.Type)
		}
		fmt.Fprintf(r.out, "%s %s: %s\n", m.Timestamp.Local().Format(time.TimeOnly), prefix, m.Content)
	}
}
