// Command agentc is an interactive terminal client for an Agent C server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/spf13/pflag"
	"golang.org/x/oauth2"

	"github.com/sipeed/agentc/pkg/api"
	"github.com/sipeed/agentc/pkg/app"
	"github.com/sipeed/agentc/pkg/config"
	"github.com/sipeed/agentc/pkg/events"
	"github.com/sipeed/agentc/pkg/infrastructure/eventbus"
	"github.com/sipeed/agentc/pkg/infrastructure/metrics"
	"github.com/sipeed/agentc/pkg/infrastructure/persistence"
	"github.com/sipeed/agentc/pkg/logger"
	"github.com/sipeed/agentc/pkg/transport"
)

var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "agentc: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := config.NewFlags("agentc")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if flags.Version {
		fmt.Println("agentc", version)
		return nil
	}

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return err
	}
	flags.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	level, _ := logger.ParseLevel(cfg.Log.Level)
	logger.SetLevel(level)
	logger.SetOutput(os.Stderr, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New("agentc")
	inbound, outbound := eventbus.New(), eventbus.New()
	inbound.SetObserver(m)
	outbound.SetObserver(m)

	// The client subscribes before the connection exists so nothing the
	// server sends on connect is missed.
	var conn atomic.Pointer[transport.Conn]
	sender := app.SenderFunc(func(ctx context.Context, cmd events.Command) error {
		c := conn.Load()
		if c == nil {
			return app.ErrNotConnected
		}
		return c.Send(ctx, cmd)
	})
	client := app.NewClient(sender,
		app.WithBuses(inbound, outbound),
		app.WithDefaultVoice(cfg.Voice.Default),
		app.WithAvatars(cfg.Avatars),
	)
	defer client.Dispose()
	stopWatch := m.Watch(outbound)
	defer stopWatch()

	repo, closeRepo, err := persistence.Open(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer closeRepo()
	if n, err := client.Sessions.LoadFrom(repo); err != nil {
		logger.WarnCF("main", "Some stored sessions could not be loaded", map[string]interface{}{"error": err.Error()})
	} else {
		logger.InfoCF("main", "Sessions restored", map[string]interface{}{"count": n})
	}

	autosaveDone := make(chan struct{})
	if cfg.Storage.Autosave != "" {
		saver, err := app.NewAutosaver(client.Sessions, repo, cfg.Storage.Autosave)
		if err != nil {
			return err
		}
		go func() {
			defer close(autosaveDone)
			saver.Run(ctx)
		}()
	} else {
		close(autosaveDone)
		defer func() {
			if err := client.Sessions.SaveTo(repo); err != nil {
				logger.ErrorCF("main", "Saving sessions failed", map[string]interface{}{"error": err.Error()})
			}
		}()
	}

	var tokens oauth2.TokenSource
	if cfg.Server.Token != "" {
		tokens = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Server.Token})
	}
	connect := func(ctx context.Context) error {
		if conn.Load() != nil {
			return errAlreadyConnected
		}
		c, err := transport.Dial(ctx, inbound, transport.Options{
			URL:         cfg.Server.URL,
			TokenSource: tokens,
			Recorder:    m,
			DialTimeout: cfg.Server.DialTimeout,
		})
		if err != nil {
			return err
		}
		conn.Store(c)
		return nil
	}
	if err := connect(ctx); err != nil {
		return err
	}
	defer func() {
		if c := conn.Load(); c != nil {
			c.Close()
		}
	}()

	if cfg.UI.Enabled {
		srv := api.NewServer(api.Config{Addr: cfg.UI.Addr, APIKey: cfg.UI.APIKey}, client, m.Handler())
		if err := srv.Start(ctx); err != nil {
			return err
		}
		defer srv.Stop()
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          promptWaiting,
		HistoryFile:     filepath.Join(cfg.Storage.Path, "history"),
		AutoComplete:    completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "/quit",
	})
	if err != nil {
		return fmt.Errorf("terminal: %w", err)
	}
	defer rl.Close()

	p := newPrinter(rl.Stdout(), rl.SetPrompt)
	detach := p.attach(outbound)
	defer detach()

	r := &repl{client: client, repo: repo, out: rl.Stdout(), connect: connect}
	fmt.Fprintf(rl.Stdout(), "Connected to %s. Type /help for commands.\n", cfg.Server.URL)

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		for {
			line, err := rl.Readline()
			if err != nil {
				readErr <- err
				return
			}
			lines <- line
		}
	}()

loop:
	for {
		// nil while offline, which blocks that case
		var connDone <-chan struct{}
		c := conn.Load()
		if c != nil {
			connDone = c.Done()
		}

		select {
		case <-ctx.Done():
			break loop
		case <-connDone:
			conn.CompareAndSwap(c, nil)
			client.ResetConnectionState()
			if err := c.Err(); err != nil {
				fmt.Fprintf(rl.Stdout(), "Connection lost: %v\n", err)
			} else {
				fmt.Fprintln(rl.Stdout(), "Server closed the connection.")
			}
			fmt.Fprintln(rl.Stdout(), "Working offline. /reconnect to dial again, /quit to exit.")
		case err := <-readErr:
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				break loop
			}
			return err
		case line := <-lines:
			if r.handle(ctx, strings.TrimSpace(line)) {
				break loop
			}
		}
	}

	stop()
	<-autosaveDone
	return nil
}
