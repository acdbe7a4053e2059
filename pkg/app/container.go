// Package app provides the application layer: the session registry, the
// client composition root that wires the domain managers to the inbound
// and outbound buses, and scheduled autosave.
package app

import (
	"context"
	"fmt"

	"github.com/sipeed/agentc/pkg/domain"
	"github.com/sipeed/agentc/pkg/domain/avatar"
	"github.com/sipeed/agentc/pkg/domain/turn"
	"github.com/sipeed/agentc/pkg/domain/voice"
	"github.com/sipeed/agentc/pkg/events"
	"github.com/sipeed/agentc/pkg/infrastructure/eventbus"
	"github.com/sipeed/agentc/pkg/logger"
)

// Sender delivers client commands to the server. pkg/transport implements it.
type Sender interface {
	Send(ctx context.Context, cmd events.Command) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, cmd events.Command) error

func (f SenderFunc) Send(ctx context.Context, cmd events.Command) error { return f(ctx, cmd) }

// ---------------------------------------------------------------------------
// Client - composition root
// ---------------------------------------------------------------------------

// Client holds the realtime core and its collaborators. Inbound is fed by
// the transport; Outbound is what the UI layer listens to.
type Client struct {
	Inbound  events.Bus
	Outbound events.Bus

	Turn     *turn.Machine
	Voices   *voice.Manager
	Avatars  *avatar.Manager
	Sessions *SessionRegistry

	sender Sender
	subs   []subscription
}

type clientOptions struct {
	inbound        events.Bus
	outbound       events.Bus
	defaultVoiceID string
	avatars        []avatar.Avatar
}

// ClientOption configures NewClient.
type ClientOption func(*clientOptions)

// WithBuses supplies the inbound and outbound buses. Either may be nil to
// get a fresh in-process bus.
func WithBuses(inbound, outbound events.Bus) ClientOption {
	return func(o *clientOptions) {
		o.inbound = inbound
		o.outbound = outbound
	}
}

// WithDefaultVoice sets the voice chosen when the first catalog arrives.
func WithDefaultVoice(id string) ClientOption {
	return func(o *clientOptions) { o.defaultVoiceID = id }
}

// WithAvatars seeds the avatar catalog.
func WithAvatars(avatars []avatar.Avatar) ClientOption {
	return func(o *clientOptions) { o.avatars = avatars }
}

// NewClient wires the managers together. sender may be nil for a client
// that only consumes events.
func NewClient(sender Sender, opts ...ClientOption) *Client {
	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.inbound == nil {
		o.inbound = eventbus.New()
	}
	if o.outbound == nil {
		o.outbound = eventbus.New()
	}

	var voiceOpts []voice.Option
	if o.defaultVoiceID != "" {
		voiceOpts = append(voiceOpts, voice.WithDefaultVoice(o.defaultVoiceID))
	}

	c := &Client{
		Inbound:  o.inbound,
		Outbound: o.outbound,
		Turn:     turn.New(o.inbound, o.outbound),
		Voices:   voice.NewManager(o.outbound, voiceOpts...),
		Avatars:  avatar.NewManager(o.outbound, o.avatars),
		Sessions: NewSessionRegistry(o.outbound),
		sender:   sender,
	}
	c.Sessions.Attach(o.inbound)
	c.subs = []subscription{
		{events.VoiceList, eventbus.Listen(o.inbound, c.onVoiceList)},
		{events.AgentVoiceChanged, eventbus.Listen(o.inbound, c.onAgentVoiceChanged)},
		{events.AvatarList, eventbus.Listen(o.inbound, c.onAvatarList)},
		{events.AvatarConnectionChanged, eventbus.Listen(o.inbound, c.onAvatarConnectionChanged)},
		{events.ServerError, eventbus.Listen(o.inbound, c.onServerError)},
	}
	return c
}

// Dispose detaches every handler from the inbound bus.
func (c *Client) Dispose() {
	c.Turn.Dispose()
	c.Sessions.Detach()
	for _, s := range c.subs {
		c.Inbound.Off(s.name, s.id)
	}
	c.subs = nil
}

// ResetConnectionState drops everything that only held while connected:
// the turn returns to CannotSend, any avatar session ends, the voice
// selection clears and a half-assembled message is discarded. Sessions and
// their transcripts are kept. The next connection starts from a clean slate.
func (c *Client) ResetConnectionState() {
	c.Turn.Reset()
	c.Avatars.ClearAvatarSession()
	c.Voices.Reset()
	c.Sessions.DiscardStream()
	logger.InfoC("client", "Connection state reset")
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

// SendText sends typed input. It fails with ErrCannotSendInput unless the
// server has handed the turn to the user.
func (c *Client) SendText(ctx context.Context, text string) error {
	if !c.Turn.CanSendInput() {
		return ErrCannotSendInput
	}
	return c.send(ctx, events.TextInputCommand{Text: text})
}

// SetVoice selects a voice locally and asks the server to use it.
func (c *Client) SetVoice(ctx context.Context, voiceID string) error {
	if !c.Voices.SetCurrentVoice(voiceID, domain.SourceClient) {
		return fmt.Errorf("%w: %q", ErrUnknownVoice, voiceID)
	}
	return c.send(ctx, events.SetAgentVoiceCommand{VoiceID: voiceID})
}

// StartAvatarSession asks the server to attach an avatar. The local state
// follows when the server confirms with avatar_connection_changed.
func (c *Client) StartAvatarSession(ctx context.Context, avatarID string) error {
	if !c.Avatars.IsAvatarAvailable(avatarID) {
		return fmt.Errorf("%w: %q", ErrUnknownAvatar, avatarID)
	}
	return c.send(ctx, events.SetAvatarSessionCommand{AvatarID: avatarID})
}

// EndAvatarSession asks the server to detach the avatar.
func (c *Client) EndAvatarSession(ctx context.Context) error {
	return c.send(ctx, events.ClearAvatarSessionCommand{})
}

// SwitchSession activates a local session and tells the server.
func (c *Client) SwitchSession(ctx context.Context, id domain.EntityID) error {
	if err := c.Sessions.SetCurrentSession(id); err != nil {
		return err
	}
	return c.send(ctx, events.SetChatSessionCommand{SessionID: id.String()})
}

func (c *Client) send(ctx context.Context, cmd events.Command) error {
	if c.sender == nil {
		return ErrNotConnected
	}
	if err := c.sender.Send(ctx, cmd); err != nil {
		return fmt.Errorf("send %s: %w", cmd.CommandType(), err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Inbound glue
// ---------------------------------------------------------------------------

func (c *Client) onVoiceList(p voice.ListPayload) {
	c.Voices.SetAvailableVoices(p.Voices)
}

func (c *Client) onAgentVoiceChanged(p voice.AgentVoiceChangedPayload) {
	c.Voices.SetCurrentVoice(p.Voice.VoiceID, domain.SourceServer)
}

func (c *Client) onAvatarList(p avatar.ListPayload) {
	c.Avatars.SetAvailableAvatars(p.Avatars)
}

func (c *Client) onAvatarConnectionChanged(p avatar.ConnectionChangedPayload) {
	if p.AvatarSessionID == "" {
		c.Avatars.ClearAvatarSession()
		return
	}
	c.Avatars.SetAvatarSession(p.AvatarSessionID, p.AvatarID)
	c.Voices.SetCurrentVoice(voice.AvatarVoiceID, domain.SourceServer)
}

func (c *Client) onServerError(p events.ServerErrorPayload) {
	logger.ErrorCF("client", "Server reported an error", map[string]interface{}{
		"message": p.Message,
		"source":  p.Source,
	})
	c.Outbound.Emit(events.ClientErrorPayload{Message: p.Message, Source: p.Source})
}

// ---------------------------------------------------------------------------
// Application errors
// ---------------------------------------------------------------------------

type ClientError string

func (e ClientError) Error() string { return string(e) }

const (
	ErrCannotSendInput ClientError = "cannot send input: it is not the user's turn"
	ErrUnknownVoice    ClientError = "unknown voice"
	ErrUnknownAvatar   ClientError = "unknown avatar"
	ErrNotConnected    ClientError = "client has no connection"
)
