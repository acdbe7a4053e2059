// Package transport connects a Client to the Agent C server over a
// WebSocket. Inbound frames are decoded into typed payloads and emitted on
// the inbound bus; outbound commands are encoded and written by a single
// writer goroutine.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/oauth2"

	"github.com/sipeed/agentc/pkg/events"
	"github.com/sipeed/agentc/pkg/logger"
)

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = 30 * time.Second
	maxFrameSize     = 4 << 20
	sendBuffer       = 64
	defaultDialAfter = 15 * time.Second
)

// FrameRecorder receives per-frame counters. *metrics.Metrics implements it.
type FrameRecorder interface {
	RecordFrame(direction, frameType string)
	RecordDecodeError(reason string)
}

// Options configures Dial.
type Options struct {
	URL string
	// TokenSource supplies the bearer token sent on the upgrade request.
	TokenSource oauth2.TokenSource
	Header      http.Header
	Dialer      *websocket.Dialer
	Recorder    FrameRecorder
	// DialTimeout bounds the handshake when ctx carries no deadline.
	DialTimeout time.Duration
}

// Conn is a live server connection. It implements app.Sender.
type Conn struct {
	ws       *websocket.Conn
	bus      events.Bus
	recorder FrameRecorder

	send chan []byte
	done chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

// Dial connects to opts.URL and starts the read and write pumps. Decoded
// events are emitted on bus from the read goroutine, one at a time.
func Dial(ctx context.Context, bus events.Bus, opts Options) (*Conn, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("transport: server url is required")
	}

	header := http.Header{}
	for k, v := range opts.Header {
		header[k] = append([]string(nil), v...)
	}
	if opts.TokenSource != nil {
		tok, err := opts.TokenSource.Token()
		if err != nil {
			return nil, fmt.Errorf("transport: token: %w", err)
		}
		if tok.AccessToken != "" {
			header.Set("Authorization", tok.Type()+" "+tok.AccessToken)
		}
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	dialCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		timeout := opts.DialTimeout
		if timeout <= 0 {
			timeout = defaultDialAfter
		}
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ws, resp, err := dialer.DialContext(dialCtx, opts.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("transport: dial %s: %w (status %d)", opts.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("transport: dial %s: %w", opts.URL, err)
	}

	c := &Conn{
		ws:       ws,
		bus:      bus,
		recorder: opts.Recorder,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
	}
	logger.InfoCF("transport", "Connected", map[string]interface{}{"url": opts.URL})

	go c.writePump()
	go c.readPump()
	return c, nil
}

// Send encodes cmd and queues it for the writer. It blocks while the queue
// is full until ctx is done or the connection closes.
func (c *Conn) Send(ctx context.Context, cmd events.Command) error {
	if cmd == nil {
		return fmt.Errorf("transport: nil command")
	}
	data, err := EncodeCommand(cmd)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- data:
		c.record("out", cmd.CommandType().String())
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the connection terminates.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err reports why the connection terminated. It is nil for a local Close.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close sends a close frame and tears the connection down.
func (c *Conn) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *Conn) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = cause
		c.mu.Unlock()
		if cause == nil {
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
		}
		close(c.done)
		c.ws.Close()
		if cause != nil {
			logger.WarnCF("transport", "Connection lost", map[string]interface{}{"error": cause.Error()})
		} else {
			logger.InfoC("transport", "Connection closed")
		}
	})
}

func (c *Conn) record(direction, frameType string) {
	if c.recorder != nil {
		c.recorder.RecordFrame(direction, frameType)
	}
}

func (c *Conn) readPump() {
	c.ws.SetReadLimit(maxFrameSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.shutdown(nil)
			} else {
				c.shutdown(err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		c.dispatch(data)
	}
}

// dispatch decodes one frame and emits it. Unknown and malformed frames are
// logged and dropped; the connection stays up.
func (c *Conn) dispatch(data []byte) {
	payload, err := Decode(data)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, ErrUnknownEventType) {
			reason = "unknown_type"
		}
		if c.recorder != nil {
			c.recorder.RecordDecodeError(reason)
		}
		logger.WarnCF("transport", "Dropping frame", map[string]interface{}{
			"reason": reason,
			"error":  err.Error(),
		})
		return
	}
	c.record("in", payload.EventName().String())
	c.bus.Emit(payload)
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.shutdown(err)
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown(err)
				return
			}
		}
	}
}
