package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	handshakeTimeout = 10 * time.Second
	eventBuffer      = 64
)

// Client is the websocket connection to the external AI execution process.
// Send and Cancel are fire-and-forget; all responses arrive as Events.
type Client struct {
	conn   *websocket.Conn
	logger *slog.Logger
	events chan Event
	done   chan struct{}

	writeMu sync.Mutex

	closeMu sync.Mutex
	closed  bool
}

// Dial connects to the agent process and performs the hello/ready handshake.
// Cancelling ctx closes the connection and terminates the event stream.
func Dial(ctx context.Context, endpoint string, logger *slog.Logger) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}

	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("agent connect: %w", err)
	}

	if err := conn.WriteJSON(frame{Type: frameHello}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send hello: %w", err)
	}

	var ready frame
	if err := conn.ReadJSON(&ready); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read ready: %w", err)
	}
	if ready.Type != frameReady {
		conn.Close()
		return nil, fmt.Errorf("expected ready, got %s", ready.Type)
	}

	c := &Client{
		conn:   conn,
		logger: logger,
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}

	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.done:
		}
	}()
	go c.readLoop(ctx)

	logger.Info("agent connection established", "endpoint", endpoint)
	return c, nil
}

// Events returns the ordered inbound event stream. The channel is closed
// when the connection ends.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Send dispatches a user prompt for the given session. The response arrives
// asynchronously on the event channel.
func (c *Client) Send(sessionID, text string, attachments []string) error {
	payload, err := marshalPayload(promptPayload{Text: text, Attachments: attachments})
	if err != nil {
		return err
	}
	return c.writeFrame(frame{Type: framePrompt, SessionID: sessionID, Payload: payload})
}

// Cancel requests the agent stop the in-flight exchange for a session. The
// authoritative stop is the subsequent cancelled or finalize event.
func (c *Client) Cancel(sessionID string) error {
	return c.writeFrame(frame{Type: frameCancel, SessionID: sessionID})
}

// Close terminates the connection. Safe to call more than once.
func (c *Client) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

func (c *Client) writeFrame(f frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(f); err != nil {
		return fmt.Errorf("write %s: %w", f.Type, err)
	}
	return nil
}

// readLoop decodes inbound frames into Events until the connection ends.
func (c *Client) readLoop(ctx context.Context) {
	defer close(c.events)
	defer close(c.done)

	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("agent connection closed", "error", err)
			}
			return
		}

		ev, err := decodeEvent(f)
		if err != nil {
			// Unknown or malformed frames are skipped, not fatal: the
			// agent may speak a newer protocol revision.
			c.logger.Debug("skipping frame", "error", err)
			continue
		}

		select {
		case c.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}
