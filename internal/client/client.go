// Package client implements the countdown client: a WebSocket session that
// joins one room, synchronizes its clock with the server once per connection
// and renders a locally ticking countdown from broadcast events.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/synctick/synctick/internal/clocksync"
	"github.com/synctick/synctick/internal/room"
	"github.com/synctick/synctick/internal/timer"
)

// DefaultReconnectDelay is the fixed pause between reconnect attempts.
const DefaultReconnectDelay = 2 * time.Second

// ErrNotConnected is returned for commands issued while no session is up.
var ErrNotConnected = errors.New("not connected")

// Config configures a client session.
type Config struct {
	// ServerURL is the WebSocket base, e.g. "ws://localhost:8080".
	ServerURL string
	// Room is the room code to join; normalized and validated locally with
	// the same rules the server applies.
	Room string
	// ReconnectDelay defaults to DefaultReconnectDelay when zero.
	ReconnectDelay time.Duration
}

type command struct {
	Type string `json:"type"`
}

type commandWithTime struct {
	Type     string `json:"type"`
	TimeLeft int    `json:"timeLeft"`
}

// Client joins one room and keeps rejoining it until its context ends.
type Client struct {
	cfg      Config
	code     string
	clock    clockwork.Clock
	renderer *Renderer

	mu   sync.Mutex
	conn *websocket.Conn
}

// New validates the room code and builds the client with its renderer wired
// up: when the local countdown reaches zero the client reports expiry to the
// server on its own.
func New(cfg Config, clock clockwork.Clock, cues CueSink, onUpdate func(int, Tier)) (*Client, error) {
	code, err := room.ValidateCode(cfg.Room)
	if err != nil {
		return nil, err
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}

	c := &Client{cfg: cfg, code: code, clock: clock}
	c.renderer = NewRenderer(clock, cues, onUpdate, c.reportExpiry)
	return c, nil
}

// Renderer exposes the countdown renderer, mainly for reading phase and
// remaining seconds.
func (c *Client) Renderer() *Renderer {
	return c.renderer
}

// Run dials the server and keeps the session alive, redialing after a fixed
// delay on any disconnect, until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	for {
		if err := c.session(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Str("room", c.code).Msg("session ended, reconnecting")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clock.After(c.cfg.ReconnectDelay):
		}
	}
}

// session runs one connection to completion: dial, sync the clock, then pump
// server messages into the renderer until the socket dies.
func (c *Client) session(ctx context.Context) error {
	url := fmt.Sprintf("%s/ws?room=%s", c.cfg.ServerURL, c.code)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()
	defer func() {
		close(stop)
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	log.Info().Str("room", c.code).Msg("connected")

	// One sync exchange per connection; the resulting offset holds for the
	// connection's lifetime.
	if err := c.writeJSON(clocksync.Request{
		Type:       clocksync.MessageType,
		ClientTime: c.clock.Now().UnixMilli(),
	}); err != nil {
		return fmt.Errorf("send sync: %w", err)
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		c.handleMessage(raw)
	}
}

// handleMessage routes one server message: sync replies feed the clock
// offset, everything else is a room event for the renderer.
func (c *Client) handleMessage(raw []byte) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		log.Debug().Err(err).Msg("ignoring malformed server message")
		return
	}

	if probe.Type == clocksync.MessageType {
		var reply clocksync.Reply
		if err := json.Unmarshal(raw, &reply); err != nil {
			log.Debug().Err(err).Msg("ignoring malformed sync reply")
			return
		}
		offset, rtt := clocksync.EstimateOffset(reply.ClientTime, reply.ServerTime, c.clock.Now().UnixMilli())
		c.renderer.SetOffset(offset)
		log.Debug().Int64("offset_ms", offset).Int64("rtt_ms", rtt).Msg("clock synchronized")
		return
	}

	var ev timer.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		log.Debug().Err(err).Msg("ignoring malformed event")
		return
	}
	c.renderer.HandleEvent(ev)
}

// Start asks the server to start (or restart) the countdown.
func (c *Client) Start() error {
	return c.writeJSON(command{Type: string(timer.CommandStart)})
}

// Stop aborts the countdown, reporting the locally displayed remaining time
// as the resume point.
func (c *Client) Stop() error {
	return c.writeJSON(commandWithTime{
		Type:     string(timer.CommandStop),
		TimeLeft: c.renderer.Current(),
	})
}

// Reset restores the room to a full countdown.
func (c *Client) Reset() error {
	return c.writeJSON(command{Type: string(timer.CommandReset)})
}

// reportExpiry tells the server the countdown ran out. Every client in the
// room reports this independently; the server treats repeats as idempotent.
func (c *Client) reportExpiry() {
	if err := c.writeJSON(commandWithTime{Type: string(timer.CommandEnd)}); err != nil {
		log.Debug().Err(err).Msg("could not report expiry")
	}
}

// writeJSON serializes writes; the websocket allows only one writer at a
// time and commands can race the expiry report.
func (c *Client) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	return c.conn.WriteJSON(v)
}
