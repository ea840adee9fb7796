package gateway

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/synctick/synctick/internal/clocksync"
	"github.com/synctick/synctick/internal/room"
	"github.com/synctick/synctick/internal/timer"
)

// clientMessage is the inbound envelope. Every client message is a JSON
// record with a type field; the remaining fields are populated depending on
// the type and ignored otherwise.
type clientMessage struct {
	Type       string `json:"type"`
	ClientTime int64  `json:"clientTime"`
	TimeLeft   int    `json:"timeLeft"`
}

// connection is one WebSocket attached to exactly one room for its lifetime.
// Reads and writes run on separate pumps so a slow reader never blocks
// broadcasts to the rest of the room.
type connection struct {
	id   string
	room *room.Room
	ws   *websocket.Conn
	send chan []byte
	gw   *Gateway

	closed   atomic.Bool
	teardown sync.Once

	connectedAt time.Time
}

// ID implements room.Sender.
func (c *connection) ID() string { return c.id }

// Sendable implements room.Sender: a connection that has started closing is
// skipped by broadcasts and pruned by its own pumps.
func (c *connection) Sendable() bool { return !c.closed.Load() }

// Send implements room.Sender. It never blocks: if the outbound buffer is
// full the connection is considered dead, its socket is closed and the read
// pump takes care of detaching it from the room.
func (c *connection) Send(payload []byte) {
	select {
	case c.send <- payload:
	default:
		log.Warn().
			Str("connection_id", c.id).
			Msg("send buffer full, closing connection")
		c.closed.Store(true)
		c.ws.Close()
	}
}

// shutdown tears the connection down exactly once: marks it unsendable,
// removes it from the room and closes the socket.
func (c *connection) shutdown() {
	c.teardown.Do(func() {
		c.closed.Store(true)
		c.room.Detach(c)
		c.gw.removeConn(c.id)
		c.ws.Close()
	})
}

// readPump reads client messages until the socket errors out, then tears the
// connection down. Inbound handling is sequential: each message is applied to
// completion before the next is read, so command handling on one connection
// never interleaves with itself.
func (c *connection) readPump() {
	defer c.shutdown()

	c.ws.SetReadLimit(c.gw.config.MaxMessageSize)
	c.ws.SetReadDeadline(c.gw.clock.Now().Add(c.gw.config.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(c.gw.clock.Now().Add(c.gw.config.PongTimeout))
		return nil
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("connection_id", c.id).Msg("unexpected close error")
			}
			return
		}
		c.handleMessage(raw)
		c.ws.SetReadDeadline(c.gw.clock.Now().Add(c.gw.config.PongTimeout))
	}
}

// writePump drains the send channel to the socket and keeps the connection
// alive with periodic pings.
func (c *connection) writePump() {
	ticker := c.gw.clock.NewTicker(c.gw.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.shutdown()
	}()

	for {
		select {
		case payload := <-c.send:
			c.ws.SetWriteDeadline(c.gw.clock.Now().Add(c.gw.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Debug().Err(err).Str("connection_id", c.id).Msg("write failed")
				return
			}
		case <-ticker.Chan():
			c.ws.SetWriteDeadline(c.gw.clock.Now().Add(c.gw.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches one inbound message. Malformed payloads and
// unknown types are logged and dropped rather than killing the connection;
// redundant commands fall through to the state machine's own no-op handling.
func (c *connection) handleMessage(raw []byte) {
	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Debug().
			Err(err).
			Str("connection_id", c.id).
			Msg("ignoring malformed message")
		return
	}

	switch msg.Type {
	case clocksync.MessageType:
		c.replySync(msg.ClientTime)
	case string(timer.CommandStart):
		c.apply(timer.Command{Type: timer.CommandStart})
	case string(timer.CommandStop):
		c.apply(timer.Command{Type: timer.CommandStop, TimeLeft: msg.TimeLeft})
	case string(timer.CommandEnd):
		c.apply(timer.Command{Type: timer.CommandEnd})
	case string(timer.CommandReset):
		c.apply(timer.Command{Type: timer.CommandReset})
	default:
		log.Debug().
			Str("connection_id", c.id).
			Str("type", msg.Type).
			Msg("ignoring unknown message type")
	}
}

// replySync answers a sync request directly on this connection: the client's
// timestamp echoed back plus the server's current clock.
func (c *connection) replySync(clientTime int64) {
	reply := clocksync.Reply{
		Type:       clocksync.MessageType,
		ClientTime: clientTime,
		ServerTime: c.gw.clock.Now().UnixMilli(),
	}
	payload, err := json.Marshal(reply)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal sync reply")
		return
	}
	c.Send(payload)
}

// apply runs a command against the room and forwards the resulting event, if
// any, to the cross-instance relay.
func (c *connection) apply(cmd timer.Command) {
	ev := c.room.Apply(cmd, c.gw.clock.Now())
	if ev == nil {
		return
	}
	if c.gw.relay != nil {
		c.gw.relay.Publish(c.room.Code, *ev)
	}
	log.Debug().
		Str("connection_id", c.id).
		Str("room", c.room.Code).
		Str("command", string(cmd.Type)).
		Msg("command applied")
}
