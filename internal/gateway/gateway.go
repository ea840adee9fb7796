// Package gateway attaches WebSocket clients to timer rooms: it upgrades
// connections, replies with a state snapshot on join, feeds client commands
// into the room state machine and fans resulting events back out.
package gateway

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/synctick/synctick/internal/room"
	"github.com/synctick/synctick/internal/timer"
)

// EventRelay forwards locally applied events to other server instances.
// A nil relay disables cross-instance fan-out.
type EventRelay interface {
	Publish(roomCode string, ev timer.Event)
}

// Config holds WebSocket connection tuning.
type Config struct {
	WriteTimeout    time.Duration
	PongTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConfig returns the connection tuning used in production.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:    10 * time.Second,
		PongTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// No origin allowlist: anyone with the room code may join.
			return true
		},
	}
}

// Gateway owns the upgrader and the registry of live rooms.
type Gateway struct {
	registry *room.Registry
	clock    clockwork.Clock
	relay    EventRelay
	upgrader websocket.Upgrader
	config   Config

	mu    sync.Mutex
	conns map[string]*connection
}

// New creates a gateway serving rooms out of registry. relay may be nil.
func New(registry *room.Registry, clock clockwork.Clock, relay EventRelay, config Config) *Gateway {
	return &Gateway{
		registry: registry,
		clock:    clock,
		relay:    relay,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
		conns:  make(map[string]*connection),
	}
}

func (g *Gateway) addConn(c *connection) {
	g.mu.Lock()
	g.conns[c.id] = c
	g.mu.Unlock()
}

func (g *Gateway) removeConn(id string) {
	g.mu.Lock()
	delete(g.conns, id)
	g.mu.Unlock()
}

// RegisterRoutes registers the WebSocket endpoint and the admin surface.
func (g *Gateway) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", g.HandleTimerSocket)
	mux.HandleFunc("/stats", g.handleStats)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

// HandleTimerSocket upgrades a client connection and attaches it to the room
// named by the `room` query parameter. A missing or out-of-range room code
// refuses the handshake, so no room is ever created for an invalid code.
func (g *Gateway) HandleTimerSocket(w http.ResponseWriter, r *http.Request) {
	code, err := room.ValidateCode(r.URL.Query().Get("room"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade connection")
		return
	}

	c := &connection{
		id:          uuid.New().String(),
		ws:          ws,
		send:        make(chan []byte, 256),
		gw:          g,
		connectedAt: g.clock.Now(),
	}

	// Admission is atomic: Join creates the room if needed and attaches the
	// connection under the registry lock, so a grace-period sweep cannot
	// delete the room out from under the joiner.
	rm, err := g.registry.Join(code, c)
	if err != nil {
		// Unreachable after validation above, but a refused room still has to
		// close the socket.
		ws.Close()
		return
	}
	c.room = rm
	g.addConn(c)

	go c.writePump()
	go c.readPump()

	log.Info().
		Str("connection_id", c.id).
		Str("room", code).
		Msg("connection established")
}

// connectionStats is the per-connection record in the /stats response.
type connectionStats struct {
	ID               string `json:"id"`
	Room             string `json:"room"`
	ConnectedSeconds int64  `json:"connected_seconds"`
}

// handleStats reports attached connection counts per live room along with
// per-connection metadata.
func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	counts := g.registry.Stats()
	total := 0
	for _, n := range counts {
		total += n
	}

	now := g.clock.Now()
	g.mu.Lock()
	conns := make([]connectionStats, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, connectionStats{
			ID:               c.id,
			Room:             c.room.Code,
			ConnectedSeconds: int64(now.Sub(c.connectedAt).Seconds()),
		})
	}
	g.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		TotalConnections int               `json:"total_connections"`
		ActiveRooms      int               `json:"active_rooms"`
		Rooms            map[string]int    `json:"rooms"`
		Connections      []connectionStats `json:"connections"`
	}{
		TotalConnections: total,
		ActiveRooms:      len(counts),
		Rooms:            counts,
		Connections:      conns,
	})
}
