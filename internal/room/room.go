package room

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/synctick/synctick/internal/timer"
)

// Sender is the capability a room needs from an attached connection. Keeping
// it an interface decouples broadcasting from the transport: the room asks
// "can you still take a payload" instead of poking at socket internals.
type Sender interface {
	// ID uniquely identifies the connection for logging and set membership.
	ID() string

	// Sendable reports whether the connection can currently accept a payload.
	// A connection that is closing is skipped silently; its own close handler
	// prunes it from the room.
	Sendable() bool

	// Send queues a payload for delivery. It must not block.
	Send(payload []byte)
}

// Room is one named, independent timer instance shared by every connection
// that joined with the same code.
//
// All mutation goes through Apply under the room mutex, so a command's
// read-mutate-broadcast sequence is atomic with respect to other commands on
// the same room. Rooms never coordinate with each other.
type Room struct {
	Code string

	onEmpty func()

	mu    sync.Mutex
	state timer.State
	conns map[string]Sender
}

func newRoom(code string, onEmpty func()) *Room {
	return &Room{
		Code:    code,
		onEmpty: onEmpty,
		state:   timer.NewState(),
		conns:   make(map[string]Sender),
	}
}

// Attach adds a connection to the room's client set and queues a direct (not
// broadcast) state snapshot on it, so a late joiner converges immediately
// without waiting for the next broadcast. Queueing happens under the room
// lock, which keeps the snapshot ordered before any later broadcast.
func (r *Room) Attach(s Sender) *timer.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[s.ID()] = s

	snap := timer.Snapshot(r.state)
	if payload, err := json.Marshal(snap); err == nil && s.Sendable() {
		s.Send(payload)
	}

	log.Debug().
		Str("room", r.Code).
		Str("connection_id", s.ID()).
		Int("clients", len(r.conns)).
		Msg("connection attached")

	return snap
}

// Detach removes a connection from the room's client set. When the set
// becomes empty the registry's grace-period cleanup is kicked off.
func (r *Room) Detach(s Sender) {
	r.mu.Lock()
	delete(r.conns, s.ID())
	empty := len(r.conns) == 0
	r.mu.Unlock()

	log.Debug().
		Str("room", r.Code).
		Str("connection_id", s.ID()).
		Bool("empty", empty).
		Msg("connection detached")

	if empty && r.onEmpty != nil {
		r.onEmpty()
	}
}

// Apply runs a command against the room's state and, if it produced an event,
// broadcasts the post-mutation snapshot to every attached connection, the
// originator included. Returns the event, or nil for silent no-ops.
func (r *Room) Apply(cmd timer.Command, now time.Time) *timer.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	next, ev := timer.Apply(r.state, cmd, now)
	r.state = next
	if ev == nil {
		return nil
	}

	r.broadcastLocked(ev)
	return ev
}

// ApplyRemote overwrites the room's state with an event snapshot produced on
// another server instance and fans it out to local connections.
func (r *Room) ApplyRemote(ev timer.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state = timer.FromEvent(ev)
	r.broadcastLocked(&ev)
}

// broadcastLocked marshals the event once and queues it on every sendable
// connection. Fire-and-forget: no retry, no error surfaced, connections that
// cannot take the payload are skipped and left to their own close handling.
func (r *Room) broadcastLocked(ev *timer.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("room", r.Code).Msg("failed to marshal event for broadcast")
		return
	}

	sent := 0
	for _, s := range r.conns {
		if !s.Sendable() {
			continue
		}
		s.Send(payload)
		sent++
	}

	log.Debug().
		Str("room", r.Code).
		Str("event_type", string(ev.Type)).
		Int("connections", sent).
		Msg("event broadcast")
}

// State returns a copy of the room's current timer state.
func (r *Room) State() timer.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// ClientCount returns the number of attached connections.
func (r *Room) ClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}
