package room

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	minCodeLen = 3
	maxCodeLen = 20

	// DefaultGracePeriod is how long an empty room's state survives before
	// the registry deletes it. A client reconnecting within the grace period
	// finds the room exactly as it left it.
	DefaultGracePeriod = 5 * time.Minute
)

// ErrInvalidCode is returned for room codes outside the 3-20 character range.
var ErrInvalidCode = errors.New("room code must be 3-20 characters")

// Normalize canonicalizes a room code: codes differing only by case or
// surrounding whitespace name the same room.
func Normalize(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// ValidateCode normalizes a room code and rejects it when its length is out
// of range. Validation happens before any room exists, so a refused
// connection never leaves a room behind.
func ValidateCode(code string) (string, error) {
	code = Normalize(code)
	if len(code) < minCodeLen || len(code) > maxCodeLen {
		return "", ErrInvalidCode
	}
	return code, nil
}

// Registry owns every live room, keyed by normalized code. It is handed to
// the connection-handling layer explicitly rather than living as a package
// global, which keeps lifecycle and tests in the caller's hands.
type Registry struct {
	clock clockwork.Clock
	grace time.Duration

	mu    sync.Mutex
	rooms map[string]*Room
}

// NewRegistry creates an empty registry. Empty rooms are deleted after grace
// (DefaultGracePeriod when zero) unless a client reconnects first.
func NewRegistry(clock clockwork.Clock, grace time.Duration) *Registry {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &Registry{
		clock: clock,
		grace: grace,
		rooms: make(map[string]*Room),
	}
}

// GetOrCreate returns the room for code, creating it with default timer state
// on first reference. The code is normalized and validated; out-of-range
// codes are rejected before any room exists.
func (g *Registry) GetOrCreate(code string) (*Room, error) {
	code, err := ValidateCode(code)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.getOrCreateLocked(code), nil
}

// Join is the admission path for connections: the room is fetched or created
// and the connection attached under the registry lock. A grace-period sweep
// firing in between therefore cannot delete a room a joiner was just handed;
// either the sweep runs first and the joiner gets a fresh room, or the joiner
// attaches first and the sweep's emptiness check keeps the room alive.
func (g *Registry) Join(code string, s Sender) (*Room, error) {
	code, err := ValidateCode(code)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	rm := g.getOrCreateLocked(code)
	rm.Attach(s)
	return rm, nil
}

func (g *Registry) getOrCreateLocked(code string) *Room {
	rm := g.rooms[code]
	if rm == nil {
		rm = newRoom(code, func() { g.scheduleCleanup(code) })
		g.rooms[code] = rm
		log.Info().Str("room", code).Msg("room created")
	}
	return rm
}

// Lookup returns the room for code, or nil. The code is normalized; no room
// is created.
func (g *Registry) Lookup(code string) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rooms[Normalize(code)]
}

// scheduleCleanup starts the grace countdown for a room that just became
// empty. Emptiness is re-checked when the timer fires, so any connection
// arriving in the meantime implicitly cancels the deletion.
func (g *Registry) scheduleCleanup(code string) {
	g.clock.AfterFunc(g.grace, func() {
		g.sweep(code)
	})
}

// sweep deletes the room if it is still empty.
func (g *Registry) sweep(code string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rm := g.rooms[code]
	if rm == nil || rm.ClientCount() > 0 {
		return
	}
	delete(g.rooms, code)
	log.Info().Str("room", code).Msg("empty room removed after grace period")
}

// Stats returns the number of attached connections per live room.
func (g *Registry) Stats() map[string]int {
	g.mu.Lock()
	defer g.mu.Unlock()

	counts := make(map[string]int, len(g.rooms))
	for code, rm := range g.rooms {
		counts[code] = rm.ClientCount()
	}
	return counts
}
