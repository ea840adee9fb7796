package timer

import "time"

// DefaultDuration is the countdown length in seconds. Every room counts down
// from this value; there is no per-room duration setting.
const DefaultDuration = 150

// State is the authoritative timer state of a single room.
//
// StartedAt is the server-clock timestamp (epoch milliseconds) of the moment
// the current run began. It is non-nil exactly when Running is true; TimeLeft
// is authoritative only while the timer is not running, since a running
// countdown is derived from StartedAt on each observer.
type State struct {
	TimeLeft  int
	Running   bool
	StartedAt *int64
}

// NewState returns the state a room is created with.
func NewState() State {
	return State{TimeLeft: DefaultDuration}
}

// CommandType identifies a client command.
type CommandType string

const (
	CommandStart CommandType = "start"
	CommandStop  CommandType = "stop"
	CommandEnd   CommandType = "end"
	CommandReset CommandType = "reset"
)

// Command is a client-issued mutation of room state. TimeLeft carries the
// resume point reported by the client and is only meaningful for stop.
type Command struct {
	Type     CommandType
	TimeLeft int
}

// EventType identifies a server-to-client event.
type EventType string

const (
	EventState EventType = "state"
	EventStart EventType = "start"
	EventStop  EventType = "stop"
	EventEnd   EventType = "end"
	EventReset EventType = "reset"
)

// Event is the post-mutation room snapshot broadcast to every connection in a
// room, and also the direct reply a newly attached connection receives. Field
// names match the wire format.
type Event struct {
	Type      EventType `json:"type"`
	TimeLeft  int       `json:"timeLeft"`
	Running   bool      `json:"isRunning"`
	StartedAt *int64    `json:"startTime"`
}

// Apply runs one command against a room state and returns the next state plus
// the event to broadcast. A nil event means the command was a silent no-op and
// nothing is sent.
//
// Commands deliberately carry no idempotence guard for start: a start while
// already running re-stamps StartedAt, so the last start wins. End is
// unconditional, which makes the expiry reports that every client sends on
// reaching zero idempotent by construction.
func Apply(s State, cmd Command, now time.Time) (State, *Event) {
	switch cmd.Type {
	case CommandStart:
		ms := now.UnixMilli()
		s.Running = true
		s.StartedAt = &ms
		return s, snapshot(EventStart, s)

	case CommandStop:
		if !s.Running {
			return s, nil
		}
		s.Running = false
		s.TimeLeft = cmd.TimeLeft
		s.StartedAt = nil
		return s, snapshot(EventStop, s)

	case CommandEnd:
		s.Running = false
		s.TimeLeft = 0
		s.StartedAt = nil
		return s, snapshot(EventEnd, s)

	case CommandReset:
		s = NewState()
		return s, snapshot(EventReset, s)
	}

	return s, nil
}

// Snapshot returns the full-state event sent directly to a connection on
// attach, so late joiners converge without waiting for the next broadcast.
func Snapshot(s State) *Event {
	return snapshot(EventState, s)
}

// FromEvent reconstructs room state from a broadcast snapshot. Used when a
// state change made on another server instance arrives over the relay.
func FromEvent(ev Event) State {
	return State{TimeLeft: ev.TimeLeft, Running: ev.Running, StartedAt: ev.StartedAt}
}

// Remaining computes the seconds left of a run begun at startedAt, clamped at
// zero.
func Remaining(startedAt int64, now time.Time) int {
	elapsed := int((now.UnixMilli() - startedAt) / 1000)
	left := DefaultDuration - elapsed
	if left < 0 {
		return 0
	}
	return left
}

func snapshot(t EventType, s State) *Event {
	return &Event{Type: t, TimeLeft: s.TimeLeft, Running: s.Running, StartedAt: s.StartedAt}
}
