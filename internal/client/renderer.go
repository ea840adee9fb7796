package client

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/synctick/synctick/internal/timer"
)

// TickInterval is how often a running countdown re-renders. Ticking is pure
// interpolation between server events, never a source of truth: every tick
// recomputes the display from the server's start timestamp and the estimated
// clock offset.
const TickInterval = 100 * time.Millisecond

// warningSecond is the remaining-seconds mark at which the warning cue fires,
// at most once per run.
const warningSecond = 30

// Phase is the renderer's state, driven exclusively by server events. The
// renderer never flips itself to running on its own.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseRunning Phase = "running"
	PhaseStopped Phase = "stopped"
	PhaseEnded   Phase = "ended"
)

// Cue is an audible signal raised by the renderer.
type Cue string

const (
	CueStart   Cue = "start"
	CueWarning Cue = "warning"
	CueEnd     Cue = "end"
	CueAbort   Cue = "abort"
)

// CueSink receives cues. Implementations must not block.
type CueSink interface {
	Play(cue Cue)
}

type nopCues struct{}

func (nopCues) Play(Cue) {}

// Tier maps remaining seconds to a display urgency band.
type Tier string

const (
	TierCritical Tier = "critical"
	TierWarning  Tier = "warning"
	TierElevated Tier = "elevated"
	TierNotice   Tier = "notice"
	TierNormal   Tier = "normal"
)

// TierFor returns the urgency tier for a remaining-seconds value.
func TierFor(seconds int) Tier {
	switch {
	case seconds <= 10:
		return TierCritical
	case seconds <= 30:
		return TierWarning
	case seconds <= 60:
		return TierElevated
	case seconds <= 90:
		return TierNotice
	default:
		return TierNormal
	}
}

// Renderer reconstructs a smooth local countdown from sparse server events.
// While running, a 100ms tick recomputes the display against
// effectiveNow = localNow + clockOffset so all clients of a room render the
// same second at the same wall-clock moment.
type Renderer struct {
	clock    clockwork.Clock
	cues     CueSink
	onUpdate func(secondsLeft int, tier Tier)
	sendEnd  func()

	mu            sync.Mutex
	phase         Phase
	current       int
	warningPlayed bool
	offset        int64
	startedAt     int64
	cancelTick    chan struct{}
}

// NewRenderer creates a renderer. cues may be nil; onUpdate is invoked on
// every display change; sendEnd is invoked once when the local countdown
// reaches zero, and should report expiry to the server.
func NewRenderer(clock clockwork.Clock, cues CueSink, onUpdate func(int, Tier), sendEnd func()) *Renderer {
	if cues == nil {
		cues = nopCues{}
	}
	if onUpdate == nil {
		onUpdate = func(int, Tier) {}
	}
	if sendEnd == nil {
		sendEnd = func() {}
	}
	return &Renderer{
		clock:    clock,
		cues:     cues,
		onUpdate: onUpdate,
		sendEnd:  sendEnd,
		phase:    PhaseIdle,
		current:  timer.DefaultDuration,
	}
}

// SetOffset records the estimated server-minus-client clock delta in
// milliseconds, applied to every subsequent tick.
func (r *Renderer) SetOffset(offset int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offset = offset
}

// Phase returns the current renderer phase.
func (r *Renderer) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// Current returns the displayed remaining seconds.
func (r *Renderer) Current() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// HandleEvent advances the renderer from one server event.
func (r *Renderer) HandleEvent(ev timer.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Type {
	case timer.EventState:
		r.current = ev.TimeLeft
		if ev.Running && ev.StartedAt != nil {
			r.startRunLocked(*ev.StartedAt)
		} else {
			r.stopTickLocked()
			r.phase = PhaseIdle
		}

	case timer.EventStart:
		r.current = ev.TimeLeft
		r.warningPlayed = false
		r.cues.Play(CueStart)
		if ev.StartedAt != nil {
			r.startRunLocked(*ev.StartedAt)
		}

	case timer.EventStop:
		r.stopTickLocked()
		r.phase = PhaseStopped
		r.current = ev.TimeLeft
		r.cues.Play(CueAbort)

	case timer.EventEnd:
		alreadyEnded := r.phase == PhaseEnded
		r.stopTickLocked()
		r.phase = PhaseEnded
		r.current = 0
		// The client that reached zero locally already played the end cue
		// before reporting expiry; don't play it twice when the broadcast
		// comes back around.
		if !alreadyEnded {
			r.cues.Play(CueEnd)
		}

	case timer.EventReset:
		r.stopTickLocked()
		r.phase = PhaseIdle
		r.current = timer.DefaultDuration
		r.warningPlayed = false

	default:
		return
	}

	r.onUpdate(r.current, TierFor(r.current))
}

// startRunLocked switches to running from a server start timestamp. Any
// previous tick loop is stopped first so two loops never drive the same
// display.
func (r *Renderer) startRunLocked(startedAt int64) {
	r.stopTickLocked()
	r.phase = PhaseRunning
	r.startedAt = startedAt

	done := make(chan struct{})
	r.cancelTick = done
	go r.tickLoop(done)
}

func (r *Renderer) stopTickLocked() {
	if r.cancelTick != nil {
		close(r.cancelTick)
		r.cancelTick = nil
	}
}

func (r *Renderer) tickLoop(done chan struct{}) {
	ticker := r.clock.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.Chan():
			r.tick(r.clock.Now())
		}
	}
}

// tick recomputes the displayed countdown at the given local time. Reaching
// the warning mark plays the warning cue once per run; reaching zero stops
// the loop, plays the end cue and reports expiry to the server.
func (r *Renderer) tick(now time.Time) {
	r.mu.Lock()
	if r.phase != PhaseRunning {
		r.mu.Unlock()
		return
	}

	effective := now.UnixMilli() + r.offset
	current := timer.Remaining(r.startedAt, time.UnixMilli(effective))
	r.current = current

	playWarning := current == warningSecond && !r.warningPlayed
	if playWarning {
		r.warningPlayed = true
	}

	finished := current == 0
	if finished {
		r.stopTickLocked()
		r.phase = PhaseEnded
	}
	r.mu.Unlock()

	if playWarning {
		r.cues.Play(CueWarning)
	}
	r.onUpdate(current, TierFor(current))
	if finished {
		r.cues.Play(CueEnd)
		r.sendEnd()
	}
}
