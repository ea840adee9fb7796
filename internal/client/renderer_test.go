package client

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synctick/synctick/internal/timer"
)

type cueRecorder struct {
	mu   sync.Mutex
	cues []Cue
}

func (c *cueRecorder) Play(cue Cue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cues = append(c.cues, cue)
}

func (c *cueRecorder) count(cue Cue) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, got := range c.cues {
		if got == cue {
			n++
		}
	}
	return n
}

// testRenderer builds a renderer on a fake clock so the background tick loop
// stays quiet and tests drive ticks explicitly.
func testRenderer(t *testing.T) (*Renderer, *cueRecorder, *int) {
	t.Helper()
	cues := &cueRecorder{}
	endReports := 0
	r := NewRenderer(clockwork.NewFakeClock(), cues, nil, func() { endReports++ })
	return r, cues, &endReports
}

func startEvent(startedAt int64) timer.Event {
	return timer.Event{
		Type:      timer.EventStart,
		TimeLeft:  timer.DefaultDuration,
		Running:   true,
		StartedAt: &startedAt,
	}
}

func TestTierFor(t *testing.T) {
	tests := []struct {
		seconds int
		want    Tier
	}{
		{0, TierCritical},
		{10, TierCritical},
		{11, TierWarning},
		{30, TierWarning},
		{31, TierElevated},
		{60, TierElevated},
		{61, TierNotice},
		{90, TierNotice},
		{91, TierNormal},
		{150, TierNormal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TierFor(tt.seconds), "seconds=%d", tt.seconds)
	}
}

func TestRendererInitialState(t *testing.T) {
	r, _, _ := testRenderer(t)

	assert.Equal(t, PhaseIdle, r.Phase())
	assert.Equal(t, timer.DefaultDuration, r.Current())
}

func TestStartEventBeginsRun(t *testing.T) {
	r, cues, _ := testRenderer(t)
	start := time.Now()

	r.HandleEvent(startEvent(start.UnixMilli()))

	assert.Equal(t, PhaseRunning, r.Phase())
	assert.Equal(t, 1, cues.count(CueStart))
}

func TestTickCountsDownToWarningOnce(t *testing.T) {
	r, cues, _ := testRenderer(t)
	start := time.UnixMilli(1_700_000_000_000)
	r.HandleEvent(startEvent(start.UnixMilli()))

	r.tick(start.Add(119 * time.Second))
	assert.Equal(t, 31, r.Current())
	assert.Equal(t, 0, cues.count(CueWarning))

	r.tick(start.Add(120 * time.Second))
	assert.Equal(t, 30, r.Current())
	assert.Equal(t, 1, cues.count(CueWarning))

	// Ten more ticks inside the same displayed second: still one cue.
	for i := 0; i < 10; i++ {
		r.tick(start.Add(120*time.Second + time.Duration(i+1)*TickInterval))
	}
	assert.Equal(t, 1, cues.count(CueWarning), "warning fires at most once per run")
}

func TestTickReachingZeroEndsRunAndReportsOnce(t *testing.T) {
	r, cues, endReports := testRenderer(t)
	start := time.UnixMilli(1_700_000_000_000)
	r.HandleEvent(startEvent(start.UnixMilli()))

	r.tick(start.Add(150 * time.Second))

	assert.Equal(t, 0, r.Current())
	assert.Equal(t, PhaseEnded, r.Phase())
	assert.Equal(t, 1, cues.count(CueEnd))
	assert.Equal(t, 1, *endReports)

	// The loop is stopped; further ticks are inert.
	r.tick(start.Add(151 * time.Second))
	assert.Equal(t, 1, cues.count(CueEnd))
	assert.Equal(t, 1, *endReports)
}

func TestEndBroadcastAfterLocalExpiryPlaysNoSecondCue(t *testing.T) {
	r, cues, _ := testRenderer(t)
	start := time.UnixMilli(1_700_000_000_000)
	r.HandleEvent(startEvent(start.UnixMilli()))
	r.tick(start.Add(150 * time.Second))
	require.Equal(t, 1, cues.count(CueEnd))

	r.HandleEvent(timer.Event{Type: timer.EventEnd, TimeLeft: 0})

	assert.Equal(t, PhaseEnded, r.Phase())
	assert.Equal(t, 1, cues.count(CueEnd), "broadcast echo of own expiry must not replay the cue")
}

func TestEndEventOnOtherClientsPlaysCue(t *testing.T) {
	r, cues, _ := testRenderer(t)
	start := time.Now()
	r.HandleEvent(startEvent(start.UnixMilli()))

	// This client never reached zero itself; the broadcast is its first news.
	r.HandleEvent(timer.Event{Type: timer.EventEnd, TimeLeft: 0})

	assert.Equal(t, PhaseEnded, r.Phase())
	assert.Equal(t, 0, r.Current())
	assert.Equal(t, 1, cues.count(CueEnd))
}

func TestStopEventAbortsRun(t *testing.T) {
	r, cues, _ := testRenderer(t)
	r.HandleEvent(startEvent(time.Now().UnixMilli()))

	r.HandleEvent(timer.Event{Type: timer.EventStop, TimeLeft: 88})

	assert.Equal(t, PhaseStopped, r.Phase())
	assert.Equal(t, 88, r.Current())
	assert.Equal(t, 1, cues.count(CueAbort))
}

func TestResetClearsWarningFlag(t *testing.T) {
	r, cues, _ := testRenderer(t)
	start := time.UnixMilli(1_700_000_000_000)
	r.HandleEvent(startEvent(start.UnixMilli()))
	r.tick(start.Add(120 * time.Second))
	require.Equal(t, 1, cues.count(CueWarning))

	r.HandleEvent(timer.Event{Type: timer.EventReset, TimeLeft: timer.DefaultDuration})
	assert.Equal(t, PhaseIdle, r.Phase())
	assert.Equal(t, timer.DefaultDuration, r.Current())

	// A new run gets its own warning.
	restart := start.Add(300 * time.Second)
	r.HandleEvent(startEvent(restart.UnixMilli()))
	r.tick(restart.Add(120 * time.Second))
	assert.Equal(t, 2, cues.count(CueWarning))
}

func TestTickAppliesClockOffset(t *testing.T) {
	r, _, _ := testRenderer(t)

	// The client clock runs 5 seconds behind the server. The run started at
	// server time t0; 120 server-seconds later the local clock reads t0+115s.
	serverStart := time.UnixMilli(1_700_000_000_000)
	r.SetOffset(5000)
	r.HandleEvent(startEvent(serverStart.UnixMilli()))

	r.tick(serverStart.Add(115 * time.Second))

	assert.Equal(t, 30, r.Current(), "offset-corrected countdown matches the server clock")
}

func TestStateSnapshotWhileRunning(t *testing.T) {
	r, cues, _ := testRenderer(t)
	startedAt := time.UnixMilli(1_700_000_000_000).UnixMilli()

	r.HandleEvent(timer.Event{
		Type:      timer.EventState,
		TimeLeft:  timer.DefaultDuration,
		Running:   true,
		StartedAt: &startedAt,
	})

	assert.Equal(t, PhaseRunning, r.Phase())
	assert.Equal(t, 0, cues.count(CueStart), "join snapshot plays no start cue")

	r.tick(time.UnixMilli(startedAt).Add(120 * time.Second))
	assert.Equal(t, 30, r.Current(), "late joiner converges on the same countdown")
}
