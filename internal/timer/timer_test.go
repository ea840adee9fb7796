package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStateDefaults(t *testing.T) {
	s := NewState()

	assert.Equal(t, DefaultDuration, s.TimeLeft)
	assert.False(t, s.Running)
	assert.Nil(t, s.StartedAt)
}

func TestApplyStart(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)

	s, ev := Apply(NewState(), Command{Type: CommandStart}, now)

	require.NotNil(t, ev)
	assert.Equal(t, EventStart, ev.Type)
	assert.True(t, s.Running)
	require.NotNil(t, s.StartedAt)
	assert.Equal(t, now.UnixMilli(), *s.StartedAt)
	assert.Equal(t, DefaultDuration, s.TimeLeft, "start must not touch the resume point")
}

func TestApplyStartWhileRunningRestampsStart(t *testing.T) {
	t0 := time.UnixMilli(1_700_000_000_000)
	t1 := t0.Add(40 * time.Second)

	s, _ := Apply(NewState(), Command{Type: CommandStart}, t0)
	s, ev := Apply(s, Command{Type: CommandStart}, t1)

	require.NotNil(t, ev, "repeated start still broadcasts")
	require.NotNil(t, s.StartedAt)
	assert.Equal(t, t1.UnixMilli(), *s.StartedAt, "last start wins")
}

func TestApplyStopStoresReportedTime(t *testing.T) {
	now := time.Now()

	s, _ := Apply(NewState(), Command{Type: CommandStart}, now)
	s, ev := Apply(s, Command{Type: CommandStop, TimeLeft: 97}, now)

	require.NotNil(t, ev)
	assert.Equal(t, EventStop, ev.Type)
	assert.False(t, s.Running)
	assert.Equal(t, 97, s.TimeLeft)
	assert.Nil(t, s.StartedAt)
}

func TestApplyStopWhileStoppedIsSilentNoOp(t *testing.T) {
	before := NewState()

	after, ev := Apply(before, Command{Type: CommandStop, TimeLeft: 12}, time.Now())

	assert.Nil(t, ev)
	assert.Equal(t, before, after)
}

func TestApplyEndIsUnconditional(t *testing.T) {
	now := time.Now()

	s, _ := Apply(NewState(), Command{Type: CommandStart}, now)
	s, ev := Apply(s, Command{Type: CommandEnd}, now)

	require.NotNil(t, ev)
	assert.Equal(t, EventEnd, ev.Type)
	assert.Equal(t, 0, s.TimeLeft)
	assert.False(t, s.Running)
	assert.Nil(t, s.StartedAt)

	// Every client reports expiry independently, so a second end must land in
	// the same state and still broadcast.
	s, ev = Apply(s, Command{Type: CommandEnd}, now)
	require.NotNil(t, ev)
	assert.Equal(t, 0, s.TimeLeft)
	assert.False(t, s.Running)
}

func TestApplyResetRestoresDefaults(t *testing.T) {
	now := time.Now()

	s, _ := Apply(NewState(), Command{Type: CommandStart}, now)
	s, ev := Apply(s, Command{Type: CommandReset}, now.Add(42*time.Second))

	require.NotNil(t, ev)
	assert.Equal(t, EventReset, ev.Type)
	assert.Equal(t, NewState(), s)
}

func TestApplyMaintainsStartedAtInvariant(t *testing.T) {
	now := time.Now()
	cmds := []Command{
		{Type: CommandStart},
		{Type: CommandStop, TimeLeft: 50},
		{Type: CommandStart},
		{Type: CommandEnd},
		{Type: CommandReset},
		{Type: CommandStart},
		{Type: CommandStart},
	}

	s := NewState()
	for _, cmd := range cmds {
		s, _ = Apply(s, cmd, now)
		assert.Equal(t, s.Running, s.StartedAt != nil,
			"StartedAt must be set exactly when running (after %s)", cmd.Type)
		now = now.Add(time.Second)
	}
}

func TestSnapshot(t *testing.T) {
	s, _ := Apply(NewState(), Command{Type: CommandStart}, time.Now())

	ev := Snapshot(s)

	assert.Equal(t, EventState, ev.Type)
	assert.Equal(t, s.TimeLeft, ev.TimeLeft)
	assert.True(t, ev.Running)
	assert.Equal(t, s.StartedAt, ev.StartedAt)
}

func TestFromEventRoundTrip(t *testing.T) {
	s, ev := Apply(NewState(), Command{Type: CommandStart}, time.Now())

	assert.Equal(t, s, FromEvent(*ev))
}

func TestRemaining(t *testing.T) {
	start := time.UnixMilli(1_700_000_000_000)

	assert.Equal(t, DefaultDuration, Remaining(start.UnixMilli(), start))
	assert.Equal(t, 30, Remaining(start.UnixMilli(), start.Add(120*time.Second)))
	assert.Equal(t, 0, Remaining(start.UnixMilli(), start.Add(150*time.Second)))
	assert.Equal(t, 0, Remaining(start.UnixMilli(), start.Add(500*time.Second)), "clamped at zero")
}
