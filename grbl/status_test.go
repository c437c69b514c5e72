package grbl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOverrideStateClamping(t *testing.T) {
	require := require.New(t)

	t.Run("in-range values round-trip exactly", func(t *testing.T) {
		for _, v := range []int{0, 1, 50, 100, 199, 200} {
			ov := NewOverrideState(v, v, v)
			require.Equal(OverrideState{Feed: v, Spindle: v, Coolant: v}, ov)
		}
	})

	t.Run("out-of-range values clamp", func(t *testing.T) {
		ov := NewOverrideState(201, 1000, -5)
		require.Equal(200, ov.Feed)
		require.Equal(200, ov.Spindle)
		require.Equal(0, ov.Coolant)
	})
}

func TestPositionDistanceTo(t *testing.T) {
	require := require.New(t)

	a := Position{X: 0, Y: 0, Z: 0}
	b := Position{X: 3, Y: 4, Z: 0}
	require.Equal(5.0, a.DistanceTo(b))
	require.Equal(5.0, b.DistanceTo(a))

	// rotary axes do not participate
	c := Position{X: 3, Y: 4, Z: 0, A: 90, HasA: true}
	require.Equal(5.0, a.DistanceTo(c))

	require.Equal(0.0, a.DistanceTo(a))
}

func TestPinStatesHasAlarm(t *testing.T) {
	require := require.New(t)

	require.False(PinStates{}.HasAlarm())
	require.False(PinStates{Probe: true, CycleStart: true, FeedHold: true}.HasAlarm())
	require.True(PinStates{LimitX: true}.HasAlarm())
	require.True(PinStates{LimitY: true}.HasAlarm())
	require.True(PinStates{LimitZ: true}.HasAlarm())
	require.True(PinStates{Door: true}.HasAlarm())
}

func TestFeedbackMetricsProgress(t *testing.T) {
	require := require.New(t)

	t.Run("zero total yields zero", func(t *testing.T) {
		require.Equal(0.0, FeedbackMetrics{}.ProgressPercent())
	})

	t.Run("non-decreasing as completed grows", func(t *testing.T) {
		const remaining = 40
		prev := -1.0
		for completed := 0; completed <= 60; completed += 10 {
			fm := FeedbackMetrics{CompletedLines: completed, RemainingLines: remaining}
			p := fm.ProgressPercent()
			require.Greater(p, prev)
			require.LessOrEqual(p, 100.0)
			prev = p
		}
	})

	t.Run("complete job", func(t *testing.T) {
		fm := FeedbackMetrics{CompletedLines: 100, RemainingLines: 0}
		require.Equal(100.0, fm.ProgressPercent())
	})
}

func TestBufferStateFillPercent(t *testing.T) {
	require := require.New(t)

	b := BufferState{PlannerCount: PlannerBufferCapacity, RxCount: RxBufferCapacity}
	require.Equal(100.0, b.FillPercent())
	require.Equal(100.0, b.RxFillPercent())

	require.Equal(0.0, BufferState{}.FillPercent())
}

func TestMachineStateHelpers(t *testing.T) {
	require := require.New(t)

	require.True(StateRun.IsActive())
	require.True(StateJog.IsActive())
	require.False(StateIdle.IsActive())

	require.True(StateIdle.IsPaused())
	require.True(StateHold.IsPaused())
	require.False(StateRun.IsPaused())

	require.True(StateAlarm.IsAlarm())
	require.True(StateDoor.IsAlarm())
	require.False(StateCheck.IsAlarm())

	require.Equal("Idle", StateIdle.String())
	require.Equal("Unknown", StateUnknown.String())
	require.Equal(StateUnknown, ParseMachineState("NotAState"))
	require.Equal(StateDoor, ParseMachineState("Door:1"))
}
