package grbl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sequence(states ...MachineState) []*MachineStatus {
	history := make([]*MachineStatus, len(states))
	for i, s := range states {
		history[i] = &MachineStatus{State: s}
	}
	return history
}

func TestStateChanges(t *testing.T) {
	require := require.New(t)

	history := sequence(StateIdle, StateIdle, StateRun, StateRun, StateHold, StateIdle)

	changes := StateChanges(history)
	require.Len(changes, 3)
	require.Equal(StateChange{Index: 2, From: StateIdle, To: StateRun}, changes[0])
	require.Equal(StateChange{Index: 4, From: StateRun, To: StateHold}, changes[1])
	require.Equal(StateChange{Index: 5, From: StateHold, To: StateIdle}, changes[2])

	require.Empty(StateChanges(nil))
	require.Empty(StateChanges(sequence(StateRun)))
	require.Empty(StateChanges(sequence(StateRun, StateRun, StateRun)))
}

func TestStateDurations(t *testing.T) {
	require := require.New(t)

	history := sequence(StateIdle, StateIdle, StateRun, StateRun, StateRun, StateHold)

	durations := StateDurations(history)
	require.Equal([]StateDuration{
		{State: StateIdle, Samples: 2},
		{State: StateRun, Samples: 3},
		{State: StateHold, Samples: 1},
	}, durations)

	require.Empty(StateDurations(nil))
}

func TestDetectAlarms(t *testing.T) {
	require := require.New(t)

	history := sequence(StateIdle, StateAlarm, StateRun, StateDoor, StateIdle)
	require.Equal([]int{1, 3}, DetectAlarms(history))

	require.Empty(DetectAlarms(sequence(StateIdle, StateRun)))
}

func TestPositionChange(t *testing.T) {
	require := require.New(t)

	history := []*MachineStatus{
		{MachinePos: Position{X: 0, Y: 0, Z: 0}},
		{MachinePos: Position{X: 100, Y: 100, Z: 100}},
		{MachinePos: Position{X: 3, Y: 4, Z: 0}},
	}

	// only the first and last samples matter
	require.Equal(5.0, PositionChange(history))
	require.Equal(0.0, PositionChange(history[:1]))
	require.Equal(0.0, PositionChange(nil))
}

func TestProgress(t *testing.T) {
	require := require.New(t)

	_, ok := Progress(nil)
	require.False(ok)

	history := []*MachineStatus{
		{Feedback: FeedbackMetrics{CompletedLines: 10, RemainingLines: 90}},
		{Feedback: FeedbackMetrics{CompletedLines: 75, RemainingLines: 25}},
	}

	percent, ok := Progress(history)
	require.True(ok)
	require.Equal(75.0, percent)
}

func TestAnalyze(t *testing.T) {
	require := require.New(t)

	t.Run("empty history", func(t *testing.T) {
		stats := Analyze(nil)
		require.Equal(0, stats.Count)
		require.Empty(stats.StateChanges)
	})

	t.Run("aggregates", func(t *testing.T) {
		history := []*MachineStatus{
			{State: StateIdle, FeedSpeed: FeedSpeed{FeedRate: 0, SpindleSpeed: 0}},
			{State: StateRun, FeedSpeed: FeedSpeed{FeedRate: 1000, SpindleSpeed: 8000}, Buffer: BufferState{PlannerCount: 7}},
			{State: StateRun, FeedSpeed: FeedSpeed{FeedRate: 2000, SpindleSpeed: 12000}, Buffer: BufferState{PlannerCount: 14}},
		}

		stats := Analyze(history)
		require.Equal(3, stats.Count)
		require.Equal(1000.0, stats.AvgFeedRate)
		require.Equal(2000.0, stats.PeakFeedRate)
		require.Equal(0.0, stats.MinFeedRate)
		require.InDelta(6666.67, stats.AvgSpindleSpeed, 0.01)
		require.Equal(12000.0, stats.PeakSpindleSpeed)
		require.Equal(BufferState{PlannerCount: 14}.FillPercent(), stats.PeakBufferFill)
		require.Len(stats.StateChanges, 1)
	})
}
