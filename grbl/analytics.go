package grbl

// This file provides pure, read-only analytics over an ordered sequence of
// status snapshots, oldest first. None of the functions mutate the input and
// all are safe for concurrent callers.

// StateChange records one state transition inside a snapshot sequence.
// Index is the position of the first sample carrying the new state.
type StateChange struct {
	Index int
	From  MachineState
	To    MachineState
}

// StateDuration records one run of consecutive samples in the same state.
type StateDuration struct {
	State   MachineState
	Samples int
}

// HistoryStats aggregates feed, spindle and buffer statistics over a
// snapshot sequence.
type HistoryStats struct {
	Count int

	AvgFeedRate  float64
	PeakFeedRate float64
	MinFeedRate  float64

	AvgSpindleSpeed  float64
	PeakSpindleSpeed float64

	// PeakBufferFill is the highest observed planner fill level in percent.
	PeakBufferFill float64

	StateChanges []StateChange
}

// Analyze computes aggregate statistics over the given snapshot sequence.
// An empty sequence yields a zero HistoryStats.
func Analyze(history []*MachineStatus) HistoryStats {
	stats := HistoryStats{Count: len(history)}
	if len(history) == 0 {
		return stats
	}

	var feedSum, spindleSum float64
	stats.MinFeedRate = history[0].FeedSpeed.FeedRate

	for _, status := range history {
		feed := status.FeedSpeed.FeedRate
		spindle := status.FeedSpeed.SpindleSpeed

		feedSum += feed
		spindleSum += spindle

		if feed > stats.PeakFeedRate {
			stats.PeakFeedRate = feed
		}
		if feed < stats.MinFeedRate {
			stats.MinFeedRate = feed
		}
		if spindle > stats.PeakSpindleSpeed {
			stats.PeakSpindleSpeed = spindle
		}
		if fill := status.Buffer.FillPercent(); fill > stats.PeakBufferFill {
			stats.PeakBufferFill = fill
		}
	}

	stats.AvgFeedRate = feedSum / float64(len(history))
	stats.AvgSpindleSpeed = spindleSum / float64(len(history))
	stats.StateChanges = StateChanges(history)

	return stats
}

// DetectAlarms returns the indices of all snapshots in the Alarm or Door state.
func DetectAlarms(history []*MachineStatus) []int {
	var indices []int
	for i, status := range history {
		if status.State.IsAlarm() {
			indices = append(indices, i)
		}
	}

	return indices
}

// PositionChange returns the Euclidean distance between the machine positions
// of the first and last snapshot, 0 for sequences shorter than two samples.
func PositionChange(history []*MachineStatus) float64 {
	if len(history) < 2 {
		return 0
	}

	return history[0].MachinePos.DistanceTo(history[len(history)-1].MachinePos)
}

// StateChanges returns every index where the state differs from its
// predecessor, with the from/to states.
func StateChanges(history []*MachineStatus) []StateChange {
	var changes []StateChange
	for i := 1; i < len(history); i++ {
		if history[i].State != history[i-1].State {
			changes = append(changes, StateChange{
				Index: i,
				From:  history[i-1].State,
				To:    history[i].State,
			})
		}
	}

	return changes
}

// StateDurations returns the run-length encoding of the state sequence.
func StateDurations(history []*MachineStatus) []StateDuration {
	var durations []StateDuration
	for _, status := range history {
		if n := len(durations); n > 0 && durations[n-1].State == status.State {
			durations[n-1].Samples++
			continue
		}
		durations = append(durations, StateDuration{State: status.State, Samples: 1})
	}

	return durations
}

// Progress returns the job progress percentage of the newest snapshot.
// ok is false when the sequence is empty.
func Progress(history []*MachineStatus) (percent float64, ok bool) {
	if len(history) == 0 {
		return 0, false
	}

	return history[len(history)-1].Feedback.ProgressPercent(), true
}
