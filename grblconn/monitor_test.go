package grblconn

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/thawkins/gcodekit/grbl"
)

func monitorConfig(t *testing.T, opts ...ConnOption) *ConnectionConfig {
	t.Helper()

	base := []ConnOption{
		WithQueryInterval(10 * time.Millisecond),
		WithQueryIntervalBounds(10*time.Millisecond, 40*time.Millisecond),
	}

	cfg, err := NewConnectionConfig("/dev/ttyTEST", append(base, opts...)...)
	require.NoError(t, err)

	return cfg
}

func TestStatusMonitorPollsAndRecords(t *testing.T) {
	require := require.New(t)

	cfg := monitorConfig(t, WithAdaptiveTiming(false))

	m := NewStatusMonitor(context.Background(), cfg, func() (string, error) {
		return "<Idle|MPos:1.000,2.000,3.000|FS:0,0>", nil
	})
	defer m.Stop()

	require.NoError(m.Start())
	require.True(m.IsRunning())

	require.Eventually(func() bool { return m.HistoryLen() >= 3 }, time.Second, 5*time.Millisecond)

	latest := m.Latest()
	require.NotNil(latest)
	require.Equal(grbl.StateIdle, latest.State)
	require.Equal(1.0, latest.MachinePos.X)

	history := m.History()
	for i := 1; i < len(history); i++ {
		require.True(history[i].CapturedAt.After(history[i-1].CapturedAt),
			"history timestamps must be strictly increasing")
	}
}

func TestStatusMonitorStartStopIdempotent(t *testing.T) {
	require := require.New(t)

	cfg := monitorConfig(t, WithAdaptiveTiming(false))

	m := NewStatusMonitor(context.Background(), cfg, func() (string, error) {
		return "<Idle>", nil
	})

	require.NoError(m.Start())
	require.NoError(m.Start())
	require.True(m.IsRunning())

	m.Stop()
	m.Stop()
	require.False(m.IsRunning())

	// a stopped monitor can be started again
	require.NoError(m.Start())
	require.Eventually(func() bool { return m.HistoryLen() > 0 }, time.Second, 5*time.Millisecond)
	m.Stop()
}

func TestStatusMonitorEscalation(t *testing.T) {
	require := require.New(t)

	cfg := monitorConfig(t, WithAdaptiveTiming(false), WithMaxParseRetries(2))

	m := NewStatusMonitor(context.Background(), cfg, func() (string, error) {
		return "not a telegram", nil
	})
	defer m.Stop()

	var failures atomic.Int32
	m.SetFailureHandler(func(string) {
		failures.Add(1)
	})

	escalated := make(chan string, 1)
	m.SetEscalationHandler(func(errText string) {
		select {
		case escalated <- errText:
		default:
		}
	})

	require.NoError(m.Start())

	select {
	case errText := <-escalated:
		require.Contains(errText, "parse failed")
		require.Contains(errText, "consecutive")
	case <-time.After(time.Second):
		require.Fail("escalation did not fire")
	}

	// the tolerance admits maxParseRetries failures before the escalation
	require.GreaterOrEqual(failures.Load(), int32(3))
}

func TestStatusMonitorQueryErrorsEscalate(t *testing.T) {
	require := require.New(t)

	cfg := monitorConfig(t, WithAdaptiveTiming(false), WithMaxParseRetries(0))

	m := NewStatusMonitor(context.Background(), cfg, func() (string, error) {
		return "", ErrReadTimeout
	})
	defer m.Stop()

	escalated := make(chan string, 1)
	m.SetEscalationHandler(func(errText string) {
		select {
		case escalated <- errText:
		default:
		}
	})

	require.NoError(m.Start())

	select {
	case errText := <-escalated:
		require.Contains(errText, "transport failure")
	case <-time.After(time.Second):
		require.Fail("escalation did not fire")
	}
}

func TestStatusMonitorFailureCounterResets(t *testing.T) {
	require := require.New(t)

	cfg := monitorConfig(t, WithAdaptiveTiming(false), WithMaxParseRetries(3))

	var calls atomic.Int32
	m := NewStatusMonitor(context.Background(), cfg, func() (string, error) {
		// two failures, then a good telegram, repeating
		if calls.Add(1)%3 == 0 {
			return "<Idle>", nil
		}
		return "", errors.New("flaky line")
	})
	defer m.Stop()

	var escalations atomic.Int32
	m.SetEscalationHandler(func(string) {
		escalations.Add(1)
	})

	require.NoError(m.Start())
	require.Eventually(func() bool { return m.HistoryLen() >= 4 }, 2*time.Second, 5*time.Millisecond)

	// failures never run three in a row, so the tolerance is never exceeded
	require.Zero(escalations.Load())
}

func TestStatusMonitorAdaptiveInterval(t *testing.T) {
	require := require.New(t)

	cfg := monitorConfig(t)

	var mu sync.Mutex
	telegram := "<Run|MPos:0.000,0.000,0.000>"

	m := NewStatusMonitor(context.Background(), cfg, func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		return telegram, nil
	})
	defer m.Stop()

	require.Equal(10*time.Millisecond, m.Interval())
	require.NoError(m.Start())

	// motion shrinks the interval down to the lower bound, where it stays
	require.Eventually(func() bool {
		return m.Interval() == 10*time.Millisecond && m.HistoryLen() > 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	telegram = "<Idle>"
	mu.Unlock()

	// waiting grows it toward the upper bound
	require.Eventually(func() bool {
		return m.Interval() == 40*time.Millisecond
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStatusMonitorNonCircularHistory(t *testing.T) {
	require := require.New(t)

	cfg := monitorConfig(t,
		WithAdaptiveTiming(false),
		WithHistorySize(2),
		WithCircularHistory(false),
	)

	m := NewStatusMonitor(context.Background(), cfg, func() (string, error) {
		return "<Idle>", nil
	})
	defer m.Stop()

	require.NoError(m.Start())
	require.Eventually(func() bool { return m.HistoryLen() == 2 }, time.Second, 5*time.Millisecond)

	// the buffer refuses further snapshots instead of evicting
	time.Sleep(50 * time.Millisecond)
	require.Equal(2, m.HistoryLen())

	m.ClearHistory()
	require.Eventually(func() bool { return m.HistoryLen() > 0 }, time.Second, 5*time.Millisecond)
}

func TestStatusMonitorContextCancel(t *testing.T) {
	require := require.New(t)

	cfg := monitorConfig(t, WithAdaptiveTiming(false))

	ctx, cancel := context.WithCancel(context.Background())
	m := NewStatusMonitor(ctx, cfg, func() (string, error) {
		return "<Idle>", nil
	})

	require.NoError(m.Start())
	require.Eventually(func() bool { return m.HistoryLen() > 0 }, time.Second, 5*time.Millisecond)

	cancel()

	// let any in-flight poll drain before sampling
	time.Sleep(30 * time.Millisecond)
	length := m.HistoryLen()
	time.Sleep(50 * time.Millisecond)
	require.Equal(length, m.HistoryLen())
}
