package grblconn

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thawkins/gcodekit/grbl"
	"github.com/thawkins/gcodekit/internal/pool"
	"github.com/thawkins/gcodekit/internal/ring"
	"github.com/thawkins/gcodekit/logger"
)

// QueryFunc issues one status query and returns the raw reply line. The
// connection layer supplies an implementation that serializes transport
// access against command traffic.
type QueryFunc func() (string, error)

// StatusMonitor polls the controller status in a managed background goroutine
// and retains the parsed snapshots in a bounded history buffer.
//
// The monitor adapts the poll interval when adaptive timing is enabled: it
// shortens while the machine is cutting or jogging and lengthens while idle
// or held, always staying within the configured bounds. Consecutive poll or
// parse failures beyond the tolerance are escalated through the escalation
// handler; a single failure never surfaces.
//
// Start and Stop are idempotent. Stop never blocks on an in-flight poll; the
// stop request takes effect at the next tick.
type StatusMonitor struct {
	cfg     *ConnectionConfig
	logger  logger.Logger
	query   QueryFunc
	taskMgr *TaskManager
	running atomic.Bool

	onStatus   func(status *grbl.MachineStatus)
	onFailure  func(errText string)
	onEscalate func(errText string)

	mu           sync.Mutex
	history      *ring.Buffer[*grbl.MachineStatus]
	interval     time.Duration
	failures     int
	lastCaptured time.Time
}

// NewStatusMonitor creates a monitor that polls through query. The context
// bounds the lifetime of the polling goroutine.
func NewStatusMonitor(ctx context.Context, cfg *ConnectionConfig, query QueryFunc) *StatusMonitor {
	return &StatusMonitor{
		cfg:      cfg,
		logger:   cfg.logger,
		query:    query,
		taskMgr:  NewTaskManager(ctx, cfg.logger),
		history:  ring.New[*grbl.MachineStatus](cfg.HistorySize(), cfg.CircularHistory()),
		interval: cfg.QueryInterval(),
	}
}

// SetStatusHandler registers a callback invoked with every parsed snapshot.
// Must be called before Start.
func (m *StatusMonitor) SetStatusHandler(handler func(status *grbl.MachineStatus)) {
	m.onStatus = handler
}

// SetFailureHandler registers a callback invoked on every poll or parse
// failure, before any escalation decision. Must be called before Start.
func (m *StatusMonitor) SetFailureHandler(handler func(errText string)) {
	m.onFailure = handler
}

// SetEscalationHandler registers a callback invoked when consecutive failures
// exceed the tolerance. Must be called before Start.
func (m *StatusMonitor) SetEscalationHandler(handler func(errText string)) {
	m.onEscalate = handler
}

// Start launches the polling goroutine. Calling Start on a running monitor is
// a no-op.
func (m *StatusMonitor) Start() error {
	if !m.running.CompareAndSwap(false, true) {
		return nil
	}

	// reap the previous polling task if one is still winding down
	m.taskMgr.Wait()

	m.mu.Lock()
	m.interval = m.cfg.QueryInterval()
	m.failures = 0
	m.mu.Unlock()

	if err := m.taskMgr.Start("statusMonitor", m.pollOnce); err != nil {
		m.running.Store(false)
		return fmt.Errorf("grblconn: start status monitor: %w", err)
	}

	m.logger.Debug("status monitor started", "interval", m.cfg.QueryInterval())

	return nil
}

// Stop requests the polling goroutine to terminate. It returns immediately;
// an in-flight poll finishes its bounded read first. Calling Stop on a
// stopped monitor is a no-op.
func (m *StatusMonitor) Stop() {
	if !m.running.CompareAndSwap(true, false) {
		return
	}

	m.taskMgr.Stop()
	m.logger.Debug("status monitor stopped")
}

// IsRunning reports whether the polling goroutine is active.
func (m *StatusMonitor) IsRunning() bool {
	return m.running.Load()
}

// pollOnce waits one interval then performs a single query/parse cycle.
// Returning false terminates the polling loop.
func (m *StatusMonitor) pollOnce() bool {
	interval := m.currentInterval()
	ctx := m.taskMgr.getContext()

	timer := pool.GetTimer(interval)
	select {
	case <-ctx.Done():
		pool.PutTimer(timer)
		return false
	case <-timer.C:
		pool.PutTimer(timer)
	}

	if !m.running.Load() {
		return false
	}

	line, err := m.query()
	if err != nil {
		m.recordFailure("status poll transport failure: " + err.Error())
		return true
	}

	status, err := grbl.ParseStatus(line)
	if err != nil {
		m.recordFailure("status telegram parse failed: " + err.Error())
		return true
	}

	m.recordStatus(status)

	return true
}

// recordFailure counts a consecutive failure and escalates once the
// tolerance is exceeded.
func (m *StatusMonitor) recordFailure(errText string) {
	m.mu.Lock()
	m.failures++
	failures := m.failures
	tolerance := m.cfg.MaxParseRetries()
	escalate := failures > tolerance
	if escalate {
		m.failures = 0
	}
	m.mu.Unlock()

	m.logger.Debug("status poll failure", "error", errText, "consecutive", failures)

	if m.onFailure != nil {
		m.onFailure(errText)
	}

	if escalate && m.onEscalate != nil {
		m.onEscalate(fmt.Sprintf("%s (%d consecutive failures)", errText, failures))
	}
}

// recordStatus finalizes the snapshot timestamp, appends it to the history
// and adapts the poll interval.
func (m *StatusMonitor) recordStatus(status *grbl.MachineStatus) {
	m.mu.Lock()

	// history timestamps are strictly increasing even if the wall clock
	// stalls or steps backwards
	if !status.CapturedAt.After(m.lastCaptured) {
		status.CapturedAt = m.lastCaptured.Add(time.Nanosecond)
	}
	m.lastCaptured = status.CapturedAt

	m.failures = 0
	m.history.Push(status)

	if m.cfg.AdaptiveTiming() {
		m.interval = adaptInterval(m.interval, status.State, m.cfg)
	}

	m.mu.Unlock()

	if m.onStatus != nil {
		m.onStatus(status)
	}
}

// adaptInterval shortens the interval while the machine is active and
// lengthens it while paused, clamped to the configured bounds.
func adaptInterval(current time.Duration, state grbl.MachineState, cfg *ConnectionConfig) time.Duration {
	next := current
	switch {
	case state.IsActive():
		next = current * 3 / 4
	case state.IsPaused():
		next = current * 5 / 4
	}

	minInterval, maxInterval := cfg.QueryIntervalBounds()
	if next < minInterval {
		next = minInterval
	}
	if next > maxInterval {
		next = maxInterval
	}

	return next
}

func (m *StatusMonitor) currentInterval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.interval
}

// Interval returns the current poll interval.
func (m *StatusMonitor) Interval() time.Duration {
	return m.currentInterval()
}

// Latest returns the most recent snapshot, or nil when no status has been
// captured yet.
func (m *StatusMonitor) Latest() *grbl.MachineStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	status, ok := m.history.Last()
	if !ok {
		return nil
	}

	return status
}

// History returns the retained snapshots, oldest first.
func (m *StatusMonitor) History() []*grbl.MachineStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.history.Snapshot()
}

// HistoryLen returns the number of retained snapshots.
func (m *StatusMonitor) HistoryLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.history.Len()
}

// ClearHistory drops all retained snapshots.
func (m *StatusMonitor) ClearHistory() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history.Reset()
	m.lastCaptured = time.Time{}
}
