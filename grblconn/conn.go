package grblconn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/thawkins/gcodekit/grbl"
	"github.com/thawkins/gcodekit/internal/pool"
	"github.com/thawkins/gcodekit/logger"
)

// Connection is the single entry point for talking to a GRBL-class
// controller. It owns the transport, the background status monitor, the
// traffic log, the recovery controller and the health predictor, and it
// serializes all command traffic against the status polling so exactly one
// request/response cycle is in flight at a time.
//
// Realtime control bytes and the emergency stop bypass that serialization;
// the controller handles them out of band.
type Connection struct {
	cfg       *ConnectionConfig
	logger    logger.Logger
	stateMgr  *ConnStateMgr
	metrics   *ConnectionMetrics
	console   *ConsoleLog
	predictor *HealthPredictor
	recovery  *RecoveryController
	monitor   *StatusMonitor
	transport Transport

	// taskMgr runs the periodic health sweep while the connection is open
	taskMgr *TaskManager

	ctx    context.Context
	cancel context.CancelFunc

	// transportMu serializes request/response cycles between the status
	// monitor and SendCommand
	transportMu sync.Mutex

	// recoverMu keeps at most one reconnect loop in flight
	recoverMu sync.Mutex

	hookMu    sync.Mutex
	resumeJob func(line int)
	abortJob  func()
}

// NewConnection creates a connection backed by a serial transport built from
// the configuration.
func NewConnection(cfg *ConnectionConfig) (*Connection, error) {
	if cfg == nil {
		return nil, ErrConnConfigNil
	}

	return NewConnectionWithTransport(cfg, NewSerialTransport(cfg.Device(), cfg.BaudRate()))
}

// NewConnectionWithTransport creates a connection on a caller-supplied
// transport. Useful for controllers reachable over something other than a
// local serial port, and for tests.
func NewConnectionWithTransport(cfg *ConnectionConfig, transport Transport) (*Connection, error) {
	if cfg == nil {
		return nil, ErrConnConfigNil
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Connection{
		cfg:       cfg,
		logger:    cfg.logger,
		stateMgr:  NewConnStateMgr(cfg.logger),
		metrics:   &ConnectionMetrics{},
		console:   NewConsoleLog(cfg.ConsoleCapacity()),
		transport: transport,
		ctx:       ctx,
		cancel:    cancel,
	}

	c.predictor = NewHealthPredictor(cfg)
	c.recovery = NewRecoveryController(cfg, c.predictor, c.console)
	c.taskMgr = NewTaskManager(ctx, cfg.logger)

	c.monitor = NewStatusMonitor(ctx, cfg, c.queryStatus)
	c.monitor.SetStatusHandler(c.handleStatus)
	c.monitor.SetFailureHandler(c.handlePollFailure)
	c.monitor.SetEscalationHandler(c.handleEscalation)

	return c, nil
}

// Open establishes the transport and starts the status monitor.
func (c *Connection) Open() error {
	if err := c.stateMgr.ToConnecting(); err != nil {
		return err
	}

	if err := c.transport.Open(); err != nil {
		c.stateMgr.ToError()
		return err
	}

	_ = c.stateMgr.ToConnected()
	c.metrics.resetConnRetryGauge()

	if err := c.monitor.Start(); err != nil {
		return err
	}

	// reap the previous health sweep before launching a fresh one
	c.taskMgr.Wait()
	if _, err := c.taskMgr.StartInterval(healthWatchTask, c.watchHealth, c.cfg.HealthCheckInterval(), false); err != nil {
		return err
	}

	c.logger.Info("connected", "device", c.cfg.Device(), "baud", c.cfg.BaudRate())
	c.console.AddTrace(SeverityInfo, "connected to "+c.cfg.Device())

	return nil
}

// Close stops the status monitor and tears the transport down. The retained
// status history, traffic log and health state survive a close; a later Open
// resumes on the same instance.
func (c *Connection) Close() error {
	c.monitor.Stop()
	_ = c.taskMgr.StopInterval(healthWatchTask)
	c.taskMgr.Stop()
	err := c.transport.Close()
	c.stateMgr.ToDisconnected()

	c.logger.Info("disconnected", "device", c.cfg.Device())

	return err
}

// Shutdown closes the connection and releases the background machinery.
// Unlike Close, the connection cannot be opened again afterwards.
func (c *Connection) Shutdown() error {
	err := c.Close()
	c.cancel()

	return err
}

// State returns the current connection state.
func (c *Connection) State() ConnState {
	return c.stateMgr.State()
}

// WaitState blocks until the connection reaches the given state or the
// context ends.
func (c *Connection) WaitState(ctx context.Context, state ConnState) error {
	return c.stateMgr.WaitState(ctx, state)
}

// AddStateHandler registers a handler invoked on every state change.
func (c *Connection) AddStateHandler(handlers ...ConnStateChangeHandler) {
	c.stateMgr.AddHandler(handlers...)
}

// SetJobHooks registers the job subsystem callbacks: resume receives the
// interrupted G-code line on ResumeJob, abort is invoked when recovery gives
// up. Either may be nil.
func (c *Connection) SetJobHooks(resume func(line int), abort func()) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()

	c.resumeJob = resume
	c.abortJob = abort
}

// queryStatus performs one status query cycle. It runs under the transport
// mutex so it never interleaves with a command's acknowledgement wait.
func (c *Connection) queryStatus() (string, error) {
	c.transportMu.Lock()
	defer c.transportMu.Unlock()

	if !c.transport.Connected() {
		return "", ErrNotConnected
	}

	c.metrics.incStatusQueryCount()
	if err := c.transport.WriteBytes(c.cfg.Flavor().StatusQuery()); err != nil {
		return "", err
	}

	deadline := time.Now().Add(c.cfg.ReadTimeout())
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", ErrReadTimeout
		}

		line, err := c.transport.ReadLine(remaining)
		if err != nil {
			return "", err
		}

		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "<") {
			return trimmed, nil
		}

		// unsolicited feedback between the query and the telegram
		c.console.AddResponse(trimmed)
	}
}

func (c *Connection) handleStatus(status *grbl.MachineStatus) {
	c.metrics.incStatusRecvCount()
	c.predictor.RecordSuccess()

	if status.State.IsAlarm() {
		c.console.AddTrace(SeverityError, "machine reports "+status.State.String())
	}
}

func (c *Connection) handlePollFailure(errText string) {
	c.metrics.incStatusParseErrCount()
}

// handleEscalation runs on the monitor goroutine when consecutive poll
// failures exceed the tolerance. Reconnects are spawned off the monitor
// goroutine so the restarted monitor does not wait on itself.
func (c *Connection) handleEscalation(errText string) {
	action := c.recovery.AttemptRecovery(errText)
	c.metrics.incRecoveryActionCount()

	if !c.cfg.AutoRecovery() {
		c.stateMgr.ToError()
		return
	}

	switch action {
	case ActionReconnect:
		go func() {
			_ = c.reconnect(c.ctx)
		}()
	case ActionResetController:
		_ = c.SoftReset()
	case ActionAbortJob:
		c.abort()
	case ActionRetryCommand:
		// the next poll tick is the retry
	}
}

// healthWatchTask names the periodic health sweep in the task manager.
const healthWatchTask = "healthWatch"

// watchHealth is one tick of the periodic health sweep: outstanding health
// warnings are logged and traced while they persist.
func (c *Connection) watchHealth() bool {
	for _, issue := range c.predictor.PredictPotentialIssues() {
		c.logger.Warn("health warning", "issue", issue)
		c.console.AddTrace(SeverityWarning, "health: "+issue)
	}

	return true
}

// SendCommand sends one command line and waits for its acknowledgement. On
// failure the recovery policy decides whether to retry, reconnect, reset the
// controller or abort; retries and reconnects happen inline until the policy
// gives up or the context ends.
//
// A nil error means the controller answered "ok". A rejection is returned as
// ErrCommandRejected with the acknowledgement carrying the code and text.
func (c *Connection) SendCommand(ctx context.Context, cmd string) (grbl.Ack, error) {
	if !c.stateMgr.State().IsConnected() {
		return grbl.Ack{}, ErrNotConnected
	}

	for {
		ack, err := c.sendOnce(ctx, cmd)
		if err == nil && ack.Kind == grbl.AckOK {
			c.predictor.RecordSuccess()
			return ack, nil
		}

		if err == nil {
			// error acknowledgement
			err = fmt.Errorf("%w: error:%d %s", ErrCommandRejected, ack.Code, ack.Text)
		}
		c.metrics.incCommandErrCount()

		if ctx.Err() != nil {
			return ack, err
		}

		action := c.recovery.AttemptRecovery(err.Error())
		c.metrics.incRecoveryActionCount()

		if !c.cfg.AutoRecovery() {
			c.stateMgr.ToError()
			return ack, err
		}

		switch action {
		case ActionRetryCommand:
			if !sleepCtx(ctx, c.cfg.CommandRetryDelay()) {
				return ack, err
			}

		case ActionReconnect:
			if rerr := c.reconnect(ctx); rerr != nil {
				return ack, err
			}

		case ActionResetController:
			_ = c.SoftReset()
			return ack, err

		default:
			c.abort()
			return ack, err
		}
	}
}

// sendOnce performs one write/acknowledge cycle under the transport mutex.
func (c *Connection) sendOnce(ctx context.Context, cmd string) (grbl.Ack, error) {
	c.transportMu.Lock()
	defer c.transportMu.Unlock()

	c.console.AddCommand(cmd)
	c.metrics.incCommandSendCount()

	if err := c.transport.WriteLine(cmd); err != nil {
		return grbl.Ack{}, err
	}

	deadline := time.Now().Add(c.cfg.CommandTimeout())
	for {
		if err := ctx.Err(); err != nil {
			return grbl.Ack{}, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return grbl.Ack{}, ErrCommandTimeout
		}

		line, err := c.transport.ReadLine(remaining)
		if err != nil {
			if errors.Is(err, ErrReadTimeout) {
				return grbl.Ack{}, ErrCommandTimeout
			}
			return grbl.Ack{}, err
		}

		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "<") {
			// interleaved status telegram, not an acknowledgement
			continue
		}

		c.console.AddResponse(trimmed)

		ack, err := grbl.ParseAck(trimmed)
		if err != nil {
			// settings dump lines and other feedback, keep waiting
			continue
		}

		switch ack.Kind {
		case grbl.AckMessage:
			continue
		case grbl.AckAlarm:
			return ack, fmt.Errorf("%w: ALARM:%d", ErrAlarmReported, ack.Code)
		default:
			return ack, nil
		}
	}
}

// reconnect closes and reopens the transport, retrying with the configured
// delay while the recovery budget allows. On success the recovery state
// resets and the monitor restarts if it was running.
func (c *Connection) reconnect(ctx context.Context) error {
	c.recoverMu.Lock()
	defer c.recoverMu.Unlock()

	_ = c.stateMgr.ToRecovering()

	wasPolling := c.monitor.IsRunning()
	c.monitor.Stop()

	for {
		c.metrics.incConnRetryGauge()
		_ = c.transport.Close()

		if !sleepCtx(ctx, c.cfg.ReconnectDelay()) {
			c.stateMgr.ToError()
			return ctx.Err()
		}

		err := c.transport.Open()
		if err == nil {
			_ = c.stateMgr.ToConnected()
			c.metrics.resetConnRetryGauge()
			c.recovery.ResetRecoveryState()
			c.predictor.RecordSuccess()

			if wasPolling {
				_ = c.monitor.Start()
			}

			c.logger.Info("reconnected", "device", c.cfg.Device())
			c.console.AddTrace(SeverityInfo, "reconnected to "+c.cfg.Device())

			return nil
		}

		action := c.recovery.AttemptRecovery("reconnect failed: " + err.Error())
		c.metrics.incRecoveryActionCount()
		if action != ActionReconnect {
			c.stateMgr.ToError()
			c.abort()
			return fmt.Errorf("grblconn: reconnect abandoned: %w", err)
		}
	}
}

// abort gives up on the current job: the abort hook fires, polling stops and
// the connection enters the error state.
func (c *Connection) abort() {
	c.stateMgr.ToError()
	c.monitor.Stop()

	c.hookMu.Lock()
	abortFn := c.abortJob
	c.hookMu.Unlock()

	if abortFn != nil {
		abortFn()
	}

	c.logger.Error("job aborted, recovery exhausted")
	c.console.AddTrace(SeverityError, "job aborted, recovery exhausted")
}

// Hold sends the realtime feed-hold byte. No acknowledgement is expected.
func (c *Connection) Hold() error {
	return c.writeRealtime(c.cfg.Flavor().HoldCommand())
}

// Resume sends the realtime cycle-start byte. No acknowledgement is expected.
func (c *Connection) Resume() error {
	return c.writeRealtime(c.cfg.Flavor().ResumeCommand())
}

// SoftReset sends the realtime soft-reset byte. The controller clears its
// buffers and restarts; streamed lines are lost.
func (c *Connection) SoftReset() error {
	c.console.AddTrace(SeverityWarning, "soft reset issued")
	return c.writeRealtime(c.cfg.Flavor().ResetCommand())
}

// EmergencyStop issues an immediate soft reset, bypassing the request
// serialization, then aborts the job and stops polling. This is the path for
// the big red button; it never waits on in-flight traffic.
func (c *Connection) EmergencyStop() error {
	err := c.writeRealtime(c.cfg.Flavor().ResetCommand())

	c.console.AddTrace(SeverityError, "emergency stop")
	c.logger.Error("emergency stop issued")
	c.abort()

	return err
}

// writeRealtime sends a single realtime control byte. Realtime bytes are
// consumed by the controller ahead of the line buffer, so they skip the
// transport mutex.
func (c *Connection) writeRealtime(b byte) error {
	if !c.transport.Connected() {
		return ErrNotConnected
	}

	return c.transport.WriteBytes([]byte{b})
}

// Home runs the homing cycle and waits for its acknowledgement.
func (c *Connection) Home(ctx context.Context) (grbl.Ack, error) {
	return c.SendCommand(ctx, c.cfg.Flavor().HomeCommand())
}

// DumpSettings requests the controller settings and returns the reported
// lines. The dump ends at the closing "ok".
func (c *Connection) DumpSettings(ctx context.Context) ([]string, error) {
	if !c.stateMgr.State().IsConnected() {
		return nil, ErrNotConnected
	}

	c.transportMu.Lock()
	defer c.transportMu.Unlock()

	cmd := c.cfg.Flavor().SettingsDumpCommand()
	c.console.AddCommand(cmd)
	c.metrics.incCommandSendCount()

	if err := c.transport.WriteLine(cmd); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(c.cfg.CommandTimeout())
	var settings []string
	for {
		if err := ctx.Err(); err != nil {
			return settings, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return settings, ErrCommandTimeout
		}

		line, err := c.transport.ReadLine(remaining)
		if err != nil {
			if errors.Is(err, ErrReadTimeout) {
				return settings, ErrCommandTimeout
			}
			return settings, err
		}

		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			continue
		case strings.HasPrefix(trimmed, "<"):
			continue
		case trimmed == "ok":
			return settings, nil
		case strings.HasPrefix(trimmed, "error:"):
			c.console.AddResponse(trimmed)
			return settings, fmt.Errorf("%w: %s", ErrCommandRejected, trimmed)
		default:
			c.console.AddResponse(trimmed)
			settings = append(settings, trimmed)
		}
	}
}

// Status returns the most recent status snapshot, or nil when none has been
// captured yet.
func (c *Connection) Status() *grbl.MachineStatus {
	return c.monitor.Latest()
}

// StatusHistory returns the retained status snapshots, oldest first.
func (c *Connection) StatusHistory() []*grbl.MachineStatus {
	return c.monitor.History()
}

// HistoryStats computes aggregate analytics over the retained history.
func (c *Connection) HistoryStats() grbl.HistoryStats {
	return grbl.Analyze(c.monitor.History())
}

// Monitor exposes the status monitor for interval and history control.
func (c *Connection) Monitor() *StatusMonitor {
	return c.monitor
}

// Console exposes the traffic log.
func (c *Connection) Console() *ConsoleLog {
	return c.console
}

// Metrics exposes the connection counters.
func (c *Connection) Metrics() *ConnectionMetrics {
	return c.metrics
}

// RecoveryState returns a snapshot of the recovery bookkeeping.
func (c *Connection) RecoveryState() RecoveryState {
	return c.recovery.State()
}

// AcknowledgeRecovery clears the recovery bookkeeping after the operator has
// reviewed it.
func (c *Connection) AcknowledgeRecovery() {
	c.recovery.ResetRecoveryState()
}

// MarkJobInterrupted records the G-code line at which the job subsystem
// reports the current job was interrupted.
func (c *Connection) MarkJobInterrupted(line int) {
	c.recovery.AnnotateInterruptedLine(line)
}

// ResumeJob hands the recorded interrupted line back to the job subsystem
// through the resume hook.
func (c *Connection) ResumeJob() error {
	state := c.recovery.State()
	if !state.HasInterruptedLine {
		return ErrNoInterruptedJob
	}

	c.hookMu.Lock()
	resumeFn := c.resumeJob
	c.hookMu.Unlock()

	if resumeFn != nil {
		resumeFn(state.InterruptedLine)
	}

	return nil
}

// HealthCheck returns the current health ratios.
func (c *Connection) HealthCheck() HealthMetrics {
	return c.predictor.Metrics()
}

// OptimizationSuggestions returns human-readable warnings derived from the
// accumulated error patterns and health ratios.
func (c *Connection) OptimizationSuggestions() []string {
	return c.predictor.PredictPotentialIssues()
}

// ErrorPatterns returns the aggregated failure buckets, most frequent first.
func (c *Connection) ErrorPatterns() []ErrorPattern {
	return c.predictor.Patterns()
}

// UpdateConfigOptions applies runtime-updatable options to the configuration.
func (c *Connection) UpdateConfigOptions(opts ...ConnOption) error {
	return c.cfg.Update(opts...)
}

// sleepCtx waits d or until the context ends, reporting whether the full
// delay elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := pool.GetTimer(d)
	defer pool.PutTimer(timer)

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
