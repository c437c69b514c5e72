package grblconn

import (
	"strings"
	"sync"
	"time"

	"github.com/thawkins/gcodekit/logger"
)

// RecoveryAction is the decision returned by the recovery controller for a
// classified failure. The controller decides but never touches the transport;
// executing the action is the facade's job.
type RecoveryAction uint8

const (
	// ActionNone indicates no recovery is required.
	ActionNone RecoveryAction = iota
	// ActionReconnect closes and reopens the transport.
	ActionReconnect
	// ActionRetryCommand re-sends the failed command after the retry delay.
	ActionRetryCommand
	// ActionResetController issues a controller soft reset.
	ActionResetController
	// ActionAbortJob gives up: budgets are exhausted or the failure is
	// critical and resets are disabled.
	ActionAbortJob
)

// String returns the action name.
func (a RecoveryAction) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionReconnect:
		return "reconnect"
	case ActionRetryCommand:
		return "retry-command"
	case ActionResetController:
		return "reset-controller"
	case ActionAbortJob:
		return "abort-job"
	default:
		return "unknown"
	}
}

// errorClass groups failure texts for policy dispatch. Everything that is
// neither connection-class nor command-class falls into the critical bucket.
type errorClass uint8

const (
	classCritical errorClass = iota
	classConnection
	classCommand
)

var (
	connectionKeywords = []string{
		"connection", "connect", "disconnect", "serial", "port", "transport", "device",
	}
	commandKeywords = []string{
		"command", "rejected", "unacknowledged", "retry", "parse", "telegram", "response", "error:",
	}
)

// classifyErrorText buckets a failure text by keyword match.
func classifyErrorText(text string) errorClass {
	lower := strings.ToLower(text)

	for _, kw := range connectionKeywords {
		if strings.Contains(lower, kw) {
			return classConnection
		}
	}
	for _, kw := range commandKeywords {
		if strings.Contains(lower, kw) {
			return classCommand
		}
	}

	return classCritical
}

// RecoveryEvent is one recorded classification with the decided action.
type RecoveryEvent struct {
	Timestamp time.Time
	ErrorText string
	Action    RecoveryAction
}

// RecoveryState is the mutable bookkeeping of the recovery controller.
// Readers obtain snapshot copies via RecoveryController.State.
type RecoveryState struct {
	ReconnectAttempts int
	CommandRetries    int
	LastAttempt       time.Time
	LastError         string
	Actions           []RecoveryEvent

	// InterruptedLine is the G-code line the job subsystem reported as
	// interrupted, valid when HasInterruptedLine is set.
	InterruptedLine    int
	HasInterruptedLine bool
}

// RecoveryController classifies transport and command failures and decides
// the recovery action within the configured budgets. It owns RecoveryState
// exclusively; all access goes through its mutex.
type RecoveryController struct {
	mu        sync.Mutex
	cfg       *ConnectionConfig
	logger    logger.Logger
	state     RecoveryState
	predictor *HealthPredictor
	console   *ConsoleLog
}

// NewRecoveryController creates a recovery controller bound to the given
// configuration. The predictor and console may be nil; they receive recovery
// events when present.
func NewRecoveryController(cfg *ConnectionConfig, predictor *HealthPredictor, console *ConsoleLog) *RecoveryController {
	return &RecoveryController{
		cfg:       cfg,
		logger:    cfg.logger,
		predictor: predictor,
		console:   console,
	}
}

// AttemptRecovery records the failure, classifies it and returns the decided
// action:
//
//   - connection-class text yields ActionReconnect until the reconnect budget
//     is exhausted, then ActionAbortJob
//   - command-class text yields ActionRetryCommand until the retry budget is
//     exhausted, then ActionAbortJob
//   - anything else yields ActionResetController when resets are enabled,
//     otherwise ActionAbortJob
//
// The decision is always recorded, even when automatic recovery is disabled;
// in that case the caller must not act on it automatically.
func (r *RecoveryController) AttemptRecovery(errText string) RecoveryAction {
	r.mu.Lock()

	now := time.Now()
	r.state.LastError = errText
	r.state.LastAttempt = now

	var action RecoveryAction
	class := classifyErrorText(errText)
	switch class {
	case classConnection:
		if r.state.ReconnectAttempts >= r.cfg.MaxReconnectAttempts() {
			action = ActionAbortJob
		} else {
			r.state.ReconnectAttempts++
			action = ActionReconnect
		}

	case classCommand:
		if r.state.CommandRetries >= r.cfg.MaxCommandRetries() {
			action = ActionAbortJob
		} else {
			r.state.CommandRetries++
			action = ActionRetryCommand
		}

	default:
		if r.cfg.ResetOnCriticalError() {
			action = ActionResetController
		} else {
			action = ActionAbortJob
		}
	}

	r.state.Actions = append(r.state.Actions, RecoveryEvent{
		Timestamp: now,
		ErrorText: errText,
		Action:    action,
	})
	r.mu.Unlock()

	if r.predictor != nil && r.cfg.ErrorTracking() {
		r.predictor.UpdateErrorPattern(errText)
		r.predictor.recordFailure(class)
	}

	if r.console != nil {
		severity := SeverityWarning
		if action == ActionAbortJob {
			severity = SeverityError
		}
		r.console.AddTrace(severity, "recovery: "+errText+" -> "+action.String())
	}

	r.logger.Warn("recovery action decided", "error", errText, "action", action.String())

	return action
}

// ResetRecoveryState clears counters and the action log. Called on operator
// acknowledgement or after a fully successful reconnect.
func (r *RecoveryController) ResetRecoveryState() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state = RecoveryState{}
}

// AnnotateInterruptedLine records the G-code line at which the job subsystem
// reports the job was interrupted.
func (r *RecoveryController) AnnotateInterruptedLine(line int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state.InterruptedLine = line
	r.state.HasInterruptedLine = true
}

// State returns a snapshot copy of the recovery state. The Actions slice is
// cloned; callers may hold the snapshot without locking.
func (r *RecoveryController) State() RecoveryState {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.state
	snapshot.Actions = make([]RecoveryEvent, len(r.state.Actions))
	copy(snapshot.Actions, r.state.Actions)

	return snapshot
}
