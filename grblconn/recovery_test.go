package grblconn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/thawkins/gcodekit/logger"
)

func TestClassifyErrorText(t *testing.T) {
	require := require.New(t)

	require.Equal(classConnection, classifyErrorText("serial port vanished"))
	require.Equal(classConnection, classifyErrorText("grblconn: transport closed"))
	require.Equal(classConnection, classifyErrorText("device reports no carrier"))
	require.Equal(classConnection, classifyErrorText("connection timeout"))

	require.Equal(classCommand, classifyErrorText("grblconn: command rejected"))
	require.Equal(classCommand, classifyErrorText("status telegram parse failed"))
	require.Equal(classCommand, classifyErrorText("error:20 - Unsupported command"))

	require.Equal(classCritical, classifyErrorText("grblconn: controller alarm"))
	require.Equal(classCritical, classifyErrorText("spindle stall detected"))
}

func TestAttemptRecoveryReconnectBudget(t *testing.T) {
	require := require.New(t)

	cfg, err := NewConnectionConfig("/dev/ttyUSB0", WithMaxReconnectAttempts(2))
	require.NoError(err)

	r := NewRecoveryController(cfg, nil, nil)

	require.Equal(ActionReconnect, r.AttemptRecovery("serial port vanished"))
	require.Equal(ActionReconnect, r.AttemptRecovery("serial port vanished"))

	// the budget is spent, reconnecting again would loop forever
	require.Equal(ActionAbortJob, r.AttemptRecovery("serial port vanished"))

	state := r.State()
	require.Equal(2, state.ReconnectAttempts)
	require.Len(state.Actions, 3)
	require.Equal(ActionAbortJob, state.Actions[2].Action)
}

func TestAttemptRecoveryCommandBudget(t *testing.T) {
	require := require.New(t)

	cfg, err := NewConnectionConfig("/dev/ttyUSB0", WithMaxCommandRetries(1))
	require.NoError(err)

	r := NewRecoveryController(cfg, nil, nil)

	require.Equal(ActionRetryCommand, r.AttemptRecovery("grblconn: command rejected"))
	require.Equal(ActionAbortJob, r.AttemptRecovery("grblconn: command rejected"))

	state := r.State()
	require.Equal(1, state.CommandRetries)
	require.Equal("grblconn: command rejected", state.LastError)
}

func TestAttemptRecoveryCritical(t *testing.T) {
	require := require.New(t)

	cfg, err := NewConnectionConfig("/dev/ttyUSB0")
	require.NoError(err)
	r := NewRecoveryController(cfg, nil, nil)
	require.Equal(ActionResetController, r.AttemptRecovery("spindle stall detected"))

	cfg, err = NewConnectionConfig("/dev/ttyUSB0", WithResetOnCriticalError(false))
	require.NoError(err)
	r = NewRecoveryController(cfg, nil, nil)
	require.Equal(ActionAbortJob, r.AttemptRecovery("spindle stall detected"))
}

func TestResetRecoveryState(t *testing.T) {
	require := require.New(t)

	cfg, err := NewConnectionConfig("/dev/ttyUSB0", WithMaxReconnectAttempts(1))
	require.NoError(err)

	r := NewRecoveryController(cfg, nil, nil)
	require.Equal(ActionReconnect, r.AttemptRecovery("serial port vanished"))
	require.Equal(ActionAbortJob, r.AttemptRecovery("serial port vanished"))

	r.ResetRecoveryState()

	state := r.State()
	require.Zero(state.ReconnectAttempts)
	require.Empty(state.Actions)
	require.Empty(state.LastError)
	require.True(state.LastAttempt.IsZero())

	// the budget is refreshed
	require.Equal(ActionReconnect, r.AttemptRecovery("serial port vanished"))
}

func TestRecoveryStateSnapshotIsolation(t *testing.T) {
	require := require.New(t)

	cfg, err := NewConnectionConfig("/dev/ttyUSB0")
	require.NoError(err)

	r := NewRecoveryController(cfg, nil, nil)
	r.AttemptRecovery("serial port vanished")

	snapshot := r.State()
	snapshot.Actions[0].ErrorText = "mutated"
	snapshot.ReconnectAttempts = 99

	state := r.State()
	require.Equal("serial port vanished", state.Actions[0].ErrorText)
	require.Equal(1, state.ReconnectAttempts)
}

func TestAnnotateInterruptedLine(t *testing.T) {
	require := require.New(t)

	cfg, err := NewConnectionConfig("/dev/ttyUSB0")
	require.NoError(err)

	r := NewRecoveryController(cfg, nil, nil)

	state := r.State()
	require.False(state.HasInterruptedLine)

	r.AnnotateInterruptedLine(1042)
	state = r.State()
	require.True(state.HasInterruptedLine)
	require.Equal(1042, state.InterruptedLine)
}

func TestAttemptRecoveryFeedsPredictor(t *testing.T) {
	require := require.New(t)

	cfg, err := NewConnectionConfig("/dev/ttyUSB0")
	require.NoError(err)

	predictor := NewHealthPredictor(cfg)
	r := NewRecoveryController(cfg, predictor, nil)

	r.AttemptRecovery("serial port vanished")
	r.AttemptRecovery("serial port vanished")

	patterns := predictor.Patterns()
	require.Len(patterns, 1)
	require.Equal(2, patterns[0].Frequency)

	metrics := predictor.Metrics()
	require.Less(metrics.ConnectionStability, 1.0)
}

func TestAttemptRecoveryErrorTrackingDisabled(t *testing.T) {
	require := require.New(t)

	cfg, err := NewConnectionConfig("/dev/ttyUSB0", WithErrorTracking(false))
	require.NoError(err)

	predictor := NewHealthPredictor(cfg)
	r := NewRecoveryController(cfg, predictor, nil)

	r.AttemptRecovery("serial port vanished")

	require.Empty(predictor.Patterns())
	require.Equal(1.0, predictor.Metrics().ConnectionStability)
}

func TestAttemptRecoveryLogsDecision(t *testing.T) {
	require := require.New(t)

	ml := logger.NewMockLogger()
	ml.On("Warn", "recovery action decided", mock.Anything).Once()

	cfg, err := NewConnectionConfig("/dev/ttyUSB0", WithLogger(ml))
	require.NoError(err)

	r := NewRecoveryController(cfg, nil, nil)
	require.Equal(ActionReconnect, r.AttemptRecovery("serial port vanished"))

	ml.AssertExpectations(t)
}

func TestAttemptRecoveryRecordsToConsole(t *testing.T) {
	require := require.New(t)

	cfg, err := NewConnectionConfig("/dev/ttyUSB0", WithMaxReconnectAttempts(0))
	require.NoError(err)

	console := NewConsoleLog(10)
	r := NewRecoveryController(cfg, nil, console)

	start := time.Now()
	require.Equal(ActionAbortJob, r.AttemptRecovery("serial port vanished"))

	messages := console.All()
	require.Len(messages, 1)
	require.Equal(SeverityError, messages[0].Severity)
	require.Equal(MessageTrace, messages[0].Type)
	require.False(messages[0].Timestamp.Before(start))
}
