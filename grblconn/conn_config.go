package grblconn

import (
	"errors"
	"sync"
	"time"

	"github.com/thawkins/gcodekit/grbl"
	"github.com/thawkins/gcodekit/logger"
)

// ConnectionConfig represents the configuration parameters for a controller
// connection: transport settings, status monitor timing, error recovery
// budgets and health prediction thresholds.
type ConnectionConfig struct {
	mu sync.RWMutex

	// device specifies the serial device path, e.g. /dev/ttyUSB0.
	device string

	// baudRate specifies the serial baud rate.
	// Defaults to 115200.
	baudRate int

	// flavor selects the controller firmware dialect.
	// Defaults to grbl.FlavorGrbl.
	flavor grbl.Flavor

	// readTimeout bounds the wait for one status telegram reply.
	// Defaults to 500 milliseconds.
	readTimeout time.Duration

	// commandTimeout bounds the wait for a command acknowledgement.
	// Defaults to 5 seconds.
	commandTimeout time.Duration

	// consoleCapacity is the capacity of the traffic log.
	// Defaults to 500 entries.
	consoleCapacity int

	// queryInterval is the base status poll interval.
	// Defaults to 250 milliseconds.
	queryInterval time.Duration

	// minQueryInterval bounds adaptive timing from below.
	// Defaults to 100 milliseconds.
	minQueryInterval time.Duration

	// maxQueryInterval bounds adaptive timing from above.
	// Defaults to 1 second.
	maxQueryInterval time.Duration

	// adaptiveTiming shrinks the poll interval while the machine is active
	// (Run/Jog) and grows it while the machine waits (Idle/Hold).
	// Defaults to true.
	adaptiveTiming bool

	// historySize is the capacity of the status history buffer.
	// Defaults to 500 snapshots.
	historySize int

	// circularHistory selects eviction of the oldest snapshot on overflow;
	// when false the history refuses new snapshots once full.
	// Defaults to true.
	circularHistory bool

	// maxParseRetries is the number of consecutive parse or poll failures
	// tolerated before escalation to the recovery controller.
	// Defaults to 3.
	maxParseRetries int

	// errorTracking feeds poll and command failures into the health
	// predictor's error-pattern buckets.
	// Defaults to true.
	errorTracking bool

	// maxErrorPatterns is the number of distinct error-pattern buckets
	// retained by the health predictor.
	// Defaults to 32.
	maxErrorPatterns int

	// maxReconnectAttempts bounds automatic reconnects before the recovery
	// controller gives up and aborts the job.
	// Defaults to 5.
	maxReconnectAttempts int

	// reconnectDelay is the wait between reconnect attempts.
	// Defaults to 2 seconds.
	reconnectDelay time.Duration

	// maxCommandRetries bounds automatic command retries.
	// Defaults to 3.
	maxCommandRetries int

	// commandRetryDelay is the wait between command retries.
	// Defaults to 500 milliseconds.
	commandRetryDelay time.Duration

	// resetOnCriticalError issues a controller soft reset for critical
	// errors that are neither connection-class nor command-class.
	// Defaults to true.
	resetOnCriticalError bool

	// autoRecovery executes the decided recovery action automatically.
	// When disabled, failures are still classified and recorded but the
	// operator drives recovery manually.
	// Defaults to true.
	autoRecovery bool

	// connErrorThreshold is the error-pattern frequency at which the health
	// predictor warns about connection instability.
	// Defaults to 5.
	connErrorThreshold int

	// commandErrorThreshold is the error-pattern frequency at which the
	// health predictor warns about command failures.
	// Defaults to 3.
	commandErrorThreshold int

	// healthCheckInterval is the period of the background health sweep that
	// logs outstanding health warnings while the connection is open.
	// Defaults to 30 seconds.
	healthCheckInterval time.Duration

	// healthDegradeStep is subtracted from a health ratio on failure.
	// Defaults to 0.1.
	healthDegradeStep float64

	// healthRecoverStep is added to a health ratio on success.
	// Defaults to 0.02.
	healthRecoverStep float64

	// logger provides a logger instance for connection events and errors.
	logger logger.Logger
}

// NewConnectionConfig creates a new connection configuration for the given
// serial device with optional functional options.
//
// It initializes a ConnectionConfig struct with default values and then
// applies the provided options to customize the configuration.
//
// Returns a pointer to the initialized ConnectionConfig and an error if any
// occurred during the configuration process.
func NewConnectionConfig(device string, opts ...ConnOption) (*ConnectionConfig, error) {
	cfg := &ConnectionConfig{
		baudRate:              115200,
		flavor:                grbl.FlavorGrbl,
		readTimeout:           500 * time.Millisecond,
		commandTimeout:        5 * time.Second,
		consoleCapacity:       500,
		queryInterval:         250 * time.Millisecond,
		minQueryInterval:      100 * time.Millisecond,
		maxQueryInterval:      time.Second,
		adaptiveTiming:        true,
		historySize:           500,
		circularHistory:       true,
		maxParseRetries:       3,
		errorTracking:         true,
		maxErrorPatterns:      32,
		maxReconnectAttempts:  5,
		reconnectDelay:        2 * time.Second,
		maxCommandRetries:     3,
		commandRetryDelay:     500 * time.Millisecond,
		resetOnCriticalError:  true,
		autoRecovery:          true,
		connErrorThreshold:    5,
		commandErrorThreshold: 3,
		healthCheckInterval:   30 * time.Second,
		healthDegradeStep:     0.1,
		healthRecoverStep:     0.02,
		logger:                logger.GetLogger(),
	}

	if err := withDevice(device).apply(cfg); err != nil {
		return cfg, err
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

// Update applies runtime-changeable options to an existing configuration.
// Options marked as not changeable at runtime are rejected.
func (cfg *ConnectionConfig) Update(opts ...ConnOption) error {
	for _, opt := range opts {
		connOpt, ok := opt.(*connOptFunc)
		if !ok {
			return errors.New("invalid ConnOption type")
		}
		if !connOpt.runtime {
			return errors.New(connOpt.name + " can't be changed at runtime")
		}
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return err
		}
	}

	return nil
}

func (cfg *ConnectionConfig) Device() string {
	return cfg.device
}

func (cfg *ConnectionConfig) BaudRate() int {
	return cfg.baudRate
}

func (cfg *ConnectionConfig) Flavor() grbl.Flavor {
	return cfg.flavor
}

func (cfg *ConnectionConfig) ReadTimeout() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.readTimeout
}

func (cfg *ConnectionConfig) CommandTimeout() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.commandTimeout
}

func (cfg *ConnectionConfig) ConsoleCapacity() int {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.consoleCapacity
}

func (cfg *ConnectionConfig) HistorySize() int {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.historySize
}

func (cfg *ConnectionConfig) CircularHistory() bool {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.circularHistory
}

func (cfg *ConnectionConfig) MaxErrorPatterns() int {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.maxErrorPatterns
}

func (cfg *ConnectionConfig) QueryInterval() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.queryInterval
}

func (cfg *ConnectionConfig) QueryIntervalBounds() (min, max time.Duration) {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.minQueryInterval, cfg.maxQueryInterval
}

func (cfg *ConnectionConfig) AdaptiveTiming() bool {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.adaptiveTiming
}

func (cfg *ConnectionConfig) MaxParseRetries() int {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.maxParseRetries
}

func (cfg *ConnectionConfig) ErrorTracking() bool {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.errorTracking
}

func (cfg *ConnectionConfig) MaxReconnectAttempts() int {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.maxReconnectAttempts
}

func (cfg *ConnectionConfig) ReconnectDelay() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.reconnectDelay
}

func (cfg *ConnectionConfig) MaxCommandRetries() int {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.maxCommandRetries
}

func (cfg *ConnectionConfig) CommandRetryDelay() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.commandRetryDelay
}

func (cfg *ConnectionConfig) ResetOnCriticalError() bool {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.resetOnCriticalError
}

func (cfg *ConnectionConfig) AutoRecovery() bool {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.autoRecovery
}

func (cfg *ConnectionConfig) HealthCheckInterval() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.healthCheckInterval
}

func (cfg *ConnectionConfig) healthThresholds() (connection, command int) {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.connErrorThreshold, cfg.commandErrorThreshold
}

func (cfg *ConnectionConfig) healthSteps() (degrade, recovery float64) {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.healthDegradeStep, cfg.healthRecoverStep
}

// ConnOption represents a functional option for configuring a ConnectionConfig.
type ConnOption interface {
	apply(*ConnectionConfig) error
}

type connOptFunc struct {
	name      string
	runtime   bool
	applyFunc func(*ConnectionConfig) error
}

func (c *connOptFunc) apply(cfg *ConnectionConfig) error { return c.applyFunc(cfg) }

func newConnOptFunc(name string, runtime bool, f func(*ConnectionConfig) error) *connOptFunc {
	return &connOptFunc{
		name:      name,
		runtime:   runtime,
		applyFunc: f,
	}
}

// withDevice sets the serial device path.
// An error is returned if the path is empty or the configuration is nil.
func withDevice(device string) ConnOption {
	return newConnOptFunc("withDevice", false, func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return ErrConnConfigNil
		}
		if device == "" {
			return errors.New("serial device path is empty")
		}

		cfg.device = device

		return nil
	})
}

// WithBaudRate sets the serial baud rate.
//
// The default value is 115200.
//
// This option can't be changed at runtime.
func WithBaudRate(baud int) ConnOption {
	return newConnOptFunc("WithBaudRate", false, func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return ErrConnConfigNil
		}
		if baud < 1200 || baud > 1000000 {
			return errors.New("baud rate out of range [1200, 1000000]")
		}

		cfg.baudRate = baud

		return nil
	})
}

// WithFlavor selects the controller firmware dialect.
//
// The default value is grbl.FlavorGrbl.
//
// This option can't be changed at runtime.
func WithFlavor(flavor grbl.Flavor) ConnOption {
	return newConnOptFunc("WithFlavor", false, func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return ErrConnConfigNil
		}

		cfg.flavor = flavor

		return nil
	})
}

// WithReadTimeout bounds the wait for one status telegram reply.
// An error is returned if the timeout is outside the valid range
// (10ms-10s) or if the configuration is nil.
//
// The default value is 500 milliseconds.
//
// This option can't be changed at runtime.
func WithReadTimeout(val time.Duration) ConnOption {
	return newConnOptFunc("WithReadTimeout", false, func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return ErrConnConfigNil
		}
		if val < 10*time.Millisecond || val > 10*time.Second {
			return errors.New("read timeout out of range [0.01, 10]")
		}

		cfg.readTimeout = val

		return nil
	})
}

// WithCommandTimeout bounds the wait for a command acknowledgement.
// An error is returned if the timeout is outside the valid range
// (100ms-120s) or if the configuration is nil.
//
// The default value is 5 seconds.
//
// This option can't be changed at runtime.
func WithCommandTimeout(val time.Duration) ConnOption {
	return newConnOptFunc("WithCommandTimeout", false, func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return ErrConnConfigNil
		}
		if val < 100*time.Millisecond || val > 120*time.Second {
			return errors.New("command timeout out of range [0.1, 120]")
		}

		cfg.commandTimeout = val

		return nil
	})
}

// WithConsoleCapacity sets the capacity of the traffic log.
// The capacity must be within the range of 1 to 100000.
//
// The default value is 500.
//
// This option can't be changed at runtime.
func WithConsoleCapacity(capacity int) ConnOption {
	return newConnOptFunc("WithConsoleCapacity", false, func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return ErrConnConfigNil
		}
		if capacity < 1 || capacity > 100000 {
			return errors.New("console capacity out of range [1, 100000]")
		}

		cfg.consoleCapacity = capacity

		return nil
	})
}

// WithQueryInterval sets the base status poll interval.
// An error is returned if the interval is outside the valid range
// (10ms-60s) or if the configuration is nil.
//
// The default value is 250 milliseconds.
//
// This option can be changed at runtime.
func WithQueryInterval(interval time.Duration) ConnOption {
	return newConnOptFunc("WithQueryInterval", true, func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return ErrConnConfigNil
		}
		if interval < 10*time.Millisecond || interval > time.Minute {
			return errors.New("query interval out of range [0.01, 60]")
		}

		cfg.mu.Lock()
		cfg.queryInterval = interval
		cfg.mu.Unlock()

		return nil
	})
}

// WithQueryIntervalBounds sets the bounds for adaptive poll timing.
// An error is returned if min is not positive or max is below min.
//
// The default bounds are 100 milliseconds and 1 second.
//
// This option can be changed at runtime.
func WithQueryIntervalBounds(min, max time.Duration) ConnOption {
	return newConnOptFunc("WithQueryIntervalBounds", true, func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return ErrConnConfigNil
		}
		if min <= 0 || max < min {
			return errors.New("invalid query interval bounds")
		}

		cfg.mu.Lock()
		cfg.minQueryInterval = min
		cfg.maxQueryInterval = max
		cfg.mu.Unlock()

		return nil
	})
}

// WithAdaptiveTiming enables or disables adaptive poll timing.
//
// When enabled, the poll interval shrinks while the machine is producing
// motion and grows while it waits, within the configured bounds.
//
// The default value is true.
//
// This option can be changed at runtime.
func WithAdaptiveTiming(val bool) ConnOption {
	return newConnOptFunc("WithAdaptiveTiming", true, func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return ErrConnConfigNil
		}

		cfg.mu.Lock()
		cfg.adaptiveTiming = val
		cfg.mu.Unlock()

		return nil
	})
}

// WithHistorySize sets the capacity of the status history buffer.
// The capacity must be within the range of 1 to 100000.
//
// The default value is 500.
//
// This option can't be changed at runtime.
func WithHistorySize(size int) ConnOption {
	return newConnOptFunc("WithHistorySize", false, func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return ErrConnConfigNil
		}
		if size < 1 || size > 100000 {
			return errors.New("history size out of range [1, 100000]")
		}

		cfg.historySize = size

		return nil
	})
}

// WithCircularHistory selects eviction of the oldest snapshot on history
// overflow. When false, the history refuses new snapshots once full.
//
// The default value is true.
//
// This option can't be changed at runtime.
func WithCircularHistory(val bool) ConnOption {
	return newConnOptFunc("WithCircularHistory", false, func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return ErrConnConfigNil
		}

		cfg.circularHistory = val

		return nil
	})
}

// WithMaxParseRetries sets the number of consecutive poll failures tolerated
// before escalation to the recovery controller.
// The value must be within the range of 0 to 100.
//
// The default value is 3.
//
// This option can be changed at runtime.
func WithMaxParseRetries(val int) ConnOption {
	return newConnOptFunc("WithMaxParseRetries", true, func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return ErrConnConfigNil
		}
		if val < 0 || val > 100 {
			return errors.New("max parse retries out of range [0, 100]")
		}

		cfg.mu.Lock()
		cfg.maxParseRetries = val
		cfg.mu.Unlock()

		return nil
	})
}

// WithErrorTracking enables or disables feeding failures into the health
// predictor's error-pattern buckets.
//
// The default value is true.
//
// This option can be changed at runtime.
func WithErrorTracking(val bool) ConnOption {
	return newConnOptFunc("WithErrorTracking", true, func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return ErrConnConfigNil
		}

		cfg.mu.Lock()
		cfg.errorTracking = val
		cfg.mu.Unlock()

		return nil
	})
}

// WithMaxErrorPatterns sets the number of distinct error-pattern buckets the
// health predictor retains. The value must be within the range of 1 to 1024.
//
// The default value is 32.
//
// This option can't be changed at runtime.
func WithMaxErrorPatterns(val int) ConnOption {
	return newConnOptFunc("WithMaxErrorPatterns", false, func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return ErrConnConfigNil
		}
		if val < 1 || val > 1024 {
			return errors.New("max error patterns out of range [1, 1024]")
		}

		cfg.maxErrorPatterns = val

		return nil
	})
}

// WithMaxReconnectAttempts bounds automatic reconnects before the recovery
// controller aborts the job. The value must be within the range of 0 to 100.
//
// The default value is 5.
//
// This option can be changed at runtime.
func WithMaxReconnectAttempts(val int) ConnOption {
	return newConnOptFunc("WithMaxReconnectAttempts", true, func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return ErrConnConfigNil
		}
		if val < 0 || val > 100 {
			return errors.New("max reconnect attempts out of range [0, 100]")
		}

		cfg.mu.Lock()
		cfg.maxReconnectAttempts = val
		cfg.mu.Unlock()

		return nil
	})
}

// WithReconnectDelay sets the wait between reconnect attempts.
// An error is returned if the delay is outside the valid range (10ms-240s).
//
// The default value is 2 seconds.
//
// This option can be changed at runtime.
func WithReconnectDelay(val time.Duration) ConnOption {
	return newConnOptFunc("WithReconnectDelay", true, func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return ErrConnConfigNil
		}
		if val < 10*time.Millisecond || val > 240*time.Second {
			return errors.New("reconnect delay out of range [0.01, 240]")
		}

		cfg.mu.Lock()
		cfg.reconnectDelay = val
		cfg.mu.Unlock()

		return nil
	})
}

// WithMaxCommandRetries bounds automatic command retries.
// The value must be within the range of 0 to 100.
//
// The default value is 3.
//
// This option can be changed at runtime.
func WithMaxCommandRetries(val int) ConnOption {
	return newConnOptFunc("WithMaxCommandRetries", true, func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return ErrConnConfigNil
		}
		if val < 0 || val > 100 {
			return errors.New("max command retries out of range [0, 100]")
		}

		cfg.mu.Lock()
		cfg.maxCommandRetries = val
		cfg.mu.Unlock()

		return nil
	})
}

// WithCommandRetryDelay sets the wait between command retries.
// An error is returned if the delay is outside the valid range (10ms-240s).
//
// The default value is 500 milliseconds.
//
// This option can be changed at runtime.
func WithCommandRetryDelay(val time.Duration) ConnOption {
	return newConnOptFunc("WithCommandRetryDelay", true, func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return ErrConnConfigNil
		}
		if val < 10*time.Millisecond || val > 240*time.Second {
			return errors.New("command retry delay out of range [0.01, 240]")
		}

		cfg.mu.Lock()
		cfg.commandRetryDelay = val
		cfg.mu.Unlock()

		return nil
	})
}

// WithResetOnCriticalError enables or disables issuing a controller soft
// reset for critical errors.
//
// The default value is true.
//
// This option can be changed at runtime.
func WithResetOnCriticalError(val bool) ConnOption {
	return newConnOptFunc("WithResetOnCriticalError", true, func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return ErrConnConfigNil
		}

		cfg.mu.Lock()
		cfg.resetOnCriticalError = val
		cfg.mu.Unlock()

		return nil
	})
}

// WithAutoRecovery enables or disables automatic execution of recovery
// actions. When disabled, failures are still classified and recorded but the
// operator drives recovery manually.
//
// The default value is true.
//
// This option can be changed at runtime.
func WithAutoRecovery(val bool) ConnOption {
	return newConnOptFunc("WithAutoRecovery", true, func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return ErrConnConfigNil
		}

		cfg.mu.Lock()
		cfg.autoRecovery = val
		cfg.mu.Unlock()

		return nil
	})
}

// WithHealthThresholds sets the error-pattern frequencies at which the health
// predictor warns about connection and command failures.
//
// The default values are 5 connection-class and 3 command-class events.
//
// This option can be changed at runtime.
func WithHealthThresholds(connection, command int) ConnOption {
	return newConnOptFunc("WithHealthThresholds", true, func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return ErrConnConfigNil
		}
		if connection < 1 || command < 1 {
			return errors.New("health thresholds must be positive")
		}

		cfg.mu.Lock()
		cfg.connErrorThreshold = connection
		cfg.commandErrorThreshold = command
		cfg.mu.Unlock()

		return nil
	})
}

// WithHealthSteps sets the degrade and recover step sizes for the health
// ratios. Both must be within (0, 1].
//
// The default values are 0.1 and 0.02.
//
// This option can be changed at runtime.
func WithHealthSteps(degrade, recovery float64) ConnOption {
	return newConnOptFunc("WithHealthSteps", true, func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return ErrConnConfigNil
		}
		if degrade <= 0 || degrade > 1 || recovery <= 0 || recovery > 1 {
			return errors.New("health steps out of range (0, 1]")
		}

		cfg.mu.Lock()
		cfg.healthDegradeStep = degrade
		cfg.healthRecoverStep = recovery
		cfg.mu.Unlock()

		return nil
	})
}

// WithHealthCheckInterval sets the period of the background health sweep.
// An error is returned if the interval is outside the valid range (10ms-10m).
//
// The default value is 30 seconds.
//
// This option can't be changed at runtime; it takes effect on Open.
func WithHealthCheckInterval(val time.Duration) ConnOption {
	return newConnOptFunc("WithHealthCheckInterval", false, func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return ErrConnConfigNil
		}
		if val < 10*time.Millisecond || val > 10*time.Minute {
			return errors.New("health check interval out of range [0.01, 600]")
		}

		cfg.healthCheckInterval = val

		return nil
	})
}

// WithLogger sets the logger for the connection.
//
// The default logger is the global logger instance.
//
// This option can't be changed at runtime.
func WithLogger(l logger.Logger) ConnOption {
	return newConnOptFunc("WithLogger", false, func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return ErrConnConfigNil
		}

		cfg.logger = l

		return nil
	})
}
