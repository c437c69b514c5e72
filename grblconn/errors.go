package grblconn

import "errors"

var (
	// ErrConnConfigNil indicates that a nil ConnectionConfig was provided.
	ErrConnConfigNil = errors.New("grblconn: connection config is nil")

	// ErrTransportClosed indicates an operation on a closed transport.
	ErrTransportClosed = errors.New("grblconn: transport closed")

	// ErrReadTimeout indicates no complete reply line arrived within the
	// bounded wait. It counts toward parse-retry and command-failure
	// escalation rather than forming its own recovery class.
	ErrReadTimeout = errors.New("grblconn: read timeout")

	// ErrNotConnected indicates the connection is not in the Connected state.
	ErrNotConnected = errors.New("grblconn: not connected")

	// ErrCommandRejected indicates the controller answered a command with an
	// error acknowledgement.
	ErrCommandRejected = errors.New("grblconn: command rejected")

	// ErrCommandTimeout indicates the controller did not acknowledge a
	// command within the bounded wait.
	ErrCommandTimeout = errors.New("grblconn: command unacknowledged")

	// ErrAlarmReported indicates the controller reported an alarm while a
	// command was waiting for its acknowledgement.
	ErrAlarmReported = errors.New("grblconn: controller alarm")

	// ErrNoInterruptedJob indicates a resume was requested but no interrupted
	// line has been recorded.
	ErrNoInterruptedJob = errors.New("grblconn: no interrupted job recorded")
)

var (
	// ErrInvalidTransition is returned when an attempt is made to transition
	// the connection state to an invalid state.
	ErrInvalidTransition = errors.New("grblconn: invalid state transition")
)
