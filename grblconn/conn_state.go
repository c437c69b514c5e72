package grblconn

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/thawkins/gcodekit/logger"
)

// ConnState represents the lifecycle stage of a controller connection.
type ConnState uint32

// Connection states.
const (
	// DisconnectedState indicates no transport is open.
	DisconnectedState ConnState = iota
	// ConnectingState indicates the transport is being opened.
	ConnectingState
	// ConnectedState indicates the transport is open and the controller is
	// answering.
	ConnectedState
	// ErrorState indicates the connection failed and no recovery is running.
	ErrorState
	// RecoveringState indicates the recovery policy is being executed.
	RecoveringState
)

// IsDisconnected returns if the current state is disconnected.
func (cs ConnState) IsDisconnected() bool { return cs == DisconnectedState }

// IsConnecting returns if the current state is connecting.
func (cs ConnState) IsConnecting() bool { return cs == ConnectingState }

// IsConnected returns if the current state is connected.
func (cs ConnState) IsConnected() bool { return cs == ConnectedState }

// IsError returns if the current state is the error state.
func (cs ConnState) IsError() bool { return cs == ErrorState }

// IsRecovering returns if the current state is recovering.
func (cs ConnState) IsRecovering() bool { return cs == RecoveringState }

// String returns string representation of the current state.
func (cs ConnState) String() string {
	switch cs {
	case DisconnectedState:
		return "disconnected"
	case ConnectingState:
		return "connecting"
	case ConnectedState:
		return "connected"
	case ErrorState:
		return "error"
	case RecoveringState:
		return "recovering"
	default:
		return "unknown"
	}
}

// ConnStateChangeHandler is a function type that represents a handler for
// connection state changes.
//
// Note: the handler will be invoked in a blocking mode. Take care with
// long-running implementations.
type ConnStateChangeHandler func(prevState ConnState, newState ConnState)

// ConnStateMgr manages the connection state of a controller connection.
//
// It provides methods for managing state transitions and notifying listeners
// of state changes. The state transitions are thread safe in concurrent
// environments.
type ConnStateMgr struct {
	mu       sync.Mutex
	cond     *sync.Cond
	state    atomic.Uint32
	logger   logger.Logger
	handlers []ConnStateChangeHandler
}

// NewConnStateMgr creates a new ConnStateMgr instance, initializing it to the
// DisconnectedState.
//
// It accepts optional ConnStateChangeHandler functions that will be invoked
// when the connection state changes.
func NewConnStateMgr(l logger.Logger, handlers ...ConnStateChangeHandler) *ConnStateMgr {
	mgr := &ConnStateMgr{
		logger:   l,
		handlers: make([]ConnStateChangeHandler, 0, len(handlers)),
	}

	if mgr.logger == nil {
		mgr.logger = logger.GetLogger()
	}

	mgr.handlers = append(mgr.handlers, handlers...)
	mgr.state.Store(uint32(DisconnectedState))
	mgr.cond = sync.NewCond(&mgr.mu)

	return mgr
}

// State returns the current connection state.
func (cs *ConnStateMgr) State() ConnState {
	return ConnState(cs.state.Load())
}

// AddHandler adds one or more ConnStateChangeHandler functions to be invoked
// on state changes.
func (cs *ConnStateMgr) AddHandler(handlers ...ConnStateChangeHandler) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.handlers = append(cs.handlers, handlers...)
}

// WaitState waits for the connection state to reach the specified state or
// until the context is done. It returns nil if the desired state is reached,
// or an error if the context is canceled or times out.
func (cs *ConnStateMgr) WaitState(ctx context.Context, state ConnState) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.State() == state {
		return nil
	}

	stopFunc := context.AfterFunc(ctx, func() {
		cs.cond.Broadcast()
	})
	defer stopFunc()

	for cs.State() != state {
		select {
		case <-ctx.Done():
			cs.logger.Debug("wait connection state canceled", "cur_state", cs.State(), "desired_state", state)
			return ctx.Err()
		default:
			cs.cond.Wait()
		}
	}

	return nil
}

// ToDisconnected transitions the connection state to DisconnectedState.
// This transition is allowed from any state and represents a closed or reset
// connection.
func (cs *ConnStateMgr) ToDisconnected() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	curState := cs.State()
	if curState == DisconnectedState {
		return
	}

	// change state before the handlers run so late readers observe the
	// disconnect immediately
	cs.setState(DisconnectedState)
	cs.invokeHandlers(curState, DisconnectedState)
}

// ToConnecting transitions the connection state to ConnectingState.
//
// This transition is allowed from the Disconnected, Error and Recovering
// states. If the state is already ConnectingState, the function is a no-op.
func (cs *ConnStateMgr) ToConnecting() error {
	return cs.transition(ConnectingState, DisconnectedState, ErrorState, RecoveringState)
}

// ToConnected transitions the connection state to ConnectedState.
//
// This transition is allowed from the Connecting and Recovering states and
// indicates the controller is answering. If the state is already
// ConnectedState, the function is a no-op.
func (cs *ConnStateMgr) ToConnected() error {
	return cs.transition(ConnectedState, ConnectingState, RecoveringState)
}

// ToError transitions the connection state to ErrorState.
// This transition is allowed from any state.
func (cs *ConnStateMgr) ToError() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	curState := cs.State()
	if curState == ErrorState {
		return
	}

	// change state before the handlers run so late readers observe the
	// failure immediately
	cs.setState(ErrorState)
	cs.invokeHandlers(curState, ErrorState)
}

// ToRecovering transitions the connection state to RecoveringState.
//
// This transition is allowed from the Connecting, Connected and Error states.
// If the state is already RecoveringState, the function is a no-op.
func (cs *ConnStateMgr) ToRecovering() error {
	return cs.transition(RecoveringState, ConnectingState, ConnectedState, ErrorState)
}

// transition moves to the desired state if the current state is one of the
// allowed source states. Reaching the desired state is always a no-op.
func (cs *ConnStateMgr) transition(desired ConnState, allowedFrom ...ConnState) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	curState := cs.State()
	if curState == desired {
		return nil
	}

	allowed := false
	for _, from := range allowedFrom {
		if curState == from {
			allowed = true
			break
		}
	}
	if !allowed {
		return ErrInvalidTransition
	}

	cs.invokeHandlers(curState, desired)
	// change state after all handlers finished
	cs.setState(desired)

	return nil
}

// setState atomically sets the current state to the newState. It also
// broadcasts a signal to any waiting goroutines.
func (cs *ConnStateMgr) setState(newState ConnState) {
	cs.state.Store(uint32(newState))
	cs.cond.Broadcast()
}

// invokeHandlers invokes all registered ConnStateChangeHandler functions with
// the previous and new states.
func (cs *ConnStateMgr) invokeHandlers(prevState ConnState, newState ConnState) {
	for _, handler := range cs.handlers {
		if handler != nil {
			handler(prevState, newState)
		}
	}
}
