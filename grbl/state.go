package grbl

import "strings"

// MachineState represents the controller activity state reported in the first
// field of a status telegram.
type MachineState uint8

// Machine states reported by GRBL-class controllers.
const (
	// StateIdle indicates the controller is idle and ready for commands.
	StateIdle MachineState = iota
	// StateRun indicates a job is executing.
	StateRun
	// StateHold indicates motion is paused by a feed hold.
	StateHold
	// StateJog indicates a jog motion is executing.
	StateJog
	// StateAlarm indicates the controller is locked out after a critical event.
	StateAlarm
	// StateDoor indicates the safety door is open.
	StateDoor
	// StateCheck indicates G-code check mode, no motion occurs.
	StateCheck
	// StateHome indicates a homing cycle is running.
	StateHome
	// StateSleep indicates the controller entered sleep mode.
	StateSleep
	// StateUnknown is reported for state tokens this package does not recognize.
	StateUnknown
)

var stateNames = map[string]MachineState{
	"Idle":  StateIdle,
	"Run":   StateRun,
	"Hold":  StateHold,
	"Jog":   StateJog,
	"Alarm": StateAlarm,
	"Door":  StateDoor,
	"Check": StateCheck,
	"Home":  StateHome,
	"Sleep": StateSleep,
}

// ParseMachineState maps a state token to a MachineState.
//
// Sub-state suffixes reported by v1.1 controllers (e.g. "Hold:0", "Door:1")
// are accepted; the token after the colon is ignored. Unrecognized tokens map
// to StateUnknown, never to an error.
func ParseMachineState(token string) MachineState {
	if idx := strings.IndexByte(token, ':'); idx >= 0 {
		token = token[:idx]
	}

	if state, ok := stateNames[token]; ok {
		return state
	}

	return StateUnknown
}

// String returns the canonical state token.
func (s MachineState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRun:
		return "Run"
	case StateHold:
		return "Hold"
	case StateJog:
		return "Jog"
	case StateAlarm:
		return "Alarm"
	case StateDoor:
		return "Door"
	case StateCheck:
		return "Check"
	case StateHome:
		return "Home"
	case StateSleep:
		return "Sleep"
	default:
		return "Unknown"
	}
}

// IsActive returns true while the machine is producing motion (Run or Jog).
// The status monitor shortens its poll interval in these states.
func (s MachineState) IsActive() bool {
	return s == StateRun || s == StateJog
}

// IsPaused returns true while the machine is waiting (Idle or Hold).
// The status monitor lengthens its poll interval in these states.
func (s MachineState) IsPaused() bool {
	return s == StateIdle || s == StateHold
}

// IsAlarm returns true for the states that indicate a critical condition
// (Alarm or an open safety door).
func (s MachineState) IsAlarm() bool {
	return s == StateAlarm || s == StateDoor
}
