package grbl

import "fmt"

// Realtime control bytes shared by the GRBL protocol family.
const (
	// RealtimeStatusQuery requests a status telegram. Deliberately excluded
	// from traffic logging.
	RealtimeStatusQuery byte = '?'
	// RealtimeFeedHold pauses motion.
	RealtimeFeedHold byte = '!'
	// RealtimeCycleStart resumes motion after a hold.
	RealtimeCycleStart byte = '~'
	// RealtimeSoftReset reinitializes the controller without a power cycle.
	RealtimeSoftReset byte = 0x18
)

// Flavor identifies the controller firmware dialect. The set is closed;
// behavior differences are dispatched by switch, not by plugins.
type Flavor uint8

const (
	// FlavorGrbl is stock GRBL v1.0/v1.1.
	FlavorGrbl Flavor = iota
	// FlavorSmoothieware is Smoothieware in GRBL-compatibility mode.
	FlavorSmoothieware
	// FlavorTinyG is TinyG with JSON status reports.
	FlavorTinyG
	// FlavorG2core is G2core, protocol-compatible with TinyG.
	FlavorG2core
	// FlavorFluidNC is FluidNC, a GRBL v1.1 superset.
	FlavorFluidNC
)

// ParseFlavor maps a flavor name to a Flavor.
func ParseFlavor(name string) (Flavor, error) {
	switch name {
	case "grbl", "Grbl":
		return FlavorGrbl, nil
	case "smoothieware", "Smoothieware":
		return FlavorSmoothieware, nil
	case "tinyg", "TinyG":
		return FlavorTinyG, nil
	case "g2core", "G2core":
		return FlavorG2core, nil
	case "fluidnc", "FluidNC":
		return FlavorFluidNC, nil
	default:
		return FlavorGrbl, fmt.Errorf("%w: %q", ErrUnknownFlavor, name)
	}
}

// String returns the canonical flavor name.
func (f Flavor) String() string {
	switch f {
	case FlavorGrbl:
		return "Grbl"
	case FlavorSmoothieware:
		return "Smoothieware"
	case FlavorTinyG:
		return "TinyG"
	case FlavorG2core:
		return "G2core"
	case FlavorFluidNC:
		return "FluidNC"
	default:
		return "Grbl"
	}
}

// StatusQuery returns the bytes that request a status report from the
// controller. The GRBL family uses the single '?' realtime byte; TinyG and
// G2core expect a JSON status-report request line.
func (f Flavor) StatusQuery() []byte {
	switch f {
	case FlavorTinyG, FlavorG2core:
		return []byte("{\"sr\":null}\n")
	default:
		return []byte{RealtimeStatusQuery}
	}
}

// HoldCommand returns the realtime feed-hold byte.
func (f Flavor) HoldCommand() byte { return RealtimeFeedHold }

// ResumeCommand returns the realtime cycle-start byte.
func (f Flavor) ResumeCommand() byte { return RealtimeCycleStart }

// ResetCommand returns the realtime soft-reset byte.
func (f Flavor) ResetCommand() byte { return RealtimeSoftReset }

// HomeCommand returns the homing cycle command line, without terminator.
func (f Flavor) HomeCommand() string {
	switch f {
	case FlavorSmoothieware:
		return "$H"
	case FlavorTinyG, FlavorG2core:
		return "G28.2 X0 Y0 Z0"
	default:
		return "$H"
	}
}

// SettingsDumpCommand returns the command line that dumps controller settings.
func (f Flavor) SettingsDumpCommand() string { return "$$" }
