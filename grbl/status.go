package grbl

import (
	"math"
	"time"
)

// Controller buffer capacities used for fill-percentage derivation and for
// clamping the Rx counter. These match the stock GRBL v1.1 build.
const (
	// PlannerBufferCapacity is the number of planner blocks in the
	// controller's look-ahead queue.
	PlannerBufferCapacity = 35
	// RxBufferCapacity is the size of the controller's serial receive buffer
	// in bytes.
	RxBufferCapacity = 128
)

// Position holds machine coordinates: three mandatory linear axes in
// millimeters and up to three optional rotary axes in degrees.
type Position struct {
	X float64
	Y float64
	Z float64

	// Rotary axes, valid only when the corresponding Has flag is set.
	A float64
	B float64
	C float64

	HasA bool
	HasB bool
	HasC bool
}

// DistanceTo returns the Euclidean distance between the linear coordinates of
// p and other. Rotary axes do not participate.
func (p Position) DistanceTo(other Position) float64 {
	dx := other.X - p.X
	dy := other.Y - p.Y
	dz := other.Z - p.Z

	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// FeedSpeed holds the current feed rate in mm/min and the spindle speed in
// RPM (or laser intensity in percent, depending on machine configuration).
type FeedSpeed struct {
	FeedRate     float64
	SpindleSpeed float64
}

// OverrideState holds the three override percentage multipliers reported by
// the controller. Each value is within [0, 200].
type OverrideState struct {
	Feed    int
	Spindle int
	Coolant int
}

// NewOverrideState creates an OverrideState, clamping each value into the
// valid [0, 200] range.
func NewOverrideState(feed, spindle, coolant int) OverrideState {
	return OverrideState{
		Feed:    clampOverride(feed),
		Spindle: clampOverride(spindle),
		Coolant: clampOverride(coolant),
	}
}

func clampOverride(v int) int {
	if v < 0 {
		return 0
	}
	if v > 200 {
		return 200
	}
	return v
}

// BufferState holds the planner-queue and receive-buffer fill counts from the
// Buf and Rx telegram fields.
type BufferState struct {
	// PlannerCount is the number of occupied planner blocks.
	PlannerCount int
	// RxCount is the number of occupied bytes in the serial receive buffer,
	// clamped to RxBufferCapacity.
	RxCount int
}

// FillPercent returns the planner-queue fill level in percent.
func (b BufferState) FillPercent() float64 {
	return float64(b.PlannerCount) / float64(PlannerBufferCapacity) * 100.0
}

// RxFillPercent returns the receive-buffer fill level in percent.
func (b BufferState) RxFillPercent() float64 {
	return float64(b.RxCount) / float64(RxBufferCapacity) * 100.0
}

// PinStates holds the input pin flags from the Pn telegram field.
type PinStates struct {
	Probe      bool
	LimitX     bool
	LimitY     bool
	LimitZ     bool
	Door       bool
	CycleStart bool
	FeedHold   bool
}

// HasAlarm returns true if any limit pin or the door pin is set.
func (p PinStates) HasAlarm() bool {
	return p.LimitX || p.LimitY || p.LimitZ || p.Door
}

// FeedbackMetrics holds job line counters derived from the status stream and
// the job subsystem.
type FeedbackMetrics struct {
	QueuedLines    int
	RemainingLines int
	CompletedLines int
}

// ProgressPercent returns the job completion in percent, 0 when no lines are
// tracked.
func (f FeedbackMetrics) ProgressPercent() float64 {
	total := f.CompletedLines + f.RemainingLines
	if total <= 0 {
		return 0
	}

	return float64(f.CompletedLines) / float64(total) * 100.0
}

// MachineStatus is one immutable controller snapshot created by the status
// telegram parser. All fields are value types; treat instances as read-only
// after creation.
type MachineStatus struct {
	State MachineState

	// MachinePos is the absolute machine position (MPos).
	MachinePos Position
	// WorkPos is the work coordinate position (WPos), valid when HasWorkPos
	// is set.
	WorkPos    Position
	HasWorkPos bool
	// WorkOffset is the work coordinate offset (WCO), valid when
	// HasWorkOffset is set.
	WorkOffset    Position
	HasWorkOffset bool

	FeedSpeed FeedSpeed
	Overrides OverrideState
	Buffer    BufferState
	Pins      PinStates

	// Line is the executing G-code line number from the Line field, valid
	// when HasLine is set.
	Line    int
	HasLine bool

	Feedback FeedbackMetrics

	// CapturedAt is the local capture timestamp assigned at parse time.
	// Within one status monitor instance it is monotonically non-decreasing.
	CapturedAt time.Time
}

// Equal reports whether two snapshots carry the same controller data,
// ignoring the capture timestamp.
func (s *MachineStatus) Equal(other *MachineStatus) bool {
	if s == nil || other == nil {
		return s == other
	}

	a := *s
	b := *other
	a.CapturedAt = time.Time{}
	b.CapturedAt = time.Time{}

	return a == b
}
