package grbl

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseStatus parses one real-time status telegram into a MachineStatus
// snapshot.
//
// The telegram must be wrapped in angle brackets. The content splits on '|';
// the first field is a bare state token, the remaining fields are KEY:VALUE
// pairs. Missing optional fields leave their zero defaults; unknown keys are
// ignored for forward compatibility with newer firmware.
//
// ParseStatus is total over arbitrary UTF-8 input: it returns either a
// snapshot or an error wrapping one of the package sentinel errors, and
// never panics.
func ParseStatus(text string) (*MachineStatus, error) {
	text = strings.TrimSpace(text)

	if len(text) < 2 || !strings.HasPrefix(text, "<") || !strings.HasSuffix(text, ">") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFormat, text)
	}

	content := text[1 : len(text)-1]
	if content == "" {
		return nil, ErrEmptyResponse
	}

	fields := strings.Split(content, "|")

	status := &MachineStatus{
		State:      ParseMachineState(fields[0]),
		CapturedAt: time.Now(),
	}

	for _, field := range fields[1:] {
		key, value, found := strings.Cut(field, ":")
		if !found {
			// tolerated for forward compatibility, same as unknown keys
			continue
		}

		if err := parseField(status, key, value); err != nil {
			return nil, err
		}
	}

	return status, nil
}

func parseField(status *MachineStatus, key, value string) error {
	switch key {
	case "MPos":
		pos, err := parsePosition(value, ErrInvalidMachinePosition)
		if err != nil {
			return err
		}
		status.MachinePos = pos

	case "WPos":
		pos, err := parsePosition(value, ErrInvalidWorkPosition)
		if err != nil {
			return err
		}
		status.WorkPos = pos
		status.HasWorkPos = true

	case "WCO":
		pos, err := parsePosition(value, ErrInvalidWorkOffset)
		if err != nil {
			return err
		}
		status.WorkOffset = pos
		status.HasWorkOffset = true

	case "FS":
		fs, err := parseFeedSpeed(value)
		if err != nil {
			return err
		}
		status.FeedSpeed = fs

	case "F":
		// v1.1 reports feed rate alone when the spindle is disabled
		feed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidFeedSpeed, value)
		}
		status.FeedSpeed.FeedRate = feed

	case "Ov":
		ov, err := parseOverrides(value)
		if err != nil {
			return err
		}
		status.Overrides = ov

	case "Pn":
		pins, err := parsePins(value)
		if err != nil {
			return err
		}
		status.Pins = pins

	case "Buf":
		count, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: Buf=%q", ErrInvalidBufferCount, value)
		}
		status.Buffer.PlannerCount = count

	case "Rx":
		count, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: Rx=%q", ErrInvalidBufferCount, value)
		}
		// the controller cannot report more than its receive buffer holds;
		// clamp instead of rejecting the whole telegram
		if count > RxBufferCapacity {
			count = RxBufferCapacity
		}
		if count < 0 {
			count = 0
		}
		status.Buffer.RxCount = count

	case "Line":
		line, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidLineNumber, value)
		}
		status.Line = line
		status.HasLine = true

	default:
		// unknown key, ignored for forward compatibility
	}

	return nil
}

// parsePosition parses 3 (linear) or 6 (linear plus rotary) comma-separated
// floats. The WCO field only ever carries 3 values, which the 3-float branch
// covers.
func parsePosition(value string, sentinel error) (Position, error) {
	parts := strings.Split(value, ",")
	if len(parts) != 3 && len(parts) != 6 {
		return Position{}, fmt.Errorf("%w: %q", sentinel, value)
	}

	coords := make([]float64, len(parts))
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return Position{}, fmt.Errorf("%w: %q", sentinel, value)
		}
		coords[i] = f
	}

	pos := Position{X: coords[0], Y: coords[1], Z: coords[2]}
	if len(coords) == 6 {
		pos.A, pos.HasA = coords[3], true
		pos.B, pos.HasB = coords[4], true
		pos.C, pos.HasC = coords[5], true
	}

	return pos, nil
}

func parseFeedSpeed(value string) (FeedSpeed, error) {
	feedStr, speedStr, found := strings.Cut(value, ",")
	if !found {
		return FeedSpeed{}, fmt.Errorf("%w: %q", ErrInvalidFeedSpeed, value)
	}

	feed, err := strconv.ParseFloat(feedStr, 64)
	if err != nil {
		return FeedSpeed{}, fmt.Errorf("%w: %q", ErrInvalidFeedSpeed, value)
	}

	speed, err := strconv.ParseFloat(speedStr, 64)
	if err != nil {
		return FeedSpeed{}, fmt.Errorf("%w: %q", ErrInvalidFeedSpeed, value)
	}

	return FeedSpeed{FeedRate: feed, SpindleSpeed: speed}, nil
}

func parseOverrides(value string) (OverrideState, error) {
	parts := strings.Split(value, ",")
	if len(parts) != 3 {
		return OverrideState{}, fmt.Errorf("%w: %q", ErrInvalidOverrides, value)
	}

	vals := make([]int, 3)
	for i, part := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return OverrideState{}, fmt.Errorf("%w: %q", ErrInvalidOverrides, value)
		}
		vals[i] = v
	}

	return NewOverrideState(vals[0], vals[1], vals[2]), nil
}

func parsePins(value string) (PinStates, error) {
	var pins PinStates

	for _, letter := range value {
		switch letter {
		case 'X':
			pins.LimitX = true
		case 'Y':
			pins.LimitY = true
		case 'Z':
			pins.LimitZ = true
		case 'P':
			pins.Probe = true
		case 'D':
			pins.Door = true
		case 'C':
			pins.CycleStart = true
		case 'F':
			pins.FeedHold = true
		default:
			return PinStates{}, fmt.Errorf("%w: %q in %q", ErrUnknownPinLetter, string(letter), value)
		}
	}

	return pins, nil
}
