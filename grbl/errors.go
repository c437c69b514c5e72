package grbl

import "errors"

// Sentinel errors for status telegram parsing. Parse failures wrap one of
// these, so callers can classify with errors.Is.
var (
	// ErrInvalidFormat indicates the telegram is not wrapped in angle brackets.
	ErrInvalidFormat = errors.New("grbl: status telegram not wrapped in <>")

	// ErrEmptyResponse indicates an empty telegram ("<>").
	ErrEmptyResponse = errors.New("grbl: empty status telegram")

	// ErrInvalidMachinePosition indicates the MPos field is not 3 or 6
	// comma-separated floats.
	ErrInvalidMachinePosition = errors.New("grbl: invalid machine position")

	// ErrInvalidWorkPosition indicates the WPos field is not 3 or 6
	// comma-separated floats.
	ErrInvalidWorkPosition = errors.New("grbl: invalid work position")

	// ErrInvalidWorkOffset indicates the WCO field is not 3 comma-separated floats.
	ErrInvalidWorkOffset = errors.New("grbl: invalid work coordinate offset")

	// ErrInvalidFeedSpeed indicates the FS field is not a feed,speed float pair.
	ErrInvalidFeedSpeed = errors.New("grbl: invalid feed/speed pair")

	// ErrInvalidOverrides indicates the Ov field is not three integer percentages.
	ErrInvalidOverrides = errors.New("grbl: invalid override percentages")

	// ErrUnknownPinLetter indicates the Pn field contains a letter outside X,Y,Z,P,D,C,F.
	ErrUnknownPinLetter = errors.New("grbl: unknown pin letter")

	// ErrInvalidBufferCount indicates the Buf or Rx field is not an integer.
	ErrInvalidBufferCount = errors.New("grbl: invalid buffer count")

	// ErrInvalidLineNumber indicates the Line field is not an integer.
	ErrInvalidLineNumber = errors.New("grbl: invalid line number")
)

// Sentinel errors for acknowledgement classification.
var (
	// ErrUnknownAck indicates a reply line that is neither ok, error,
	// alarm nor a bracketed message.
	ErrUnknownAck = errors.New("grbl: unrecognized acknowledgement")

	// ErrUnknownFlavor indicates an unrecognized controller flavor name.
	ErrUnknownFlavor = errors.New("grbl: unknown controller flavor")
)
