package grbl

import (
	"fmt"
	"strconv"
	"strings"
)

// AckKind classifies a controller acknowledgement line.
type AckKind uint8

const (
	// AckOK is the bare "ok" acknowledgement.
	AckOK AckKind = iota
	// AckError is an "error:<code> - <text>" rejection.
	AckError
	// AckAlarm is an "ALARM:<code>" report.
	AckAlarm
	// AckMessage is a bracketed feedback message such as "[MSG:...]".
	AckMessage
)

// Ack is one classified acknowledgement line from the controller.
type Ack struct {
	Kind AckKind
	// Code carries the numeric error or alarm code, when present.
	Code int
	// Text carries the error text or the message body.
	Text string
}

// ParseAck classifies one controller reply line.
//
// Status telegrams are not acknowledgements; pass those to ParseStatus.
func ParseAck(line string) (Ack, error) {
	line = strings.TrimSpace(line)

	switch {
	case line == "ok":
		return Ack{Kind: AckOK}, nil

	case strings.HasPrefix(line, "error:"):
		body := strings.TrimPrefix(line, "error:")
		codeStr, text, _ := strings.Cut(body, " - ")
		code, err := strconv.Atoi(strings.TrimSpace(codeStr))
		if err != nil {
			// older firmware reports textual errors without a code
			return Ack{Kind: AckError, Text: strings.TrimSpace(body)}, nil
		}
		return Ack{Kind: AckError, Code: code, Text: strings.TrimSpace(text)}, nil

	case strings.HasPrefix(line, "ALARM:"):
		codeStr := strings.TrimPrefix(line, "ALARM:")
		code, err := strconv.Atoi(strings.TrimSpace(codeStr))
		if err != nil {
			return Ack{}, fmt.Errorf("%w: %q", ErrUnknownAck, line)
		}
		return Ack{Kind: AckAlarm, Code: code}, nil

	case strings.HasPrefix(line, "[MSG:") && strings.HasSuffix(line, "]"):
		return Ack{Kind: AckMessage, Text: line[5 : len(line)-1]}, nil

	default:
		return Ack{}, fmt.Errorf("%w: %q", ErrUnknownAck, line)
	}
}
