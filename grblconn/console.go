package grblconn

import (
	"strings"
	"sync"
	"time"

	"github.com/thawkins/gcodekit/internal/ring"
)

// Severity classifies a console message.
type Severity uint8

const (
	// SeverityInfo marks ordinary traffic and feedback messages.
	SeverityInfo Severity = iota
	// SeverityWarning marks recovery activity and degraded health.
	SeverityWarning
	// SeverityError marks rejected commands, alarms and failures.
	SeverityError
)

// String returns the severity name.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// MessageType classifies the origin of a console message.
type MessageType uint8

const (
	// MessageCommand is an outbound command line.
	MessageCommand MessageType = iota
	// MessageResponse is an inbound controller reply.
	MessageResponse
	// MessageTrace is an internal event such as a recovery action.
	MessageTrace
)

// ConsoleMessage is one entry of the traffic log.
type ConsoleMessage struct {
	Timestamp time.Time
	Severity  Severity
	Type      MessageType
	Content   string
	// Visible records whether the message's severity was in the active set
	// at ingestion time.
	Visible bool
}

// ConsoleLog is a capacity-bounded, append-only record of the
// command/response traffic. The oldest entry is dropped on overflow.
//
// Ingestion filters the polling noise: the status query "?" and the bare
// "ok" acknowledgement never enter the log. A separately settable
// active-severity set controls what Filtered surfaces without discarding
// history.
//
// ConsoleLog is safe for concurrent use.
type ConsoleLog struct {
	mu     sync.Mutex
	buf    *ring.Buffer[ConsoleMessage]
	active map[Severity]bool
}

// NewConsoleLog creates a ConsoleLog with the given capacity.
func NewConsoleLog(capacity int) *ConsoleLog {
	return &ConsoleLog{
		buf: ring.New[ConsoleMessage](capacity, true),
		active: map[Severity]bool{
			SeverityInfo:    true,
			SeverityWarning: true,
			SeverityError:   true,
		},
	}
}

// AddCommand records an outbound command line. The status query "?" is
// dropped; it would drown the log at poll rate.
func (l *ConsoleLog) AddCommand(cmd string) {
	if strings.TrimSpace(cmd) == "?" {
		return
	}

	l.add(SeverityInfo, MessageCommand, cmd)
}

// AddResponse records an inbound controller reply. The bare "ok"
// acknowledgement is dropped; error and alarm replies are recorded with
// Error severity.
func (l *ConsoleLog) AddResponse(resp string) {
	trimmed := strings.TrimSpace(resp)
	if trimmed == "ok" {
		return
	}

	severity := SeverityInfo
	switch {
	case strings.HasPrefix(trimmed, "error:"), strings.HasPrefix(trimmed, "ALARM:"):
		severity = SeverityError
	case strings.HasPrefix(trimmed, "[MSG:"), strings.HasPrefix(trimmed, "$"):
		severity = SeverityInfo
	}

	l.add(severity, MessageResponse, resp)
}

// AddTrace records an internal event with the given severity.
func (l *ConsoleLog) AddTrace(severity Severity, content string) {
	l.add(severity, MessageTrace, content)
}

func (l *ConsoleLog) add(severity Severity, msgType MessageType, content string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf.Push(ConsoleMessage{
		Timestamp: time.Now(),
		Severity:  severity,
		Type:      msgType,
		Content:   content,
		Visible:   l.active[severity],
	})
}

// SetActiveSeverities replaces the active-severity set. History is kept;
// only what Filtered surfaces changes.
func (l *ConsoleLog) SetActiveSeverities(severities ...Severity) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.active = make(map[Severity]bool, len(severities))
	for _, s := range severities {
		l.active[s] = true
	}
}

// All returns every retained message, oldest first.
func (l *ConsoleLog) All() []ConsoleMessage {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.buf.Snapshot()
}

// Filtered returns the retained messages whose severity is in the current
// active set, oldest first.
func (l *ConsoleLog) Filtered() []ConsoleMessage {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []ConsoleMessage
	for i := 0; i < l.buf.Len(); i++ {
		msg := l.buf.At(i)
		if l.active[msg.Severity] {
			out = append(out, msg)
		}
	}

	return out
}

// CountBySeverity returns the number of retained messages with the given
// severity.
func (l *ConsoleLog) CountBySeverity(severity Severity) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := 0
	for i := 0; i < l.buf.Len(); i++ {
		if l.buf.At(i).Severity == severity {
			count++
		}
	}

	return count
}

// Total returns the number of retained messages.
func (l *ConsoleLog) Total() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.buf.Len()
}

// Clear drops all retained messages.
func (l *ConsoleLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf.Reset()
}
