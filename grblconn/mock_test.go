package grblconn

import (
	"errors"
	"sync"
	"time"
)

// mockTransport is a scripted in-memory Transport. Written lines are recorded
// and fed to the script, whose returned lines become the pending replies.
type mockTransport struct {
	mu         sync.Mutex
	open       bool
	failOpens  int
	failWrites int
	writes     []string
	replies    []string
	script     func(written string) []string
}

var _ Transport = (*mockTransport)(nil)

func newMockTransport(script func(written string) []string) *mockTransport {
	return &mockTransport{script: script}
}

func (t *mockTransport) Open() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.failOpens > 0 {
		t.failOpens--
		return errors.New("mock device not present")
	}

	t.open = true

	return nil
}

func (t *mockTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.open = false

	return nil
}

func (t *mockTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.open
}

func (t *mockTransport) WriteLine(line string) error {
	return t.record(line)
}

func (t *mockTransport) WriteBytes(p []byte) error {
	return t.record(string(p))
}

func (t *mockTransport) record(written string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.open {
		return ErrTransportClosed
	}
	if t.failWrites > 0 {
		t.failWrites--
		return ErrTransportClosed
	}

	t.writes = append(t.writes, written)
	if t.script != nil {
		t.replies = append(t.replies, t.script(written)...)
	}

	return nil
}

func (t *mockTransport) ReadLine(_ time.Duration) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.open {
		return "", ErrTransportClosed
	}
	if len(t.replies) == 0 {
		return "", ErrReadTimeout
	}

	line := t.replies[0]
	t.replies = t.replies[1:]

	return line, nil
}

func (t *mockTransport) pushReply(lines ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.replies = append(t.replies, lines...)
}

func (t *mockTransport) writtenLines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, len(t.writes))
	copy(out, t.writes)

	return out
}

func (t *mockTransport) setFailOpens(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.failOpens = n
}

func (t *mockTransport) setFailWrites(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.failWrites = n
}
