package nvmeqd

import (
	"sync"

	"github.com/nvmeqd/nvmeqd/internal/nvme"
	"github.com/nvmeqd/nvmeqd/internal/transport"
)

// MockTransport provides a mock implementation of transport.Transport for
// testing. It counts Submit and Poll calls, keeps the most recently
// submitted command, and lets tests script the completion status or
// error returned for the next submission; Reset clears all of it.
type MockTransport struct {
	mu sync.Mutex

	submitCalls int
	pollCalls   int
	lastCmd     nvme.Command
	lastBuf     []byte

	forcedErr    error
	forcedStatus *uint16

	pending []func(*nvme.Completion)
}

// NewMockTransport creates a new mock transport.
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

// Submit implements transport.Transport. It does not execute the command
// against any backing store; it defers the completion callback until the
// next Poll, scripted with whatever ForceNextStatus/ForceNextError set.
func (m *MockTransport) Submit(qpairID int, cmd *nvme.Command, buf []byte, cb func(*nvme.Completion)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.submitCalls++
	m.lastCmd = *cmd
	m.lastBuf = buf

	if m.forcedErr != nil {
		err := m.forcedErr
		m.forcedErr = nil
		return err
	}

	status := uint16(0)
	if m.forcedStatus != nil {
		status = *m.forcedStatus
		m.forcedStatus = nil
	}

	if cb != nil {
		m.pending = append(m.pending, func(cpl *nvme.Completion) {
			cpl.Status = status
			cb(cpl)
		})
	}

	return nil
}

// Poll implements transport.Transport, draining up to max deferred
// completions queued by Submit.
func (m *MockTransport) Poll(qpairID int, max int) (int, error) {
	m.mu.Lock()
	m.pollCalls++

	n := len(m.pending)
	if n > max {
		n = max
	}
	batch := m.pending[:n]
	m.pending = m.pending[n:]
	m.mu.Unlock()

	for _, fn := range batch {
		cpl := &nvme.Completion{}
		fn(cpl)
	}

	return n, nil
}

// ForceNextStatus arranges for the next submitted command's completion to
// carry the given status instead of success.
func (m *MockTransport) ForceNextStatus(status uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forcedStatus = &status
}

// ForceNextError arranges for the next call to Submit to return err
// instead of enqueuing a completion.
func (m *MockTransport) ForceNextError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forcedErr = err
}

// SubmitCalls returns the number of times Submit has been called.
func (m *MockTransport) SubmitCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submitCalls
}

// PollCalls returns the number of times Poll has been called.
func (m *MockTransport) PollCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pollCalls
}

// LastCommand returns the most recently submitted command.
func (m *MockTransport) LastCommand() nvme.Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCmd
}

// Reset clears all call counters and scripted behavior.
func (m *MockTransport) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.submitCalls = 0
	m.pollCalls = 0
	m.lastCmd = nvme.Command{}
	m.lastBuf = nil
	m.forcedErr = nil
	m.forcedStatus = nil
	m.pending = nil
}

var _ transport.Transport = (*MockTransport)(nil)
