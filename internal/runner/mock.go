package runner

import (
	"context"
	"sync"
)

// MockCommandRunner is a test double for CommandRunner.
// Respond decides the outcome of each call; a nil Respond succeeds silently.
type MockCommandRunner struct {
	mu      sync.Mutex
	Calls   []Command
	Respond func(cmd Command) (Result, []byte, error)
}

// Run records the call and returns the configured result.
func (m *MockCommandRunner) Run(_ context.Context, cmd Command) (Result, error) {
	res, _, err := m.record(cmd)
	return res, err
}

// Output records the call and returns the configured output.
func (m *MockCommandRunner) Output(_ context.Context, cmd Command) ([]byte, error) {
	_, out, err := m.record(cmd)
	return out, err
}

func (m *MockCommandRunner) record(cmd Command) (Result, []byte, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, cmd)
	respond := m.Respond
	m.mu.Unlock()
	if respond == nil {
		return Result{}, nil, nil
	}
	return respond(cmd)
}

// CallLines returns every recorded command rendered as a string.
func (m *MockCommandRunner) CallLines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	lines := make([]string, 0, len(m.Calls))
	for _, c := range m.Calls {
		lines = append(lines, c.String())
	}
	return lines
}
