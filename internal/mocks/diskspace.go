package mocks

import (
	"github.com/mcdonaldj/spacebak/internal/ports"
)

// MockSpaceOracle implements ports.SpaceOracle for testing.
// When FS is set, free space grows by every byte removed from it, so
// pruning loops observe the effect of their deletions.
type MockSpaceOracle struct {
	Total uint64
	Free  uint64
	FS    *MockFileSystem
	// Err is returned once FailAfter successful calls have been made
	Err       error
	FailAfter int
	// Calls records the path of every Usage call
	Calls []string
}

// NewMockSpaceOracle creates a mock reporting the given total and free bytes.
func NewMockSpaceOracle(total, free uint64) *MockSpaceOracle {
	return &MockSpaceOracle{Total: total, Free: free}
}

// Usage returns the simulated reading for path.
func (m *MockSpaceOracle) Usage(path string) (ports.Usage, error) {
	m.Calls = append(m.Calls, path)
	if m.Err != nil && len(m.Calls) > m.FailAfter {
		return ports.Usage{}, m.Err
	}

	free := m.Free
	if m.FS != nil {
		free += m.FS.FreedBytes
	}
	if free > m.Total {
		free = m.Total
	}
	return ports.Usage{
		Total: m.Total,
		Used:  m.Total - free,
		Free:  free,
	}, nil
}

// Compile-time check that MockSpaceOracle implements ports.SpaceOracle.
var _ ports.SpaceOracle = (*MockSpaceOracle)(nil)
