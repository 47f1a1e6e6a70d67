package stats

import (
	"sync"

	"github.com/stretchr/testify/mock"
)

// MockStatsUpdater records expectations like any testify mock and also
// keeps the running value of every counter, so tests can assert on the
// net effect of a sequence of updates.
type MockStatsUpdater struct {
	mock.Mock

	mu     sync.Mutex
	values map[string]int
}

func (m *MockStatsUpdater) add(name string, delta int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.values == nil {
		m.values = make(map[string]int)
	}
	m.values[name] += delta
}

// Value returns the current value of the named counter.
func (m *MockStatsUpdater) Value(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.values[name]
}

func (m *MockStatsUpdater) Incr(name string) {
	m.Called(name)
	m.add(name, 1)
}

func (m *MockStatsUpdater) Decr(name string) {
	m.Called(name)
	m.add(name, -1)
}

func (m *MockStatsUpdater) RegisterMetric(name string) {
	m.Called(name)
	m.add(name, 0)
}

func (m *MockStatsUpdater) Run() {
	m.Called()
}
