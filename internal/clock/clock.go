package clock

import (
	"sync"
	"time"
)

// Clock abstracts wall-clock access so components can be driven by a mock
// in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is a Clock backed by the real system time.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// SystemClockDefault is the Clock used when a component is not given one.
var SystemClockDefault Clock = SystemClock{}

// MockClock is a manually advanced Clock for deterministic tests.
type MockClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockClock creates a MockClock starting at the given instant.
func NewMockClock(start time.Time) *MockClock {
	return &MockClock{now: start}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the mock clock forward by d.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
