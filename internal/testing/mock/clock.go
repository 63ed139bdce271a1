package mock

import (
	"sync"
	"time"
)

// Clock is a time source. It matches auth.Clock so a MockClock can drive
// both the mock provider and the session under test.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the system time.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// MockClock is a Clock that only moves when told to, so tests can cross
// token expiry and refresh windows without waiting.
type MockClock struct {
	mu      sync.RWMutex
	current time.Time
}

// NewMockClock creates a mock clock at t, or at the current time when t is zero.
func NewMockClock(t time.Time) *MockClock {
	if t.IsZero() {
		t = time.Now()
	}
	return &MockClock{current: t}
}

// Now returns the mock time.
func (m *MockClock) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Advance moves the clock forward by d.
func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = m.current.Add(d)
}

// Set moves the clock to t.
func (m *MockClock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = t
}
