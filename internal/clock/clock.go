package clock

import (
	"sync"
	"time"
)

// Clock abstracts time operations for testability.
type Clock interface {
	Now() time.Time
}

// Real is a Clock backed by the system clock.
type Real struct{}

// Now returns the current time.
func (Real) Now() time.Time { return time.Now() }

// Mock is a Clock that always returns a fixed time.
type Mock struct {
	T time.Time
}

// Now returns the fixed time.
func (m Mock) Now() time.Time { return m.T }

// Step is a Clock that starts at T and moves forward by Every on each call.
// It is safe for concurrent use.
type Step struct {
	mu    sync.Mutex
	T     time.Time
	Every time.Duration
}

// Now returns the current time and advances the clock.
func (s *Step) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.T
	s.T = s.T.Add(s.Every)
	return now
}

// Advance moves the clock forward by d without reading it.
func (s *Step) Advance(d time.Duration) {
	s.mu.Lock()
	s.T = s.T.Add(d)
	s.mu.Unlock()
}
