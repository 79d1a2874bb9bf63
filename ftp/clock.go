package ftp

import "time"

// TimeProvider abstracts time operations to enable deterministic listings.
// Long-format listings show the time of day for entries modified this year
// and the year otherwise, so tests need to pin "now".
type TimeProvider interface {
	// Now returns the current time.
	Now() time.Time
}

// DefaultTimeProvider implements TimeProvider using the system clock.
type DefaultTimeProvider struct{}

// Now returns the current system time.
func (DefaultTimeProvider) Now() time.Time {
	return time.Now()
}

// FixedTimeProvider always reports the same instant.
type FixedTimeProvider struct {
	Time time.Time
}

// Now returns the fixed time.
func (f FixedTimeProvider) Now() time.Time {
	return f.Time
}
