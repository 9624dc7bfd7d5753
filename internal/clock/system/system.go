// Package system is the wall clock used outside tests.
package system

import "time"

// Clock satisfies pipeline.Clock. Times are UTC at microsecond precision so a
// record read back from Postgres compares equal to the one written.
type Clock struct{}

// New returns the wall clock.
func New() Clock {
	return Clock{}
}

// Now returns the current UTC time truncated to microseconds.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
