package engine

import "time"

// Clock supplies the wall-clock time stamped on planned writes.
// Implemented by SystemClock (production) and testutil.Clock (tests).
type Clock interface {
	Now() time.Time
}

// SystemClock reads the system time in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
