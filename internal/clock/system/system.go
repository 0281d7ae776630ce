// Package system provides the wall clock used to stamp responses and events.
package system

import "time"

// Clock reads the real time in UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Since returns the elapsed time since t.
func (Clock) Since(t time.Time) time.Duration {
	return time.Since(t)
}
