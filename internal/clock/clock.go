// Package clock abstracts the current time so services can be tested
// against a pinned instant.
package clock

import "time"

type Clock interface {
	Now() time.Time
}

// NewSystem returns a clock backed by time.Now, normalized to UTC.
func NewSystem() Clock {
	return system{}
}

type system struct{}

func (system) Now() time.Time { return time.Now().UTC() }

// NewFixed returns a clock frozen at t. Tests use it to pin expiry and
// end-date comparisons.
func NewFixed(t time.Time) Clock {
	return fixed{at: t.UTC()}
}

type fixed struct {
	at time.Time
}

func (f fixed) Now() time.Time { return f.at }
