// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock implements thumbnail.Clock. Readings are UTC and truncated to the
// millisecond, the precision captured_at keeps in events and project rows.
type Clock struct {
	now func() time.Time
}

// New returns a Clock reading time.Now.
func New() *Clock {
	return &Clock{now: time.Now}
}

// Now returns the current time.
func (c *Clock) Now() time.Time {
	return c.now().UTC().Truncate(time.Millisecond)
}
