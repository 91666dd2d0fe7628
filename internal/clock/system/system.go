// Package system provides the wall clock used outside tests.
package system

import "time"

// DefaultPrecision matches the microsecond resolution of Postgres timestamps,
// so times read back from the site store compare equal to the ones written.
const DefaultPrecision = time.Microsecond

// Clock implements crawler.Clock.
type Clock struct {
	precision time.Duration
	now       func() time.Time
}

// New creates a Clock truncating to DefaultPrecision.
func New() *Clock {
	return &Clock{precision: DefaultPrecision, now: time.Now}
}

// WithPrecision returns a copy of c truncating to d. A non-positive d disables
// truncation.
func (c *Clock) WithPrecision(d time.Duration) *Clock {
	return &Clock{precision: d, now: c.now}
}

// Now returns the current UTC time.
func (c *Clock) Now() time.Time {
	t := c.now().UTC()
	if c.precision > 0 {
		t = t.Truncate(c.precision)
	}
	return t
}
