package accounting

import "time"

type Clock interface {
	Now() time.Time
}

// SystemClock reads wall time in the institution's time zone so that the
// grant year flips at local midnight on January 1.
type SystemClock struct {
	loc *time.Location
}

func NewSystemClock(loc *time.Location) SystemClock {
	if loc == nil {
		loc = time.UTC
	}
	return SystemClock{loc: loc}
}

func (c SystemClock) Now() time.Time {
	return time.Now().In(c.loc)
}

func (c SystemClock) Location() *time.Location {
	return c.loc
}

func CurrentYear(c Clock) int {
	return c.Now().Year()
}
