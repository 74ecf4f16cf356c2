package clock

import "time"

// FakeClock is a Clock frozen at one instant, for tests.
type FakeClock struct {
	now time.Time
}

func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{now: t.UTC()}
}

func (c *FakeClock) Now() time.Time {
	return c.now
}

var _ Clock = (*FakeClock)(nil)
