package application

import "time"

// Clock abstracts time.Now so run timestamps and anchor times can be fixed
// in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
