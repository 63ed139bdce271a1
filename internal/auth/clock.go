package auth

import "time"

// Clock is the time source for expiry decisions. mock.MockClock satisfies it.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}
