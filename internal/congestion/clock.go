package congestion

import "time"

// Clock supplies the monotonic time used to stamp recovery epochs. Tests
// inject their own.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock used outside tests.
var SystemClock Clock = systemClock{}
