package mpc

import "time"

// Clock supplies wall time for delay measurement.
type Clock interface {
	Now() time.Time
}

// WallClock reads the system time.
type WallClock struct{}

func (WallClock) Now() time.Time { return time.Now() }
