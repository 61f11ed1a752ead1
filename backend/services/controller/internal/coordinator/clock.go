package coordinator

import "time"

// Clock schedules one-shot timers. The coordinator's completion timer runs on
// it so tests use a manual clock instead of real sleeps. Timers are not
// persisted: a controller restart during a pour loses the timer, and the
// hardware-level duration bound is what still stops the physical pulse.
type Clock interface {
	AfterFunc(d time.Duration, fn func())
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, fn func()) {
	time.AfterFunc(d, fn)
}

// NewRealClock returns a Clock backed by time.AfterFunc.
func NewRealClock() Clock {
	return realClock{}
}
