package autosave

import "time"

// Clock schedules delayed calls. Production code uses RealClock; tests
// inject a fake to fire timers deterministically.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer cancels a call scheduled by Clock.AfterFunc. Stop reports whether
// the call was prevented.
type Timer interface {
	Stop() bool
}

type realClock struct{}

func RealClock() Clock { return realClock{} }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
