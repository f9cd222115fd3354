package stream

import "time"

// Timer is a cancellable one-shot timer handle.
type Timer interface {
	// Stop cancels the timer. Returns false if it already fired.
	Stop() bool
}

// Clock abstracts timer creation so tests can drive the reconnect schedule
// deterministically.
type Clock interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

// realClock is the production Clock backed by the time package.
type realClock struct{}

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return realTimer{time.AfterFunc(d, fn)}
}

type realTimer struct {
	t *time.Timer
}

func (t realTimer) Stop() bool {
	return t.t.Stop()
}
