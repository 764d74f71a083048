// Package clock abstracts time operations so that timeout- and
// debounce-driven code can be tested without real sleeps.
//
// Every production function that would otherwise call time.Now,
// time.After, time.AfterFunc, or time.Sleep directly accepts a Clock
// instead. Production code injects Real(); tests inject Fake() and
// drive it explicitly with Advance.
package clock

import "time"

// Clock abstracts the subset of time operations tuick's core needs:
// the checker runner's soft/hard termination timeout and the watcher
// driver's debounce timer.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once
	// duration d elapses. Equivalent to time.After.
	After(d time.Duration) <-chan time.Time

	// AfterFunc waits for duration d, then calls f in its own
	// goroutine (Real) or synchronously during Advance (Fake).
	// Returns a Timer that can cancel the pending call with Stop.
	AfterFunc(d time.Duration, f func()) *Timer

	// Sleep pauses the calling goroutine for at least duration d.
	Sleep(d time.Duration)
}

// Timer represents a scheduled AfterFunc callback.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the Timer from firing. Returns true if the call stops
// the timer, false if it already fired or was already stopped.
func (t *Timer) Stop() bool { return t.stopFunc() }
