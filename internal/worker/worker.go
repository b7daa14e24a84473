// Package worker provides the thread primitive used by receive loops: a
// function run once on its own goroutine and joinable by its owner.
package worker

import (
	"time"
)

// Thread is a function running on its own goroutine.
type Thread struct {
	done chan struct{}
}

// New returns a thread that has not started yet. Storing it before Start
// lets the running function and anything it hands its owner to reach the
// thread.
func New() *Thread {
	return &Thread{done: make(chan struct{})}
}

// Start runs fn once on a new goroutine. It must be called exactly once.
func (t *Thread) Start(fn func()) {
	go func() {
		defer close(t.done)
		fn()
	}()
}

// Spawn runs fn once on a new goroutine.
func Spawn(fn func()) *Thread {
	t := New()
	t.Start(fn)
	return t
}

// Join blocks until the function returns. Calling Join again, or from
// several goroutines, is safe and returns once the function has returned.
func (t *Thread) Join() {
	<-t.done
}

// JoinTimeout waits at most d for the function to return and reports whether it did.
func (t *Thread) JoinTimeout(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-t.done:
		return true
	case <-timer.C:
		return false
	}
}

// Done returns a channel closed when the function returns.
func (t *Thread) Done() <-chan struct{} {
	return t.done
}

// Sleep suspends the calling goroutine for d.
func Sleep(d time.Duration) {
	time.Sleep(d)
}
