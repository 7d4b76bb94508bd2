package host

import (
	"context"
	"sync"
)

// DefaultLoopDepth is the number of events a Loop buffers before Post blocks
const DefaultLoopDepth = 64

// Loop executes posted functions one at a time on a single goroutine. It
// is the one execution context in which an engine calls into the core.
type Loop struct {
	events   chan func()
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewLoop creates a loop buffering up to depth events
func NewLoop(depth int) *Loop {
	if depth <= 0 {
		depth = DefaultLoopDepth
	}
	return &Loop{
		events:  make(chan func(), depth),
		stopped: make(chan struct{}),
	}
}

// Post queues fn. It returns false if the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.stopped:
		return false
	default:
	}
	select {
	case l.events <- fn:
		return true
	case <-l.stopped:
		return false
	}
}

// Call runs fn on the loop and waits for it to finish. It must not be
// called from the loop goroutine.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrNotRunning
	}
	select {
	case <-done:
		return nil
	case <-l.stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes queued events until ctx is done. Events still queued when
// ctx ends are dropped.
func (l *Loop) Run(ctx context.Context) error {
	defer l.stopOnce.Do(func() { close(l.stopped) })
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.events:
			fn()
		}
	}
}

// Done is closed once Run has returned
func (l *Loop) Done() <-chan struct{} {
	return l.stopped
}
