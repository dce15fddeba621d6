package forwarder

import (
	"context"
	"errors"
	"sync"
)

// ErrLoopClosed is returned by Post once the loop has stopped.
var ErrLoopClosed = errors.New("forwarder: loop closed")

type task struct {
	fn   func()
	done chan struct{}
}

// Loop runs posted tasks one at a time, in post order, on a single goroutine.
// State owned by the loop (such as a Queue written by a LoopForwarder) must
// only be touched from tasks it runs.
type Loop struct {
	tasks     chan task
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
}

func NewLoop(backlog int) *Loop {
	if backlog <= 0 {
		backlog = 1
	}
	return &Loop{
		tasks: make(chan task, backlog),
		done:  make(chan struct{}),
	}
}

// Run executes tasks until ctx is cancelled or Close is called. Tasks still
// pending at that point are skipped, but their completion channels are closed.
func (l *Loop) Run(ctx context.Context) error {
	defer l.Close()
	for {
		// Stopping wins over pending work.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return nil
		default:
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return nil
		case t := <-l.tasks:
			l.exec(t)
		}
	}
}

func (l *Loop) exec(t task) {
	defer close(t.done)
	t.fn()
}

// Post schedules fn on the loop goroutine. It blocks while the backlog is
// full and the loop is still running.
func (l *Loop) Post(fn func()) (<-chan struct{}, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	select {
	case <-l.done:
		return nil, ErrLoopClosed
	default:
	}

	t := task{fn: fn, done: make(chan struct{})}
	select {
	case l.tasks <- t:
		return t.done, nil
	case <-l.done:
		return nil, ErrLoopClosed
	}
}

// Close stops the loop and releases waiters on tasks that never ran, whether
// or not Run was started. It is safe to call more than once.
func (l *Loop) Close() {
	l.closeOnce.Do(func() { close(l.done) })
	l.drain()
}

func (l *Loop) drain() {
	// Wait for in-flight Posts; later ones observe done and bail out.
	l.mu.Lock()
	defer l.mu.Unlock()
	for {
		select {
		case t := <-l.tasks:
			close(t.done)
		default:
			return
		}
	}
}
