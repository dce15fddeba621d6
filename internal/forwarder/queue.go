package forwarder

import (
	"context"
	"errors"
	"time"
)

// ErrQueueFull is returned by Put when the queue stays at capacity.
var ErrQueueFull = errors.New("forwarder: speech queue is full")

// Queue is a bounded, ordered queue of speech messages.
type Queue struct {
	ch chan string
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan string, capacity)}
}

// Put appends msg. With wait <= 0 it never blocks; otherwise it waits up to
// wait for room. ErrQueueFull is returned when no room became available.
func (q *Queue) Put(ctx context.Context, msg string, wait time.Duration) error {
	if wait <= 0 {
		select {
		case q.ch <- msg:
			return nil
		default:
			return ErrQueueFull
		}
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case q.ch <- msg:
		return nil
	case <-timer.C:
		return ErrQueueFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get removes the oldest message, blocking until one is available.
func (q *Queue) Get(ctx context.Context) (string, error) {
	select {
	case msg := <-q.ch:
		return msg, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// C exposes the receive side for consumers that select on it.
func (q *Queue) C() <-chan string {
	return q.ch
}

func (q *Queue) Len() int {
	return len(q.ch)
}

func (q *Queue) Cap() int {
	return cap(q.ch)
}
