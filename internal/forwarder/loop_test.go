package forwarder

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLoopRunsTasksInOrder(t *testing.T) {
	loop := NewLoop(16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	var got []int
	var last <-chan struct{}
	for i := 0; i < 100; i++ {
		i := i
		done, err := loop.Post(func() { got = append(got, i) })
		if err != nil {
			t.Fatalf("post %d: %v", i, err)
		}
		last = done
	}
	waitDone(t, last)

	if len(got) != 100 {
		t.Fatalf("expected 100 tasks, got %d", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("task %d ran out of order (got %d)", i, v)
		}
	}
}

func TestLoopPostAfterClose(t *testing.T) {
	loop := NewLoop(1)
	loop.Close()
	loop.Close()
	if _, err := loop.Post(func() {}); !errors.Is(err, ErrLoopClosed) {
		t.Fatalf("expected ErrLoopClosed, got %v", err)
	}
}

func TestLoopSkipsPendingTasksOnStop(t *testing.T) {
	loop := NewLoop(4)
	ran := false
	first, err := loop.Post(func() { ran = true })
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	second, err := loop.Post(func() { ran = true })
	if err != nil {
		t.Fatalf("post: %v", err)
	}

	loop.Close()
	if err := loop.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	waitDone(t, first)
	waitDone(t, second)
	if ran {
		t.Fatal("pending task executed after close")
	}
}

func TestLoopCloseWithoutRunReleasesWaiters(t *testing.T) {
	loop := NewLoop(4)
	ran := false
	done, err := loop.Post(func() { ran = true })
	if err != nil {
		t.Fatalf("post: %v", err)
	}

	loop.Close()
	waitDone(t, done)
	if ran {
		t.Fatal("pending task executed after close")
	}
}

func TestLoopStopsOnContextCancel(t *testing.T) {
	loop := NewLoop(1)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- loop.Run(ctx) }()
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
	if _, err := loop.Post(func() {}); !errors.Is(err, ErrLoopClosed) {
		t.Fatalf("expected ErrLoopClosed after stop, got %v", err)
	}
}

func TestQueuePutNonBlocking(t *testing.T) {
	q := NewQueue(1)
	if err := q.Put(context.Background(), "a", 0); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := q.Put(context.Background(), "b", 0); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if q.Len() != 1 || q.Cap() != 1 {
		t.Fatalf("unexpected len/cap %d/%d", q.Len(), q.Cap())
	}
}

func TestQueuePutWaitsForRoom(t *testing.T) {
	q := NewQueue(1)
	_ = q.Put(context.Background(), "a", 0)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = q.Get(context.Background())
	}()
	if err := q.Put(context.Background(), "b", 2*time.Second); err != nil {
		t.Fatalf("expected room to free up, got %v", err)
	}
	msg, err := q.Get(context.Background())
	if err != nil || msg != "b" {
		t.Fatalf("expected b, got %q (%v)", msg, err)
	}
}

func TestQueueGetHonoursContext(t *testing.T) {
	q := NewQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := q.Get(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion")
	}
}
