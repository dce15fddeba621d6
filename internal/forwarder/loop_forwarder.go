package forwarder

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// LoopForwarder forwards transcriptions onto a Queue owned by a Loop. Handle
// may be called from any goroutine; the filtering, logging and enqueue all
// happen on the loop.
type LoopForwarder struct {
	core
	queue *Queue
	loop  *Loop
	wait  time.Duration
}

type LoopOption func(*LoopForwarder)

// WithEnqueueWait bounds how long an enqueue may wait for room in a full
// queue before the message is dropped. Zero means never wait.
func WithEnqueueWait(d time.Duration) LoopOption {
	return func(f *LoopForwarder) {
		f.wait = d
	}
}

func NewLoopForwarder(log *slog.Logger, speaker string, queue *Queue, loop *Loop, opts ...LoopOption) *LoopForwarder {
	f := &LoopForwarder{
		core:  newCore(log, speaker, "Error in STT callback"),
		queue: queue,
		loop:  loop,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *LoopForwarder) Handle(text string, isFinal, isFirstWord bool) <-chan struct{} {
	done, err := f.loop.Post(func() {
		f.deliver(text, isFinal, isFirstWord)
	})
	if err != nil {
		f.fail(err)
		return closed
	}
	return done
}

func (f *LoopForwarder) deliver(text string, isFinal, isFirstWord bool) {
	defer f.recoverPanic()

	msg, ok := f.route(text, isFinal, isFirstWord)
	if !ok {
		return
	}
	err := f.queue.Put(context.Background(), msg, f.wait)
	switch {
	case err == nil:
		f.count(outcomeForwarded)
	case errors.Is(err, ErrQueueFull):
		f.count(outcomeDropped)
		f.log.Warn("Speech queue is full. Discarding transcription.",
			slog.String("speaker", f.speaker),
			slog.Int("capacity", f.queue.Cap()))
	default:
		f.fail(err)
	}
}
