package forwarder

import (
	"context"
	"log/slog"
)

// ProcessForwarder forwards transcriptions synchronously onto a cross-process
// queue. Publish is called with no deadline; a broken transport surfaces as
// a logged error.
type ProcessForwarder struct {
	core
	pub Publisher
}

func NewProcessForwarder(log *slog.Logger, speaker string, pub Publisher) *ProcessForwarder {
	return &ProcessForwarder{
		core: newCore(log, speaker, "Error in STT MP callback"),
		pub:  pub,
	}
}

// Handle returns once the message has been published or dropped.
func (f *ProcessForwarder) Handle(text string, isFinal, isFirstWord bool) <-chan struct{} {
	f.deliver(text, isFinal, isFirstWord)
	return closed
}

func (f *ProcessForwarder) deliver(text string, isFinal, isFirstWord bool) {
	defer f.recoverPanic()

	msg, ok := f.route(text, isFinal, isFirstWord)
	if !ok {
		return
	}
	if err := f.pub.Publish(context.Background(), msg); err != nil {
		f.fail(err)
		return
	}
	f.count(outcomeForwarded)
}
