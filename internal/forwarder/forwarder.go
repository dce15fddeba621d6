// Package forwarder relays STT transcription callbacks into a speech queue.
package forwarder

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// falsePositive is emitted by the upstream recognizer on silence.
const falsePositive = "thank you."

// Forwarder receives transcription events from an STT engine.
//
// Handle never panics and never returns an error. The returned channel is
// closed once the event has been fully processed.
type Forwarder interface {
	Handle(text string, isFinal, isFirstWord bool) <-chan struct{}
}

// Publisher pushes a formatted speech message onto a cross-process queue.
type Publisher interface {
	Publish(ctx context.Context, msg string) error
}

var closed = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

const (
	outcomeForwarded = "forwarded"
	outcomeFiltered  = "filtered"
	outcomeInterim   = "interim"
	outcomeDropped   = "dropped"
	outcomeFailed    = "failed"
)

// core holds the state shared by both forwarder variants.
type core struct {
	log      *slog.Logger
	speaker  string
	counter  metric.Int64Counter
	errorMsg string
}

func newCore(log *slog.Logger, speaker, errorMsg string) core {
	c := core{
		log:      log,
		speaker:  speaker,
		errorMsg: errorMsg,
	}
	counter, err := otel.Meter("github.com/loqalabs/loqa-relay/forwarder").Int64Counter(
		"relay.transcripts",
		metric.WithDescription("Transcription events by outcome"),
	)
	if err != nil {
		log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	c.counter = counter
	return c
}

// route applies the false-positive filter and the final/first-word branch.
// It returns the message to enqueue and whether one should be enqueued.
func (c core) route(text string, isFinal, isFirstWord bool) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if text == "" || strings.EqualFold(trimmed, falsePositive) {
		c.count(outcomeFiltered)
		return "", false
	}
	if !isFinal && !isFirstWord {
		c.log.Debug(fmt.Sprintf("Interim STT transcription: '%s'", trimmed))
		c.count(outcomeInterim)
		return "", false
	}
	c.log.Info(fmt.Sprintf("Final STT transcription: '%s'", trimmed))
	return Format(c.speaker, trimmed), true
}

func (c core) fail(err error, attrs ...any) {
	c.count(outcomeFailed)
	attrs = append([]any{slog.String("speaker", c.speaker), slog.String("error", err.Error())}, attrs...)
	c.log.Error(fmt.Sprintf("%s: %v", c.errorMsg, err), attrs...)
}

// recoverPanic must be deferred directly by the callback body.
func (c core) recoverPanic() {
	if r := recover(); r != nil {
		c.fail(fmt.Errorf("panic: %v", r), slog.String("stack", string(debug.Stack())))
	}
}

func (c core) count(outcome string) {
	if c.counter == nil {
		return
	}
	c.counter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// Format renders the speech message for a speaker.
func Format(speaker, text string) string {
	return speaker + ": " + text
}
