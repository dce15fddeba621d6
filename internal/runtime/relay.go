package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-relay/internal/bus"
	"github.com/loqalabs/loqa-relay/internal/config"
	"github.com/loqalabs/loqa-relay/internal/eventstore"
	"github.com/loqalabs/loqa-relay/internal/forwarder"
	"github.com/loqalabs/loqa-relay/internal/queue"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// buildForwarder wires the forwarder variant selected by relay.mode. The
// returned stop function releases everything the forwarder depends on.
func buildForwarder(ctx context.Context, cfg config.Config, client *bus.Client, logger *slog.Logger) (forwarder.Forwarder, func(), error) {
	fwdLog := logger.With(slog.String("component", "forwarder"), slog.String("mode", cfg.Relay.Mode))

	switch cfg.Relay.Mode {
	case config.ModeLoop:
		return buildLoopForwarder(ctx, cfg, fwdLog, logger)
	case config.ModeProcess:
		pub, closePub, err := buildPublisher(cfg, client)
		if err != nil {
			return nil, nil, err
		}
		stop := func() {
			if err := closePub(); err != nil {
				logger.Warn("failed to close speech publisher", slog.String("error", err.Error()))
			}
		}
		return forwarder.NewProcessForwarder(fwdLog, cfg.Relay.SpeakerName, pub), stop, nil
	default:
		return nil, nil, fmt.Errorf("unknown relay mode %q", cfg.Relay.Mode)
	}
}

func buildLoopForwarder(ctx context.Context, cfg config.Config, fwdLog, logger *slog.Logger) (forwarder.Forwarder, func(), error) {
	store, err := eventstore.Open(ctx, cfg.EventStore, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open speech log: %w", err)
	}
	sessionID := uuid.NewString()
	if err := store.AppendSession(ctx, sessionID, cfg.Relay.SpeakerName); err != nil {
		logger.Warn("failed to record speech session", slog.String("error", err.Error()))
	}

	loop := forwarder.NewLoop(cfg.Relay.LoopBacklog)
	speech := forwarder.NewQueue(cfg.Relay.QueueCapacity)
	fwd := forwarder.NewLoopForwarder(fwdLog, cfg.Relay.SpeakerName, speech, loop,
		forwarder.WithEnqueueWait(time.Duration(cfg.Relay.EnqueueWaitMS)*time.Millisecond))

	d := newDrainer(speech, store, sessionID, cfg.Relay.SpeakerName, logger)
	drainCtx, stopDrain := context.WithCancel(context.Background())

	var loopWG, drainWG sync.WaitGroup
	loopWG.Add(1)
	go func() {
		defer loopWG.Done()
		_ = loop.Run(context.Background())
	}()
	drainWG.Add(1)
	go func() {
		defer drainWG.Done()
		d.run(drainCtx)
	}()

	logger.Info("speech loop started",
		slog.String("session_id", sessionID),
		slog.Int("queue_capacity", speech.Cap()))

	stop := func() {
		loop.Close()
		loopWG.Wait()
		stopDrain()
		drainWG.Wait()
		if err := store.Close(); err != nil {
			logger.Warn("failed to close speech log", slog.String("error", err.Error()))
		}
	}
	return fwd, stop, nil
}

func buildPublisher(cfg config.Config, client *bus.Client) (forwarder.Publisher, func() error, error) {
	switch cfg.Relay.Transport {
	case config.TransportNATS:
		return bus.NewSpeechPublisher(client, cfg.Relay.SpeechSubject), func() error { return nil }, nil
	case config.TransportRedis:
		list := queue.NewRedisList(cfg.Redis)
		return list, list.Close, nil
	case config.TransportKafka:
		topic := queue.NewKafkaTopic(cfg.Kafka, cfg.Relay.SpeakerName)
		return topic, topic.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown relay transport %q", cfg.Relay.Transport)
	}
}

// drainer is the in-process consumer of the loop-mode speech queue.
type drainer struct {
	queue     *forwarder.Queue
	store     *eventstore.Store
	sessionID string
	speaker   string
	logger    *slog.Logger
	tracer    trace.Tracer
}

func newDrainer(q *forwarder.Queue, store *eventstore.Store, sessionID, speaker string, logger *slog.Logger) *drainer {
	return &drainer{
		queue:     q,
		store:     store,
		sessionID: sessionID,
		speaker:   speaker,
		logger:    logger.With(slog.String("component", "drain")),
		tracer:    otel.Tracer("github.com/loqalabs/loqa-relay/runtime"),
	}
}

// run consumes until ctx is done, then records whatever is still queued.
func (d *drainer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.flush()
			return
		case msg := <-d.queue.C():
			d.record(context.WithoutCancel(ctx), msg)
		}
	}
}

func (d *drainer) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case msg := <-d.queue.C():
			d.record(ctx, msg)
		default:
			return
		}
	}
}

func (d *drainer) record(ctx context.Context, msg string) {
	ctx, span := d.tracer.Start(ctx, "relay.speech.record",
		trace.WithAttributes(attribute.String("session.id", d.sessionID)))
	defer span.End()

	var traceID string
	if sc := span.SpanContext(); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}
	if err := d.store.AppendMessage(ctx, d.sessionID, d.speaker, msg, traceID); err != nil {
		span.RecordError(err)
		d.logger.Warn("failed to record speech message", slog.String("error", err.Error()))
		return
	}
	d.logger.Debug("speech message consumed", slog.String("message", msg))
}
