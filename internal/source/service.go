// Package source feeds STT transcripts from the bus into a forwarder.
package source

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-relay/internal/bus"
	"github.com/loqalabs/loqa-relay/internal/forwarder"
	"github.com/loqalabs/loqa-relay/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Service subscribes to transcript subjects and hands every transcript to
// the forwarder. A single subscription keeps partial and final transcripts
// in bus order.
type Service struct {
	subject string
	bus     *bus.Client
	fwd     forwarder.Forwarder
	logger  *slog.Logger
	sub     *nats.Subscription
}

func NewService(subject string, busClient *bus.Client, fwd forwarder.Forwarder, logger *slog.Logger) *Service {
	return &Service{
		subject: subject,
		bus:     busClient,
		fwd:     fwd,
		logger:  logger.With(slog.String("component", "source")),
	}
}

func (s *Service) Start() error {
	sub, err := s.bus.Conn().Subscribe(s.subject, s.handleTranscript)
	if err != nil {
		return fmt.Errorf("subscribe transcripts: %w", err)
	}
	s.sub = sub
	s.logger.Info("listening for transcripts", slog.String("subject", s.subject))
	return nil
}

func (s *Service) Close() {
	if s.sub != nil {
		_ = s.sub.Drain()
	}
}

func (s *Service) Healthy() bool {
	return s.sub != nil && s.sub.IsValid()
}

func (s *Service) handleTranscript(msg *nats.Msg) {
	var transcript protocol.Transcript
	if err := json.Unmarshal(msg.Data, &transcript); err != nil {
		s.logger.Warn("failed to decode transcript", slogError(err), slog.String("subject", msg.Subject))
		return
	}
	// Waiting keeps one transcript in flight, so a slow loop pushes back on
	// the subscription instead of reordering.
	<-s.fwd.Handle(transcript.Text, !transcript.Partial, transcript.FirstWord)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
