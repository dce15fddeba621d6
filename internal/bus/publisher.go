package bus

import (
	"context"
	"fmt"
)

// SpeechPublisher pushes speech messages onto a NATS subject as raw UTF-8
// payloads. Consumers in other processes subscribe to the subject.
type SpeechPublisher struct {
	client  *Client
	subject string
}

func NewSpeechPublisher(client *Client, subject string) *SpeechPublisher {
	return &SpeechPublisher{client: client, subject: subject}
}

// Publish blocks until the server has acknowledged the flush, so a broken
// connection is reported to the caller instead of sitting in the buffer.
func (p *SpeechPublisher) Publish(ctx context.Context, msg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	conn := p.client.Conn()
	if err := conn.Publish(p.subject, []byte(msg)); err != nil {
		return fmt.Errorf("publish %s: %w", p.subject, err)
	}
	if err := conn.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", p.subject, err)
	}
	return nil
}

func (p *SpeechPublisher) Subject() string {
	return p.subject
}
