package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/loqalabs/loqa-relay/internal/config"
	"github.com/segmentio/kafka-go"
)

// KafkaTopic writes each speech message as one record on a topic. The key is
// the speaker label so one speaker's messages stay on one partition, in order.
type KafkaTopic struct {
	writer *kafka.Writer
	key    []byte
}

func NewKafkaTopic(cfg config.KafkaConfig, speaker string) *KafkaTopic {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    1,
		WriteTimeout: time.Duration(cfg.WriteTimeoutMS) * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  1,
	}
	return &KafkaTopic{writer: writer, key: []byte(speaker)}
}

func (k *KafkaTopic) Publish(ctx context.Context, msg string) error {
	err := k.writer.WriteMessages(ctx, kafka.Message{
		Key:   k.key,
		Value: []byte(msg),
	})
	if err != nil {
		return fmt.Errorf("kafka write %s: %w", k.writer.Topic, err)
	}
	return nil
}

func (k *KafkaTopic) Close() error {
	return k.writer.Close()
}
