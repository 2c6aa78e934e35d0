package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"fraud_scorer/internal/domain"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafkago.Writer the producer needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// InsightProducer publishes insights keyed by card fingerprint, so one
// card's insights stay ordered within a partition.
type InsightProducer struct {
	writer MessageWriter
	topic  string
}

func NewInsightProducer(brokers []string, topic string) *InsightProducer {
	return NewInsightProducerWithWriter(&kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafkago.RequireAll,
	}, topic)
}

func NewInsightProducerWithWriter(writer MessageWriter, topic string) *InsightProducer {
	return &InsightProducer{writer: writer, topic: topic}
}

func (p *InsightProducer) Name() string { return "kafka:" + p.topic }

func (p *InsightProducer) Deliver(ctx context.Context, insight domain.Insight) error {
	value, err := json.Marshal(insight)
	if err != nil {
		return fmt.Errorf("encode insight: %w", err)
	}

	msg := kafkago.Message{
		Key:   []byte(insight.Card),
		Value: value,
		Headers: []kafkago.Header{
			{Key: "risk", Value: []byte(insight.Risk)},
			{Key: "event_id", Value: []byte(insight.EventID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publish to %s: %w", p.topic, err)
	}
	return nil
}

func (p *InsightProducer) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("closing writer for topic %s: %w", p.topic, err)
	}
	return nil
}
