package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yashrajoria/resibuy-backend/pkg/broker"
)

// Keyed messages choose their own partition key.
type Keyed interface {
	PartitionKey() string
}

// CheckoutProducer publishes checkout and order-process messages. The caller
// gets the broker's answer: a failed publish is returned, never retried.
type CheckoutProducer struct {
	pub    broker.Publisher
	topics map[string]string
	logger *zap.Logger
}

// NewProducer maps routing keys ("checkout", "process") to topic names.
func NewProducer(pub broker.Publisher, topics map[string]string, logger *zap.Logger) *CheckoutProducer {
	t := make(map[string]string, len(topics))
	for k, v := range topics {
		t[k] = v
	}
	return &CheckoutProducer{pub: pub, topics: t, logger: logger}
}

func (p *CheckoutProducer) Topic(topicKey string) (string, bool) {
	t, ok := p.topics[topicKey]
	return t, ok
}

func (p *CheckoutProducer) Publish(ctx context.Context, topicKey string, message any) error {
	topic, ok := p.topics[topicKey]
	if !ok {
		return fmt.Errorf("unknown topic key %q", topicKey)
	}
	value, err := encodePayload(message)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", topicKey, err)
	}

	key := topicKey
	if k, ok := message.(Keyed); ok && k.PartitionKey() != "" {
		key = k.PartitionKey()
	}

	start := time.Now()
	err = p.pub.Publish(ctx, broker.Message{
		Topic: topic,
		Key:   key,
		Value: value,
		Headers: map[string]string{
			"content-type": "application/json",
			"route":        topicKey,
		},
	})
	if err != nil {
		p.logger.Error("failed to publish message",
			zap.String("topic", topic),
			zap.String("key", key),
			zap.Error(err),
		)
		return err
	}

	p.logger.Debug("message published",
		zap.String("topic", topic),
		zap.String("key", key),
		zap.Int("bytes", len(value)),
		zap.Duration("latency", time.Since(start)),
	)
	return nil
}

func (p *CheckoutProducer) Close() error {
	return p.pub.Close()
}

// encodePayload sends textual JSON as is and wraps any other text as a JSON
// string. Everything else is marshalled.
func encodePayload(message any) ([]byte, error) {
	switch m := message.(type) {
	case json.RawMessage:
		return textPayload(m)
	case []byte:
		return textPayload(m)
	case string:
		return textPayload([]byte(m))
	default:
		return json.Marshal(message)
	}
}

func textPayload(b []byte) ([]byte, error) {
	if json.Valid(b) {
		return append([]byte(nil), b...), nil
	}
	return json.Marshal(string(b))
}
