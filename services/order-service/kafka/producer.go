package kafka

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/yashrajoria/resibuy-backend/pkg/broker"
)

const (
	DeadLetterSuffix = ".dlq"

	HeaderError             = "x-error"
	HeaderOriginalTopic     = "x-original-topic"
	HeaderOriginalPartition = "x-original-partition"
	HeaderOriginalOffset    = "x-original-offset"
	HeaderAttempts          = "x-attempts"
)

// DeadLetterProducer parks messages the worker gave up on in <topic>.dlq.
type DeadLetterProducer struct {
	pub    broker.Publisher
	logger *zap.Logger
}

func NewDeadLetterProducer(pub broker.Publisher, logger *zap.Logger) *DeadLetterProducer {
	return &DeadLetterProducer{pub: pub, logger: logger}
}

func DeadLetterTopic(topic string) string {
	return topic + DeadLetterSuffix
}

// Send copies msg to the dead letter topic with the failure attached.
func (p *DeadLetterProducer) Send(ctx context.Context, msg broker.Message, cause error, attempts int) error {
	headers := make(map[string]string, len(msg.Headers)+5)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[HeaderError] = cause.Error()
	headers[HeaderOriginalTopic] = msg.Topic
	headers[HeaderOriginalPartition] = strconv.Itoa(msg.Partition)
	headers[HeaderOriginalOffset] = strconv.FormatInt(msg.Offset, 10)
	headers[HeaderAttempts] = strconv.Itoa(attempts)

	dlq := DeadLetterTopic(msg.Topic)
	if err := p.pub.Publish(ctx, broker.Message{
		Topic:   dlq,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	}); err != nil {
		return fmt.Errorf("publish to %s: %w", dlq, err)
	}

	p.logger.Warn("message dead-lettered",
		zap.String("topic", msg.Topic),
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
		zap.Int("attempts", attempts),
		zap.Error(cause),
	)
	return nil
}

func (p *DeadLetterProducer) Close() error {
	return p.pub.Close()
}
