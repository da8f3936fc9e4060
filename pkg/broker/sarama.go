package broker

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
)

// SaramaPublisher is an idempotent synchronous producer. It is an alternative
// to KafkaPublisher when broker-side deduplication of producer retries is
// wanted.
type SaramaPublisher struct {
	producer sarama.SyncProducer
}

func NewSaramaPublisher(brokers []string) (*SaramaPublisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Partitioner = sarama.NewHashPartitioner

	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create sarama producer: %w", err)
	}
	return &SaramaPublisher{producer: prod}, nil
}

func (p *SaramaPublisher) Publish(ctx context.Context, msg Message) error {
	pm := &sarama.ProducerMessage{
		Topic: msg.Topic,
		Value: sarama.ByteEncoder(msg.Value),
	}
	if msg.Key != "" {
		pm.Key = sarama.StringEncoder(msg.Key)
	}
	pm.Headers = toSaramaHeaders(msg.Headers)

	done := make(chan error, 1)
	go func() {
		_, _, err := p.producer.SendMessage(pm)
		done <- err
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("sarama send to %s: %w", msg.Topic, err)
		}
		return nil
	}
}

func (p *SaramaPublisher) Close() error {
	return p.producer.Close()
}

func toSaramaHeaders(h map[string]string) []sarama.RecordHeader {
	if len(h) == 0 {
		return nil
	}
	out := make([]sarama.RecordHeader, 0, len(h))
	for k, v := range h {
		out = append(out, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	return out
}
