// Package broker hides the message broker behind a small publish/poll/commit
// surface so producers and consumers can run against Kafka, RabbitMQ, SQS or
// an in-process log without changing.
package broker

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPartitionEOF is returned by Poll when a partition has been read to
	// its end. It carries no message and must not be committed.
	ErrPartitionEOF = errors.New("broker: reached end of partition")

	// ErrClosed is returned once the subscriber has been closed.
	ErrClosed = errors.New("broker: subscriber closed")

	// ErrNotSubscribed is returned by Poll before Subscribe.
	ErrNotSubscribed = errors.New("broker: not subscribed")

	// ErrConnectionLost is returned by Poll once the underlying connection
	// went away and no more messages can arrive. Uncommitted messages are
	// redelivered after a reconnect.
	ErrConnectionLost = errors.New("broker: connection lost")
)

// Message is a single record read from or written to a topic.
type Message struct {
	Topic     string
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Time      time.Time

	// receipt carries driver specific state needed to ack the message.
	receipt any
}

// WithReceipt returns a copy of m holding driver state for Commit and Nack.
func (m Message) WithReceipt(r any) Message {
	m.receipt = r
	return m
}

// Receipt returns the driver state attached by WithReceipt.
func (m Message) Receipt() any {
	return m.receipt
}

// Publisher writes messages and waits for the broker acknowledgement.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Subscriber reads messages for one consumer group. Nothing is acknowledged
// implicitly: a message is only marked done by Commit, and Nack hands it back
// so the next Poll returns it again.
type Subscriber interface {
	Subscribe(ctx context.Context, topics ...string) error
	Poll(ctx context.Context) (Message, error)
	Commit(ctx context.Context, msg Message) error
	Nack(ctx context.Context, msg Message) error
	Close() error
}
