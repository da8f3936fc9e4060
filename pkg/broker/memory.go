package broker

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

// MemoryBroker is an in-process partitioned log with consumer group offsets.
// Messages with the same key always land on the same partition.
type MemoryBroker struct {
	mu         sync.Mutex
	partitions int
	topics     map[string][][]Message
	commits    map[commitKey]int64
	wake       chan struct{}
	emitEOF    bool
}

type commitKey struct {
	group     string
	topic     string
	partition int
}

type MemoryOption func(*MemoryBroker)

// WithPartitionEOF makes subscribers report ErrPartitionEOF each time they
// catch up with a partition.
func WithPartitionEOF() MemoryOption {
	return func(b *MemoryBroker) {
		b.emitEOF = true
	}
}

func NewMemoryBroker(partitions int, opts ...MemoryOption) *MemoryBroker {
	if partitions < 1 {
		partitions = 1
	}
	b := &MemoryBroker{
		partitions: partitions,
		topics:     make(map[string][][]Message),
		commits:    make(map[commitKey]int64),
		wake:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *MemoryBroker) partitionFor(key string) int {
	if key == "" {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(b.partitions))
}

// log returns the partitions of topic, creating them on first use.
// Caller holds b.mu.
func (b *MemoryBroker) log(topic string) [][]Message {
	parts, ok := b.topics[topic]
	if !ok {
		parts = make([][]Message, b.partitions)
		b.topics[topic] = parts
	}
	return parts
}

func (b *MemoryBroker) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	parts := b.log(msg.Topic)
	p := b.partitionFor(msg.Key)
	msg.Partition = p
	msg.Offset = int64(len(parts[p]))
	msg.Value = append([]byte(nil), msg.Value...)
	if msg.Time.IsZero() {
		msg.Time = time.Now()
	}
	parts[p] = append(parts[p], msg)

	close(b.wake)
	b.wake = make(chan struct{})
	b.mu.Unlock()
	return nil
}

// Close is a no-op so the broker can be handed out as a Publisher.
func (b *MemoryBroker) Close() error { return nil }

// Messages returns everything ever published to topic, in partition order.
func (b *MemoryBroker) Messages(topic string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Message
	for _, part := range b.topics[topic] {
		out = append(out, part...)
	}
	return out
}

// Committed returns the next offset group will read from topic/partition.
func (b *MemoryBroker) Committed(group, topic string, partition int) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.commits[commitKey{group, topic, partition}]
}

// Subscriber returns a consumer for group. Each call creates an independent
// member that starts from the group's committed offsets.
func (b *MemoryBroker) Subscriber(group string) *MemorySubscriber {
	return &MemorySubscriber{
		broker:   b,
		group:    group,
		position: make(map[commitKey]int64),
		atEnd:    make(map[commitKey]bool),
	}
}

// MemorySubscriber reads from a MemoryBroker.
type MemorySubscriber struct {
	broker   *MemoryBroker
	group    string
	topics   []string
	position map[commitKey]int64
	atEnd    map[commitKey]bool
	pending  []Message
	closed   bool
}

func (s *MemorySubscriber) Subscribe(ctx context.Context, topics ...string) error {
	b := s.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	s.topics = append([]string(nil), topics...)
	for _, t := range s.topics {
		b.log(t)
		for p := 0; p < b.partitions; p++ {
			k := commitKey{s.group, t, p}
			s.position[k] = b.commits[k]
		}
	}
	return nil
}

func (s *MemorySubscriber) Poll(ctx context.Context) (Message, error) {
	b := s.broker
	for {
		b.mu.Lock()
		if s.closed {
			b.mu.Unlock()
			return Message{}, ErrClosed
		}
		if len(s.topics) == 0 {
			b.mu.Unlock()
			return Message{}, ErrNotSubscribed
		}
		if len(s.pending) > 0 {
			msg := s.pending[0]
			s.pending = s.pending[1:]
			b.mu.Unlock()
			return msg, nil
		}

		for _, t := range s.topics {
			parts := b.topics[t]
			for p := range parts {
				k := commitKey{s.group, t, p}
				pos := s.position[k]
				if pos < int64(len(parts[p])) {
					msg := parts[p][pos]
					s.position[k] = pos + 1
					s.atEnd[k] = false
					b.mu.Unlock()
					return msg, nil
				}
				if b.emitEOF && !s.atEnd[k] && pos > 0 {
					s.atEnd[k] = true
					b.mu.Unlock()
					return Message{Topic: t, Partition: p, Offset: pos}, ErrPartitionEOF
				}
			}
		}
		wake := b.wake
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-wake:
		}
	}
}

func (s *MemorySubscriber) Commit(ctx context.Context, msg Message) error {
	b := s.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	k := commitKey{s.group, msg.Topic, msg.Partition}
	if next := msg.Offset + 1; next > b.commits[k] {
		b.commits[k] = next
	}
	return nil
}

func (s *MemorySubscriber) Nack(ctx context.Context, msg Message) error {
	b := s.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.pending = append(s.pending, msg)
	return nil
}

func (s *MemorySubscriber) Close() error {
	b := s.broker
	b.mu.Lock()
	s.closed = true
	close(b.wake)
	b.wake = make(chan struct{})
	b.mu.Unlock()
	return nil
}
