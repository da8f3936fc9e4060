package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func publish(t *testing.T, b *MemoryBroker, topic, key, value string) {
	t.Helper()
	require.NoError(t, b.Publish(context.Background(), Message{Topic: topic, Key: key, Value: []byte(value)}))
}

func TestMemory_SameKeySamePartitionInOrder(t *testing.T) {
	b := NewMemoryBroker(4)
	for _, v := range []string{"1", "2", "3"} {
		publish(t, b, "checkout-topic", "user-1", v)
	}

	msgs := b.Messages("checkout-topic")
	require.Len(t, msgs, 3)
	for i, m := range msgs {
		assert.Equal(t, msgs[0].Partition, m.Partition)
		assert.Equal(t, int64(i), m.Offset)
	}
}

func TestMemory_CommitAndResume(t *testing.T) {
	b := NewMemoryBroker(1)
	publish(t, b, "t", "k", "a")
	publish(t, b, "t", "k", "b")

	ctx := context.Background()
	sub := b.Subscriber("g")
	require.NoError(t, sub.Subscribe(ctx, "t"))

	first, err := sub.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", string(first.Value))
	require.NoError(t, sub.Commit(ctx, first))
	require.NoError(t, sub.Close())

	assert.Equal(t, int64(1), b.Committed("g", "t", 0))

	// a new member of the group resumes after the committed offset
	again := b.Subscriber("g")
	require.NoError(t, again.Subscribe(ctx, "t"))
	next, err := again.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", string(next.Value))
}

func TestMemory_UncommittedIsRedeliveredToNewMember(t *testing.T) {
	b := NewMemoryBroker(1)
	publish(t, b, "t", "k", "a")

	ctx := context.Background()
	sub := b.Subscriber("g")
	require.NoError(t, sub.Subscribe(ctx, "t"))
	_, err := sub.Poll(ctx)
	require.NoError(t, err)
	require.NoError(t, sub.Close())

	again := b.Subscriber("g")
	require.NoError(t, again.Subscribe(ctx, "t"))
	msg, err := again.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", string(msg.Value))
}

func TestMemory_NackRedeliversOnNextPoll(t *testing.T) {
	b := NewMemoryBroker(1)
	publish(t, b, "t", "k", "a")
	publish(t, b, "t", "k", "b")

	ctx := context.Background()
	sub := b.Subscriber("g")
	require.NoError(t, sub.Subscribe(ctx, "t"))

	msg, _ := sub.Poll(ctx)
	require.NoError(t, sub.Nack(ctx, msg))

	again, err := sub.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", string(again.Value))
	assert.Equal(t, msg.Offset, again.Offset)
}

func TestMemory_PartitionEOF(t *testing.T) {
	b := NewMemoryBroker(1, WithPartitionEOF())
	publish(t, b, "t", "k", "a")

	ctx := context.Background()
	sub := b.Subscriber("g")
	require.NoError(t, sub.Subscribe(ctx, "t"))

	_, err := sub.Poll(ctx)
	require.NoError(t, err)

	eof, err := sub.Poll(ctx)
	assert.ErrorIs(t, err, ErrPartitionEOF)
	assert.Equal(t, "t", eof.Topic)

	// reported once per catch-up, then Poll blocks until cancelled
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = sub.Poll(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemory_PollWakesOnPublish(t *testing.T) {
	b := NewMemoryBroker(2)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sub := b.Subscriber("g")
	require.NoError(t, sub.Subscribe(ctx, "t"))

	got := make(chan Message, 1)
	go func() {
		m, err := sub.Poll(ctx)
		if err == nil {
			got <- m
		}
	}()

	time.Sleep(10 * time.Millisecond)
	publish(t, b, "t", "user-9", "hello")

	select {
	case m := <-got:
		assert.Equal(t, "hello", string(m.Value))
	case <-ctx.Done():
		t.Fatal("poll did not wake up")
	}
}

func TestMemory_PollErrors(t *testing.T) {
	b := NewMemoryBroker(1)
	sub := b.Subscriber("g")

	_, err := sub.Poll(context.Background())
	assert.ErrorIs(t, err, ErrNotSubscribed)

	require.NoError(t, sub.Subscribe(context.Background(), "t"))
	require.NoError(t, sub.Close())
	_, err = sub.Poll(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
