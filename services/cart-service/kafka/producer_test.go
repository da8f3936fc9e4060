package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yashrajoria/resibuy-backend/pkg/broker"
	"github.com/yashrajoria/resibuy-backend/services/common/events"
)

type failingPublisher struct{ calls int }

func (f *failingPublisher) Publish(ctx context.Context, msg broker.Message) error {
	f.calls++
	return errors.New("broker unavailable")
}

func (f *failingPublisher) Close() error { return nil }

func newTestProducer(pub broker.Publisher) *CheckoutProducer {
	return NewProducer(pub, map[string]string{
		events.RouteCheckout: events.DefaultCheckoutTopic,
		events.RouteProcess:  events.DefaultProcessTopic,
	}, zap.NewNop())
}

func TestPublish_StructIsMarshalledAndKeyedByUser(t *testing.T) {
	b := broker.NewMemoryBroker(1)
	p := newTestProducer(b)

	msg := events.CheckoutMessage{CheckoutID: "c1", UserID: "u1", GrandTotal: 10}
	require.NoError(t, p.Publish(context.Background(), events.RouteCheckout, msg))

	got := b.Messages(events.DefaultCheckoutTopic)
	require.Len(t, got, 1)
	assert.Equal(t, "u1", got[0].Key)
	assert.JSONEq(t, `{"checkoutId":"c1","userId":"u1","addressId":"","paymentMethod":"","grandTotal":10,"orders":null}`, string(got[0].Value))
}

func TestPublish_TextPayloads(t *testing.T) {
	b := broker.NewMemoryBroker(1)
	p := newTestProducer(b)
	ctx := context.Background()

	require.NoError(t, p.Publish(ctx, events.RouteProcess, `{"orderId":"o1"}`))
	require.NoError(t, p.Publish(ctx, events.RouteProcess, "plain text"))
	require.NoError(t, p.Publish(ctx, events.RouteProcess, []byte(`[1,2]`)))

	got := b.Messages(events.DefaultProcessTopic)
	require.Len(t, got, 3)
	assert.Equal(t, `{"orderId":"o1"}`, string(got[0].Value))
	assert.Equal(t, `"plain text"`, string(got[1].Value))
	assert.Equal(t, `[1,2]`, string(got[2].Value))
	assert.Equal(t, events.RouteProcess, got[1].Key)
}

func TestPublish_UnknownTopicKeyDoesNoIO(t *testing.T) {
	pub := &failingPublisher{}
	p := newTestProducer(pub)

	err := p.Publish(context.Background(), "refunds", "x")
	assert.Error(t, err)
	assert.Zero(t, pub.calls)
}

func TestPublish_FailureIsReturnedWithoutRetry(t *testing.T) {
	pub := &failingPublisher{}
	p := newTestProducer(pub)

	err := p.Publish(context.Background(), events.RouteCheckout, events.CheckoutMessage{UserID: "u1"})
	assert.EqualError(t, err, "broker unavailable")
	assert.Equal(t, 1, pub.calls)
}
