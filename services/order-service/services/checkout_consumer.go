package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	awspkg "github.com/yashrajoria/resibuy-backend/pkg/aws"
	"github.com/yashrajoria/resibuy-backend/pkg/broker"
)

// Handler processes one message. A nil return commits it; an error wrapped
// with Poison dead-letters it; any other error redelivers it.
type Handler func(ctx context.Context, msg broker.Message) error

// PoisonError marks a message that will never succeed.
type PoisonError struct {
	Err error
}

func (e *PoisonError) Error() string { return "poison message: " + e.Err.Error() }
func (e *PoisonError) Unwrap() error { return e.Err }

func Poison(err error) error {
	return &PoisonError{Err: err}
}

func IsPoison(err error) bool {
	var p *PoisonError
	return errors.As(err, &p)
}

// DeadLetterer parks messages that are given up on.
type DeadLetterer interface {
	Send(ctx context.Context, msg broker.Message, cause error, attempts int) error
}

const (
	DefaultMaxAttempts = 10
	DefaultBackoffBase = time.Second
	DefaultBackoffMax  = 30 * time.Second
)

type ConsumerOption func(*CheckoutConsumer)

// WithMaxAttempts sets how often one message may fail before it is
// dead-lettered. Zero retries forever.
func WithMaxAttempts(n int) ConsumerOption {
	return func(c *CheckoutConsumer) { c.maxAttempts = n }
}

func WithBackoff(base, max time.Duration) ConsumerOption {
	return func(c *CheckoutConsumer) {
		c.backoffBase = base
		c.backoffMax = max
	}
}

func WithMetrics(m *awspkg.MetricsClient) ConsumerOption {
	return func(c *CheckoutConsumer) { c.metrics = m }
}

// CheckoutConsumer is the worker loop: poll, dispatch by topic, commit only
// after the handler succeeded.
type CheckoutConsumer struct {
	sub      broker.Subscriber
	dlq      DeadLetterer
	handlers map[string]Handler
	metrics  *awspkg.MetricsClient
	logger   *zap.Logger

	maxAttempts int
	backoffBase time.Duration
	backoffMax  time.Duration

	// failures per message fingerprint, cleared once the message is done
	attempts map[string]int
	streak   int
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewCheckoutConsumer(sub broker.Subscriber, dlq DeadLetterer, logger *zap.Logger, opts ...ConsumerOption) *CheckoutConsumer {
	c := &CheckoutConsumer{
		sub:         sub,
		dlq:         dlq,
		handlers:    make(map[string]Handler),
		logger:      logger,
		maxAttempts: DefaultMaxAttempts,
		backoffBase: DefaultBackoffBase,
		backoffMax:  DefaultBackoffMax,
		attempts:    make(map[string]int),
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Handle routes topic to h. Must be called before Run.
func (c *CheckoutConsumer) Handle(topic string, h Handler) {
	c.handlers[topic] = h
}

// Run subscribes and processes messages until ctx is cancelled, then closes
// the subscriber. It returns an error when the subscription fails or the
// broker connection is lost; uncommitted messages come back on restart.
func (c *CheckoutConsumer) Run(ctx context.Context) error {
	topics := make([]string, 0, len(c.handlers))
	for t := range c.handlers {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	if len(topics) == 0 {
		return errors.New("consumer has no handlers")
	}

	defer func() {
		if err := c.sub.Close(); err != nil {
			c.logger.Warn("subscriber close failed", zap.Error(err))
		}
		c.logger.Info("consumer stopped")
	}()

	if err := c.sub.Subscribe(ctx, topics...); err != nil {
		return fmt.Errorf("subscribe %v: %w", topics, err)
	}
	c.logger.Info("consumer started", zap.Strings("topics", topics))

	for {
		if ctx.Err() != nil {
			return nil
		}

		msg, err := c.sub.Poll(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, broker.ErrPartitionEOF):
			continue
		case errors.Is(err, broker.ErrClosed):
			c.logger.Warn("subscriber closed underneath the consumer")
			return nil
		case errors.Is(err, broker.ErrConnectionLost):
			return fmt.Errorf("poll: %w", err)
		default:
			c.logger.Error("poll failed", zap.Error(err))
			c.backoff(ctx)
			continue
		}

		c.process(ctx, msg)
	}
}

func (c *CheckoutConsumer) process(ctx context.Context, msg broker.Message) {
	start := time.Now()
	fp := fingerprint(msg)
	log := c.logger.With(
		zap.String("topic", msg.Topic),
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
		zap.String("key", msg.Key),
	)

	err := c.dispatch(ctx, msg)
	switch {
	case err == nil:
		delete(c.attempts, fp)
		c.streak = 0
		if cerr := c.sub.Commit(ctx, msg); cerr != nil {
			// processed but not committed: it comes back and is applied again
			log.Error("commit failed", zap.Error(cerr))
			return
		}
		c.count(ctx, awspkg.MetricMessagesProcessed, msg.Topic)
		log.Debug("message committed", zap.Duration("took", time.Since(start)))

	case IsPoison(err):
		log.Warn("poison message", zap.Error(err))
		c.deadLetter(ctx, msg, fp, err, c.attempts[fp]+1, log)

	default:
		c.attempts[fp]++
		n := c.attempts[fp]
		c.count(ctx, awspkg.MetricMessagesFailed, msg.Topic)
		log.Error("message processing failed", zap.Int("attempt", n), zap.Error(err))

		if c.maxAttempts > 0 && n >= c.maxAttempts {
			c.deadLetter(ctx, msg, fp, fmt.Errorf("gave up after %d attempts: %w", n, err), n, log)
			return
		}
		c.nack(ctx, msg, log)
		c.backoff(ctx)
	}
}

func (c *CheckoutConsumer) dispatch(ctx context.Context, msg broker.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()

	h, ok := c.handlers[msg.Topic]
	if !ok {
		return Poison(fmt.Errorf("no handler for topic %q", msg.Topic))
	}
	return h(ctx, msg)
}

// deadLetter commits msg once it is safely parked. If parking fails the
// message stays uncommitted.
func (c *CheckoutConsumer) deadLetter(ctx context.Context, msg broker.Message, fp string, cause error, attempts int, log *zap.Logger) {
	if err := c.dlq.Send(ctx, msg, cause, attempts); err != nil {
		log.Error("dead-letter publish failed, message kept", zap.Error(err))
		c.nack(ctx, msg, log)
		c.backoff(ctx)
		return
	}
	delete(c.attempts, fp)
	c.streak = 0
	c.count(ctx, awspkg.MetricMessagesDeadLettered, msg.Topic)
	if err := c.sub.Commit(ctx, msg); err != nil {
		log.Error("commit after dead-letter failed", zap.Error(err))
	}
}

func (c *CheckoutConsumer) nack(ctx context.Context, msg broker.Message, log *zap.Logger) {
	if err := c.sub.Nack(ctx, msg); err != nil {
		log.Error("nack failed", zap.Error(err))
	}
}

// backoff waits base*2^streak, capped at max.
func (c *CheckoutConsumer) backoff(ctx context.Context) {
	d := c.backoffBase << min(c.streak, 16)
	if d <= 0 || d > c.backoffMax {
		d = c.backoffMax
	}
	c.streak++
	_ = c.sleep(ctx, d)
}

func (c *CheckoutConsumer) count(ctx context.Context, metric, topic string) {
	_ = c.metrics.RecordCount(ctx, metric, map[string]string{"Service": "order-service", "Topic": topic})
}

// fingerprint identifies a message across redeliveries. Offsets are not
// stable for every driver, the payload is.
func fingerprint(msg broker.Message) string {
	sum := sha256.Sum256(msg.Value)
	return msg.Topic + "/" + msg.Key + "/" + hex.EncodeToString(sum[:12])
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
