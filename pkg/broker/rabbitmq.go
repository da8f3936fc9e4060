package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// DialRabbitMQ connects with retries; RabbitMQ is often the last container to
// come up.
func DialRabbitMQ(url string, logger *zap.Logger) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error
	for i := 0; i < 10; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		logger.Warn("RabbitMQ connection failed, retrying", zap.Int("attempt", i+1), zap.Error(err))
		time.Sleep(2 * time.Second)
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
}

func declareQueue(ch *amqp.Channel, name string) error {
	_, err := ch.QueueDeclare(
		name,  // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", name, err)
	}
	return nil
}

// RabbitMQPublisher maps each topic to a durable queue of the same name and
// waits for a publisher confirm.
type RabbitMQPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	declared map[string]bool
}

func NewRabbitMQPublisher(conn *amqp.Connection) (*RabbitMQPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	return &RabbitMQPublisher{conn: conn, channel: ch, declared: make(map[string]bool)}, nil
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.declared[msg.Topic] {
		if err := declareQueue(p.channel, msg.Topic); err != nil {
			return err
		}
		p.declared[msg.Topic] = true
	}

	headers := amqp.Table{"key": msg.Key}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	conf, err := p.channel.PublishWithDeferredConfirmWithContext(ctx,
		"",        // exchange
		msg.Topic, // routing key
		false,     // mandatory
		false,     // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         msg.Value,
			Headers:      headers,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		})
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	acked, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("wait for confirm: %w", err)
	}
	if !acked {
		return errors.New("rabbitmq: publish nacked by broker")
	}
	return nil
}

func (p *RabbitMQPublisher) Close() error {
	return p.channel.Close()
}

// RabbitMQSubscriber consumes one queue per topic with manual acks.
// Commit acks the delivery and Nack requeues it.
type RabbitMQSubscriber struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	prefetch   int
	subscribed bool
	merged     chan Message
	done       chan struct{}
	once       sync.Once

	// lost is closed when any delivery stream ends without Close.
	lost     chan struct{}
	lostOnce sync.Once
}

func NewRabbitMQSubscriber(conn *amqp.Connection, prefetch int) *RabbitMQSubscriber {
	if prefetch < 1 {
		prefetch = 1
	}
	return &RabbitMQSubscriber{
		conn:     conn,
		prefetch: prefetch,
		merged:   make(chan Message),
		done:     make(chan struct{}),
		lost:     make(chan struct{}),
	}
}

func (s *RabbitMQSubscriber) Subscribe(ctx context.Context, topics ...string) error {
	ch, err := s.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open a channel: %w", err)
	}
	if err := ch.Qos(s.prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	s.channel = ch

	for _, topic := range topics {
		if err := declareQueue(ch, topic); err != nil {
			return err
		}
		deliveries, err := ch.Consume(
			topic, // queue
			"",    // consumer
			false, // auto-ack
			false, // exclusive
			false, // no-local
			false, // no-wait
			nil,   // args
		)
		if err != nil {
			return fmt.Errorf("failed to register a consumer on %s: %w", topic, err)
		}
		go s.forward(topic, deliveries)
	}
	s.subscribed = true
	return nil
}

func (s *RabbitMQSubscriber) forward(topic string, deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		select {
		case s.merged <- fromDelivery(topic, d):
		case <-s.done:
			return
		}
	}
	// the server cancelled the consumer or the channel died
	select {
	case <-s.done:
	default:
		s.lostOnce.Do(func() { close(s.lost) })
	}
}

// fromDelivery maps an AMQP delivery onto a Message. The "key" header carries
// the partition key set by RabbitMQPublisher; non-string headers are dropped.
func fromDelivery(topic string, d amqp.Delivery) Message {
	msg := Message{
		Topic:   topic,
		Value:   d.Body,
		Headers: make(map[string]string, len(d.Headers)),
		Offset:  int64(d.DeliveryTag),
		Time:    d.Timestamp,
	}
	for k, v := range d.Headers {
		str, ok := v.(string)
		if !ok {
			continue
		}
		if k == "key" {
			msg.Key = str
			continue
		}
		msg.Headers[k] = str
	}
	return msg.WithReceipt(d)
}

func (s *RabbitMQSubscriber) Poll(ctx context.Context) (Message, error) {
	if !s.subscribed {
		return Message{}, ErrNotSubscribed
	}
	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-s.done:
		return Message{}, ErrClosed
	case <-s.lost:
		return Message{}, fmt.Errorf("rabbitmq: delivery stream closed: %w", ErrConnectionLost)
	case msg := <-s.merged:
		return msg, nil
	}
}

func (s *RabbitMQSubscriber) Commit(ctx context.Context, msg Message) error {
	d, ok := msg.Receipt().(amqp.Delivery)
	if !ok {
		return errors.New("rabbitmq commit: message has no delivery")
	}
	return d.Ack(false)
}

func (s *RabbitMQSubscriber) Nack(ctx context.Context, msg Message) error {
	d, ok := msg.Receipt().(amqp.Delivery)
	if !ok {
		return errors.New("rabbitmq nack: message has no delivery")
	}
	return d.Nack(false, true)
}

func (s *RabbitMQSubscriber) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		if s.channel != nil {
			err = s.channel.Close()
		}
	})
	return err
}
