package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/yashrajoria/resibuy-backend/pkg/broker"
)

// SQSAPI is the subset of the SQS client used here.
type SQSAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// ParseQueueURLs reads "topic=url,topic=url" into a map.
func ParseQueueURLs(spec string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(spec, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		topic, url, ok := strings.Cut(pair, "=")
		if !ok || topic == "" || url == "" {
			return nil, fmt.Errorf("invalid queue mapping %q", pair)
		}
		out[strings.TrimSpace(topic)] = strings.TrimSpace(url)
	}
	return out, nil
}

// GetQueueURL retrieves the URL for a queue name
func GetQueueURL(ctx context.Context, cfg aws.Config, queueName string) (string, error) {
	client := sqs.NewFromConfig(cfg)
	result, err := client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{
		QueueName: &queueName,
	})
	if err != nil {
		return "", fmt.Errorf("failed to get queue URL: %w", err)
	}
	return *result.QueueUrl, nil
}

// SQSPublisher sends each topic to its mapped queue. FIFO queues get the
// message key as group id so per-user ordering holds there too.
type SQSPublisher struct {
	client SQSAPI
	queues map[string]string
}

func NewSQSPublisher(client SQSAPI, queues map[string]string) *SQSPublisher {
	return &SQSPublisher{client: client, queues: queues}
}

func (p *SQSPublisher) Publish(ctx context.Context, msg broker.Message) error {
	url, ok := p.queues[msg.Topic]
	if !ok {
		return fmt.Errorf("no queue configured for topic %s", msg.Topic)
	}
	body := string(msg.Value)
	in := &sqs.SendMessageInput{
		QueueUrl:          aws.String(url),
		MessageBody:       aws.String(body),
		MessageAttributes: toAttributes(msg.Key, msg.Headers),
	}
	if strings.HasSuffix(url, ".fifo") {
		group := msg.Key
		if group == "" {
			group = msg.Topic
		}
		in.MessageGroupId = aws.String(group)
	}
	if _, err := p.client.SendMessage(ctx, in); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

func (p *SQSPublisher) Close() error { return nil }

// SQSSubscriber long-polls the queues of its topics. Commit deletes the
// message; Nack makes it visible again immediately.
type SQSSubscriber struct {
	client SQSAPI
	queues map[string]string

	mu      sync.Mutex
	topics  []string
	next    int
	buffer  []broker.Message
	closed  bool
	waitSec int32
}

func NewSQSSubscriber(client SQSAPI, queues map[string]string) *SQSSubscriber {
	return &SQSSubscriber{client: client, queues: queues, waitSec: 20}
}

func (s *SQSSubscriber) Subscribe(ctx context.Context, topics ...string) error {
	for _, t := range topics {
		if _, ok := s.queues[t]; !ok {
			return fmt.Errorf("no queue configured for topic %s", t)
		}
	}
	s.mu.Lock()
	s.topics = append([]string(nil), topics...)
	s.mu.Unlock()
	return nil
}

func (s *SQSSubscriber) Poll(ctx context.Context) (broker.Message, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return broker.Message{}, broker.ErrClosed
		}
		if len(s.topics) == 0 {
			s.mu.Unlock()
			return broker.Message{}, broker.ErrNotSubscribed
		}
		if len(s.buffer) > 0 {
			msg := s.buffer[0]
			s.buffer = s.buffer[1:]
			s.mu.Unlock()
			return msg, nil
		}
		topic := s.topics[s.next%len(s.topics)]
		s.next++
		s.mu.Unlock()

		msgs, err := s.receive(ctx, topic)
		if err != nil {
			return broker.Message{}, err
		}
		if len(msgs) == 0 {
			if err := ctx.Err(); err != nil {
				return broker.Message{}, err
			}
			continue
		}
		s.mu.Lock()
		s.buffer = append(s.buffer, msgs...)
		s.mu.Unlock()
	}
}

// snsEnvelope unwraps the SNS → SQS message wrapper
type snsEnvelope struct {
	Type     string `json:"Type"`
	Message  string `json:"Message"`
	TopicArn string `json:"TopicArn"`
}

func (s *SQSSubscriber) receive(ctx context.Context, topic string) ([]broker.Message, error) {
	url := s.queues[topic]
	result, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(url),
		MaxNumberOfMessages:   10,
		WaitTimeSeconds:       s.waitSec,
		VisibilityTimeout:     30,
		MessageAttributeNames: []string{"All"},
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to receive messages: %w", err)
	}

	out := make([]broker.Message, 0, len(result.Messages))
	for _, m := range result.Messages {
		if m.Body == nil {
			continue
		}
		body := *m.Body
		var env snsEnvelope
		if json.Unmarshal([]byte(body), &env) == nil && env.Type == "Notification" && env.TopicArn != "" {
			body = env.Message
		}
		msg := broker.Message{
			Topic:   topic,
			Value:   []byte(body),
			Headers: make(map[string]string),
		}
		for k, v := range m.MessageAttributes {
			if v.StringValue == nil {
				continue
			}
			if k == "key" {
				msg.Key = *v.StringValue
				continue
			}
			msg.Headers[k] = *v.StringValue
		}
		if rc, ok := m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]; ok {
			if n, err := strconv.ParseInt(rc, 10, 64); err == nil {
				msg.Offset = n
			}
		}
		out = append(out, msg.WithReceipt(sqsReceipt{queueURL: url, handle: aws.ToString(m.ReceiptHandle)}))
	}
	return out, nil
}

type sqsReceipt struct {
	queueURL string
	handle   string
}

func receiptOf(msg broker.Message) (sqsReceipt, error) {
	r, ok := msg.Receipt().(sqsReceipt)
	if !ok || r.handle == "" {
		return sqsReceipt{}, errors.New("sqs: message has no receipt handle")
	}
	return r, nil
}

func (s *SQSSubscriber) Commit(ctx context.Context, msg broker.Message) error {
	r, err := receiptOf(msg)
	if err != nil {
		return err
	}
	if _, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(r.queueURL),
		ReceiptHandle: aws.String(r.handle),
	}); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

func (s *SQSSubscriber) Nack(ctx context.Context, msg broker.Message) error {
	r, err := receiptOf(msg)
	if err != nil {
		return err
	}
	_, err = s.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(r.queueURL),
		ReceiptHandle:     aws.String(r.handle),
		VisibilityTimeout: 0,
	})
	return err
}

// Close drops buffered messages; their visibility timeout returns them to
// the queue.
func (s *SQSSubscriber) Close() error {
	s.mu.Lock()
	s.closed = true
	s.buffer = nil
	s.mu.Unlock()
	return nil
}

func toAttributes(key string, headers map[string]string) map[string]types.MessageAttributeValue {
	attrs := make(map[string]types.MessageAttributeValue, len(headers)+1)
	if key != "" {
		attrs["key"] = types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(key)}
	}
	for k, v := range headers {
		attrs[k] = types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v)}
	}
	return attrs
}
