package aws

import (
	"context"
	"fmt"
	"strings"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/yashrajoria/resibuy-backend/pkg/broker"
)

// SNSAPI is the subset of the SNS client used here.
type SNSAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSPublisher fans a topic out through SNS; consumers read the subscribed
// SQS queues with SQSSubscriber, which unwraps the SNS envelope.
type SNSPublisher struct {
	client SNSAPI
	arns   map[string]string
}

func NewSNSPublisher(client SNSAPI, topicARNs map[string]string) *SNSPublisher {
	return &SNSPublisher{client: client, arns: topicARNs}
}

func NewSNSClient(cfg sdkaws.Config) *sns.Client {
	return sns.NewFromConfig(cfg)
}

func (p *SNSPublisher) Publish(ctx context.Context, msg broker.Message) error {
	arn, ok := p.arns[msg.Topic]
	if !ok || arn == "" {
		return fmt.Errorf("no SNS topic configured for %s", msg.Topic)
	}

	in := &sns.PublishInput{
		TopicArn:          sdkaws.String(arn),
		Message:           sdkaws.String(string(msg.Value)),
		MessageAttributes: make(map[string]types.MessageAttributeValue, len(msg.Headers)+1),
	}
	if msg.Key != "" {
		in.MessageAttributes["key"] = types.MessageAttributeValue{DataType: sdkaws.String("String"), StringValue: sdkaws.String(msg.Key)}
	}
	for k, v := range msg.Headers {
		in.MessageAttributes[k] = types.MessageAttributeValue{DataType: sdkaws.String("String"), StringValue: sdkaws.String(v)}
	}
	if strings.HasSuffix(arn, ".fifo") && msg.Key != "" {
		in.MessageGroupId = sdkaws.String(msg.Key)
	}

	if _, err := p.client.Publish(ctx, in); err != nil {
		return fmt.Errorf("sns publish failed for topic %s: %w", arn, err)
	}
	return nil
}

func (p *SNSPublisher) Close() error { return nil }
