// Package sqs implements the event bus on an SQS FIFO queue. Ordering is
// carried by MessageGroupId and duplicate suppression by
// MessageDeduplicationId.
package sqs

import (
	"context"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/acme/outbound-survey/internal/bus"
	"github.com/acme/outbound-survey/internal/config"
	apperrors "github.com/acme/outbound-survey/pkg/errors"
)

const maxReceiveBatch = 10

// Bus is both publisher and consumer for a single FIFO queue.
type Bus struct {
	client            *awssqs.Client
	queueURL          string
	waitTime          time.Duration
	visibilityTimeout time.Duration
}

// New constructs the SQS bus from config.
func New(ctx context.Context, cfg config.BusConfig) (*Bus, error) {
	if cfg.QueueURL == "" {
		return nil, fmt.Errorf("%w: sqs queue_url is required", apperrors.ErrConfiguration)
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: load aws config: %v", apperrors.ErrConfiguration, err)
	}

	return &Bus{
		client:            awssqs.NewFromConfig(awsCfg),
		queueURL:          cfg.QueueURL,
		waitTime:          cfg.WaitTime,
		visibilityTimeout: cfg.VisibilityTimeout,
	}, nil
}

// Publish sends one message with its group and deduplication identifiers.
func (b *Bus) Publish(ctx context.Context, msg bus.Message) error {
	attrs := make(map[string]types.MessageAttributeValue, len(msg.Attributes))
	for k, v := range msg.Attributes {
		attrs[k] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(v),
		}
	}

	_, err := b.client.SendMessage(ctx, &awssqs.SendMessageInput{
		QueueUrl:               aws.String(b.queueURL),
		MessageBody:            aws.String(string(msg.Body)),
		MessageGroupId:         aws.String(msg.GroupID),
		MessageDeduplicationId: aws.String(msg.DeduplicationID),
		MessageAttributes:      attrs,
	})
	if err != nil {
		return fmt.Errorf("%w: sqs send: %v", apperrors.ErrUnavailable, err)
	}
	return nil
}

// Receive long-polls for up to maxReceiveBatch messages.
func (b *Bus) Receive(ctx context.Context) ([]bus.Message, error) {
	waitSeconds := int32(b.waitTime / time.Second)
	if waitSeconds > 20 {
		waitSeconds = 20
	}

	input := &awssqs.ReceiveMessageInput{
		QueueUrl:              aws.String(b.queueURL),
		MaxNumberOfMessages:   maxReceiveBatch,
		WaitTimeSeconds:       waitSeconds,
		MessageAttributeNames: []string{"All"},
	}
	if b.visibilityTimeout > 0 {
		input.VisibilityTimeout = int32(b.visibilityTimeout / time.Second)
	}

	out, err := b.client.ReceiveMessage(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("%w: sqs receive: %v", apperrors.ErrUnavailable, err)
	}

	msgs := make([]bus.Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		attrs := make(map[string]string, len(m.MessageAttributes))
		for k, v := range m.MessageAttributes {
			if v.StringValue != nil {
				attrs[k] = *v.StringValue
			}
		}
		msgs = append(msgs, bus.Message{
			Body:       []byte(aws.ToString(m.Body)),
			Attributes: attrs,
			Receipt:    aws.ToString(m.ReceiptHandle),
		})
	}
	return msgs, nil
}

// Ack deletes the message from the queue.
func (b *Bus) Ack(ctx context.Context, msg bus.Message) error {
	receipt, ok := msg.Receipt.(string)
	if !ok || receipt == "" {
		return fmt.Errorf("sqs ack: message has no receipt handle")
	}

	_, err := b.client.DeleteMessage(ctx, &awssqs.DeleteMessageInput{
		QueueUrl:      aws.String(b.queueURL),
		ReceiptHandle: aws.String(receipt),
	})
	if err != nil {
		return fmt.Errorf("%w: sqs delete: %v", apperrors.ErrUnavailable, err)
	}
	return nil
}

// Close is a no-op; the SDK client holds no long-lived connections.
func (b *Bus) Close() error { return nil }
