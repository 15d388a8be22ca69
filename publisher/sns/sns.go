// Package sns provides a subscriber that publishes committed events to an
// AWS SNS topic.
package sns

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/AshkanYarmoradi/go-huddle"
	"github.com/AshkanYarmoradi/go-huddle/publisher"
)

// SNSClient defines the subset of the SNS API used by the subscriber.
type SNSClient interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Subscriber publishes events to an SNS topic.
type Subscriber struct {
	client         SNSClient
	topicARN       string
	fifo           bool
	messageGroupID string
}

// Option configures an SNS Subscriber.
type Option func(*Subscriber)

// WithSNSClient sets a custom SNS client.
func WithSNSClient(client SNSClient) Option {
	return func(s *Subscriber) {
		s.client = client
	}
}

// WithConfig builds the SNS client from an AWS configuration.
func WithConfig(cfg aws.Config) Option {
	return func(s *Subscriber) {
		s.client = sns.NewFromConfig(cfg)
	}
}

// WithFIFO marks the topic as FIFO. Each aggregate becomes its own message
// group and the event ID is the deduplication ID.
func WithFIFO() Option {
	return func(s *Subscriber) {
		s.fifo = true
	}
}

// WithMessageGroupID puts every message of a FIFO topic in one group.
func WithMessageGroupID(groupID string) Option {
	return func(s *Subscriber) {
		s.fifo = true
		s.messageGroupID = groupID
	}
}

// New creates a new SNS Subscriber for topicARN.
func New(topicARN string, opts ...Option) *Subscriber {
	s := &Subscriber{topicARN: topicARN}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Name implements huddle.Subscriber.
func (s *Subscriber) Name() string {
	return "sns"
}

// Notify publishes each event as one SNS message.
// All events are attempted even if some fail; errors are joined.
func (s *Subscriber) Notify(ctx context.Context, events []huddle.Event) error {
	if s.client == nil {
		return fmt.Errorf("sns: client not configured")
	}
	if s.topicARN == "" {
		return fmt.Errorf("sns: topic ARN not configured")
	}

	var errs []error
	for _, e := range events {
		body, err := publisher.Encode(e)
		if err != nil {
			errs = append(errs, fmt.Errorf("sns: %w", err))
			continue
		}

		input := &sns.PublishInput{
			TopicArn:          aws.String(s.topicARN),
			Message:           aws.String(string(body)),
			MessageAttributes: make(map[string]types.MessageAttributeValue),
		}
		for k, v := range publisher.Headers(e) {
			input.MessageAttributes[k] = types.MessageAttributeValue{
				DataType:    aws.String("String"),
				StringValue: aws.String(v),
			}
		}

		if s.fifo {
			group := s.messageGroupID
			if group == "" {
				group = e.AggregateID
			}
			input.MessageGroupId = aws.String(group)
			input.MessageDeduplicationId = aws.String(e.ID)
		}

		if _, err := s.client.Publish(ctx, input); err != nil {
			errs = append(errs, fmt.Errorf("sns: failed to publish %s v%d of %q: %w", e.Type, e.Version, e.AggregateID, err))
		}
	}

	return errors.Join(errs...)
}
