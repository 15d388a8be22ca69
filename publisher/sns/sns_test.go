package sns

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AshkanYarmoradi/go-huddle"
	"github.com/AshkanYarmoradi/go-huddle/publisher"
)

const topicARN = "arn:aws:sns:eu-central-1:123456789012:matches"

var _ huddle.Subscriber = (*Subscriber)(nil)

// mockSNSClient implements SNSClient for testing.
type mockSNSClient struct {
	publishCalls []*sns.PublishInput
	publishErr   error
}

func (m *mockSNSClient) Publish(_ context.Context, params *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	m.publishCalls = append(m.publishCalls, params)
	if m.publishErr != nil {
		return nil, m.publishErr
	}
	return &sns.PublishOutput{MessageId: aws.String("msg-123")}, nil
}

func events() []huddle.Event {
	return []huddle.Event{
		{ID: "evt-1", AggregateID: "match-1", AggregateType: "Match", Type: "MATCH_CANCELED_V1", Version: 3,
			Data: map[string]string{"matchId": "match-1"}},
		{ID: "evt-2", AggregateID: "match-2", AggregateType: "Match", Type: "MATCH_CANCELED_V1", Version: 5,
			Data: map[string]string{"matchId": "match-2"}},
	}
}

func TestSubscriber_Notify(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes envelope with attributes", func(t *testing.T) {
		mock := &mockSNSClient{}
		s := New(topicARN, WithSNSClient(mock))
		assert.Equal(t, "sns", s.Name())

		require.NoError(t, s.Notify(ctx, events()))
		require.Len(t, mock.publishCalls, 2)

		call := mock.publishCalls[0]
		assert.Equal(t, topicARN, *call.TopicArn)
		env, err := publisher.Decode([]byte(*call.Message))
		require.NoError(t, err)
		assert.Equal(t, "match-1", env.AggregateID)
		assert.Equal(t, "MATCH_CANCELED_V1", *call.MessageAttributes[publisher.HeaderEventType].StringValue)
		assert.Equal(t, "String", *call.MessageAttributes[publisher.HeaderVersion].DataType)
		assert.Nil(t, call.MessageGroupId)
	})

	t.Run("fifo groups by aggregate", func(t *testing.T) {
		mock := &mockSNSClient{}
		require.NoError(t, New(topicARN, WithSNSClient(mock), WithFIFO()).Notify(ctx, events()))

		assert.Equal(t, "match-1", *mock.publishCalls[0].MessageGroupId)
		assert.Equal(t, "match-2", *mock.publishCalls[1].MessageGroupId)
		assert.Equal(t, "evt-2", *mock.publishCalls[1].MessageDeduplicationId)
	})

	t.Run("fixed message group", func(t *testing.T) {
		mock := &mockSNSClient{}
		require.NoError(t, New(topicARN, WithSNSClient(mock), WithMessageGroupID("all")).Notify(ctx, events()))
		assert.Equal(t, "all", *mock.publishCalls[1].MessageGroupId)
	})

	t.Run("all events are attempted", func(t *testing.T) {
		mock := &mockSNSClient{publishErr: errors.New("throttled")}
		err := New(topicARN, WithSNSClient(mock)).Notify(ctx, events())
		require.Error(t, err)
		assert.Len(t, mock.publishCalls, 2)
		assert.Contains(t, err.Error(), "throttled")
	})

	t.Run("misconfigured", func(t *testing.T) {
		assert.ErrorContains(t, New(topicARN).Notify(ctx, events()), "client not configured")
		assert.ErrorContains(t, New("", WithSNSClient(&mockSNSClient{})).Notify(ctx, events()), "topic ARN")
	})

	t.Run("client from config", func(t *testing.T) {
		s := New(topicARN, WithConfig(aws.Config{Region: "eu-central-1"}))
		assert.IsType(t, &sns.Client{}, s.client)
	})
}
