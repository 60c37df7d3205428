package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastQueue() *InMemoryQueue {
	q := NewInMemoryQueue(nil)
	q.Backoff = func(int) time.Duration { return time.Millisecond }
	return q
}

func TestPublishWithoutSubscribers(t *testing.T) {
	q := fastQueue()
	err := q.Publish(context.Background(), TopicAutoCampaigns, BusinessJob{BusinessID: "b1"})
	assert.ErrorContains(t, err, "no subscribers")
}

func TestPublishDeliversJSON(t *testing.T) {
	q := fastQueue()
	got := make(chan BusinessJob, 1)
	require.NoError(t, q.Subscribe(TopicIntegrationSync, func(ctx context.Context, payload []byte) error {
		var job BusinessJob
		require.NoError(t, json.Unmarshal(payload, &job))
		got <- job
		return nil
	}))

	require.NoError(t, q.Publish(context.Background(), TopicIntegrationSync, BusinessJob{BusinessID: "b1"}))
	q.Wait()
	assert.Equal(t, "b1", (<-got).BusinessID)
}

func TestRetryUntilSuccess(t *testing.T) {
	q := fastQueue()
	var calls atomic.Int32
	require.NoError(t, q.Subscribe(TopicAutoCampaigns, func(ctx context.Context, payload []byte) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}))

	require.NoError(t, q.Publish(context.Background(), TopicAutoCampaigns, BusinessJob{BusinessID: "b1"}))
	q.Wait()
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetryIsBounded(t *testing.T) {
	q := fastQueue()
	var calls atomic.Int32
	require.NoError(t, q.Subscribe(TopicAutoCampaigns, func(ctx context.Context, payload []byte) error {
		calls.Add(1)
		return errors.New("permanent")
	}))

	require.NoError(t, q.Publish(context.Background(), TopicAutoCampaigns, BusinessJob{BusinessID: "b1"}))
	q.Wait()
	assert.Equal(t, int32(DefaultMaxRetries+1), calls.Load())
}

func TestPublishedJobOutlivesRequestContext(t *testing.T) {
	q := fastQueue()
	errs := make(chan error, 1)
	require.NoError(t, q.Subscribe(TopicAutoCampaigns, func(ctx context.Context, payload []byte) error {
		errs <- ctx.Err()
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, q.Publish(ctx, TopicAutoCampaigns, BusinessJob{BusinessID: "b1"}))
	cancel()
	q.Wait()
	assert.NoError(t, <-errs)
}

func TestRetryCountHeader(t *testing.T) {
	assert.Equal(t, 0, retryCount(nil))
	assert.Equal(t, 2, retryCount(amqp.Table{retryHeader: int32(2)}))
	assert.Equal(t, 3, retryCount(amqp.Table{retryHeader: int64(3)}))
	assert.Equal(t, 0, retryCount(amqp.Table{retryHeader: "x"}))
}
