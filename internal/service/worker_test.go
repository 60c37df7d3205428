package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/promopal-backend/internal/errors"
	"github.com/unclebandit/promopal-backend/internal/queue"
)

type stubSyncer struct {
	calls     []string
	autoCalls []string
	notDue    bool
	err       error
}

func (s *stubSyncer) SyncIfDue(_ context.Context, businessID string) (*SyncResult, error) {
	s.autoCalls = append(s.autoCalls, businessID)
	if s.notDue {
		return nil, nil
	}
	return &SyncResult{}, nil
}

func (s *stubSyncer) SyncScheduling(_ context.Context, businessID string) (*SyncResult, error) {
	s.calls = append(s.calls, businessID)
	if s.err != nil {
		return nil, s.err
	}
	return &SyncResult{Customers: SyncCounts{Synced: 2}}, nil
}

type stubGenerator struct {
	calls []string
	err   error
}

func (s *stubGenerator) Generate(_ context.Context, businessID string) (*GenerateResult, error) {
	s.calls = append(s.calls, businessID)
	if s.err != nil {
		return nil, s.err
	}
	return &GenerateResult{CampaignsCreated: 1}, nil
}

func TestWorkerDispatchesByTopic(t *testing.T) {
	syncer, gen := &stubSyncer{}, &stubGenerator{}
	q := &recordingQueue{}
	w := NewWorker(syncer, gen, nil)
	require.NoError(t, w.Register(q))
	require.Len(t, q.handlers, 2)

	require.NoError(t, q.handlers[queue.TopicIntegrationSync](context.Background(), []byte(`{"business_id":"b1"}`)))
	require.NoError(t, q.handlers[queue.TopicAutoCampaigns](context.Background(), []byte(`{"business_id":"b2"}`)))

	assert.Equal(t, []string{"b1"}, syncer.calls)
	assert.Equal(t, []string{"b2"}, gen.calls)
}

func TestWorkerAutoSyncJobsHonourSettings(t *testing.T) {
	syncer := &stubSyncer{notDue: true}
	q := &recordingQueue{}
	require.NoError(t, NewWorker(syncer, &stubGenerator{}, nil).Register(q))
	handle := q.handlers[queue.TopicIntegrationSync]

	require.NoError(t, handle(context.Background(), []byte(`{"business_id":"b1","auto":true}`)))
	require.NoError(t, handle(context.Background(), []byte(`{"business_id":"b2"}`)))

	assert.Equal(t, []string{"b1"}, syncer.autoCalls)
	assert.Equal(t, []string{"b2"}, syncer.calls)
}

func TestWorkerRetryDecisions(t *testing.T) {
	cases := map[string]struct {
		err       error
		wantRetry bool
	}{
		"transient":     {errors.New("connection reset"), true},
		"external":      {appErrors.NewExternalService("square", errors.New("503")), true},
		"not connected": {appErrors.NewIntegrationNotConnected("square"), false},
		"token expired": {appErrors.NewIntegrationTokenExpired("square", errors.New("invalid_grant")), false},
		"profile":       {appErrors.NewProfileIncomplete("brand_voice"), false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			q := &recordingQueue{}
			w := NewWorker(&stubSyncer{err: tc.err}, &stubGenerator{err: tc.err}, nil)
			require.NoError(t, w.Register(q))

			err := q.handlers[queue.TopicAutoCampaigns](context.Background(), []byte(`{"business_id":"b1"}`))
			if tc.wantRetry {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWorkerDropsMalformedPayload(t *testing.T) {
	gen := &stubGenerator{}
	q := &recordingQueue{}
	require.NoError(t, NewWorker(&stubSyncer{}, gen, nil).Register(q))

	assert.NoError(t, q.handlers[queue.TopicAutoCampaigns](context.Background(), []byte(`not json`)))
	assert.NoError(t, q.handlers[queue.TopicAutoCampaigns](context.Background(), []byte(`{}`)))
	assert.Empty(t, gen.calls)
}

func TestWorkerWithInMemoryQueue(t *testing.T) {
	gen := &stubGenerator{}
	q := queue.NewInMemoryQueue(nil)
	require.NoError(t, NewWorker(&stubSyncer{}, gen, nil).Register(q))

	require.NoError(t, q.Publish(context.Background(), queue.TopicAutoCampaigns, queue.BusinessJob{BusinessID: "b9"}))
	q.Wait()
	assert.Equal(t, []string{"b9"}, gen.calls)
}
