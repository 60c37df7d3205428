package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/promopal-backend/internal/metrics"
)

const (
	TopicIntegrationSync = "integration_sync"
	TopicAutoCampaigns   = "auto_campaigns"

	DefaultMaxRetries = 3
)

// BusinessJob is the payload of every topic: the business to act on.
// Auto marks jobs raised by the system rather than a user request; the
// worker honours the business's sync settings for those.
type BusinessJob struct {
	BusinessID string `json:"business_id"`
	Auto       bool   `json:"auto,omitempty"`
}

// Handler processes one JSON payload. A non-nil error triggers a retry.
type Handler func(ctx context.Context, payload []byte) error

// Queue moves background jobs between the API and the worker.
type Queue interface {
	Publish(ctx context.Context, topic string, payload any) error
	Subscribe(topic string, handler Handler) error
}

// InMemoryQueue delivers jobs to in-process subscribers with retry.
type InMemoryQueue struct {
	mu         sync.Mutex
	handlers   map[string][]Handler
	wg         sync.WaitGroup
	MaxRetries int
	Backoff    func(attempt int) time.Duration
	Log        *zap.Logger
}

func NewInMemoryQueue(log *zap.Logger) *InMemoryQueue {
	if log == nil {
		log = zap.NewNop()
	}
	return &InMemoryQueue{
		handlers:   make(map[string][]Handler),
		MaxRetries: DefaultMaxRetries,
		Backoff:    func(attempt int) time.Duration { return time.Duration(attempt*500) * time.Millisecond },
		Log:        log,
	}
}

// Publish hands payload to every subscriber of topic.
func (q *InMemoryQueue) Publish(ctx context.Context, topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", topic, err)
	}

	q.mu.Lock()
	handlers := q.handlers[topic]
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	for _, h := range handlers {
		q.wg.Add(1)
		go q.process(context.WithoutCancel(ctx), topic, h, body)
	}
	return nil
}

func (q *InMemoryQueue) process(ctx context.Context, topic string, h Handler, body []byte) {
	defer q.wg.Done()
	log := q.Log.With(zap.String("topic", topic))

	for attempt := 0; ; attempt++ {
		err := h(ctx, body)
		if err == nil {
			metrics.JobProcessed(topic, "ok")
			log.Debug("job processed", zap.Int("attempt", attempt+1))
			return
		}
		if attempt >= q.MaxRetries {
			metrics.JobProcessed(topic, "dead")
			log.Error("job permanently failed", zap.Int("attempts", attempt+1), zap.Error(err))
			return
		}
		metrics.JobProcessed(topic, "retry")
		log.Warn("job failed, retrying", zap.Int("attempt", attempt+1), zap.Error(err))
		time.Sleep(q.Backoff(attempt + 1))
	}
}

func (q *InMemoryQueue) Subscribe(topic string, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Wait blocks until every published job has finished.
func (q *InMemoryQueue) Wait() {
	q.wg.Wait()
}
