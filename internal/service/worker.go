package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/promopal-backend/internal/errors"
	"github.com/unclebandit/promopal-backend/internal/logger"
	"github.com/unclebandit/promopal-backend/internal/queue"
)

// SchedulingSyncer is the part of IntegrationService the worker drives.
type SchedulingSyncer interface {
	SyncScheduling(ctx context.Context, businessID string) (*SyncResult, error)
	SyncIfDue(ctx context.Context, businessID string) (*SyncResult, error)
}

// AutoCampaignGenerator is the part of AutoCampaignService the worker drives.
type AutoCampaignGenerator interface {
	Generate(ctx context.Context, businessID string) (*GenerateResult, error)
}

// Worker processes background jobs
type Worker struct {
	Syncer        SchedulingSyncer
	AutoCampaigns AutoCampaignGenerator
	Log           *zap.Logger
}

func NewWorker(syncer SchedulingSyncer, auto AutoCampaignGenerator, log *zap.Logger) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{Syncer: syncer, AutoCampaigns: auto, Log: log}
}

// Register subscribes the worker to every job topic on q.
func (w *Worker) Register(q queue.Queue) error {
	if err := q.Subscribe(queue.TopicIntegrationSync, w.handle(queue.TopicIntegrationSync)); err != nil {
		return err
	}
	return q.Subscribe(queue.TopicAutoCampaigns, w.handle(queue.TopicAutoCampaigns))
}

func (w *Worker) handle(topic string) queue.Handler {
	return func(ctx context.Context, payload []byte) error {
		var job queue.BusinessJob
		if err := json.Unmarshal(payload, &job); err != nil || job.BusinessID == "" {
			// Malformed jobs are dropped.
			w.Log.Error("invalid job payload", zap.String("topic", topic), zap.ByteString("payload", payload))
			return nil
		}
		log := w.Log.With(zap.String("topic", topic), zap.String("business_id", job.BusinessID))
		ctx = logger.WithContext(ctx, log)

		err := w.Process(ctx, topic, job)
		if err == nil {
			return nil
		}
		if permanent(err) {
			log.Warn("job failed permanently", zap.Error(err))
			return nil
		}
		log.Error("job failed", zap.Error(err))
		return err
	}
}

// Process runs one job synchronously.
func (w *Worker) Process(ctx context.Context, topic string, job queue.BusinessJob) error {
	switch topic {
	case queue.TopicIntegrationSync:
		sync := w.Syncer.SyncScheduling
		if job.Auto {
			sync = w.Syncer.SyncIfDue
		}
		res, err := sync(ctx, job.BusinessID)
		if err != nil {
			return err
		}
		if res == nil {
			logger.FromContext(ctx).Debug("sync job skipped, auto sync off or not due")
			return nil
		}
		logger.FromContext(ctx).Info("sync job done",
			zap.Int("customers", res.Customers.Synced), zap.Int("bookings", res.Bookings.Synced))
		return nil
	case queue.TopicAutoCampaigns:
		res, err := w.AutoCampaigns.Generate(ctx, job.BusinessID)
		if err != nil {
			return err
		}
		logger.FromContext(ctx).Info("auto-campaign job done", zap.Int("created", res.CampaignsCreated))
		return nil
	default:
		return fmt.Errorf("unknown topic %q", topic)
	}
}

// permanent reports errors a retry cannot fix.
func permanent(err error) bool {
	for _, target := range []error{
		appErrors.ErrValidation,
		appErrors.ErrNotFound,
		appErrors.ErrIntegrationNotConnected,
		appErrors.ErrIntegrationTokenExpired,
		appErrors.ErrProfileIncomplete,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
