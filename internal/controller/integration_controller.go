package controller

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/unclebandit/promopal-backend/internal/logger"
	"github.com/unclebandit/promopal-backend/internal/model"
	"github.com/unclebandit/promopal-backend/internal/queue"
	"github.com/unclebandit/promopal-backend/internal/service"
)

type IntegrationService interface {
	List(ctx context.Context, businessID string) ([]model.Integration, error)
	AuthURL(ctx context.Context, businessID, provider string) (string, error)
	Disconnect(ctx context.Context, businessID, provider string) error
	SendTestEmail(ctx context.Context, businessID string, msg service.TestEmail) error
	SyncScheduling(ctx context.Context, businessID string) (*service.SyncResult, error)
	UpdateSettings(ctx context.Context, businessID, provider string, upd service.SettingsUpdate) (*model.Integration, error)
}

type IntegrationController struct {
	IntegrationService IntegrationService
	Queue              queue.Queue
}

type testEmailRequest struct {
	To      string `json:"to" validate:"required,email"`
	Subject string `json:"subject" validate:"required,max=300"`
	Body    string `json:"body" validate:"required"`
	From    string `json:"from" validate:"omitempty,max=320"`
}

type settingsRequest struct {
	AutoSync     *bool   `json:"auto_sync"`
	SyncInterval *string `json:"sync_interval" validate:"omitempty,max=20"`
	LocationID   *string `json:"location_id" validate:"omitempty,max=100"`
	SenderEmail  *string `json:"sender_email" validate:"omitempty,max=320"`
}

func (c *IntegrationController) ListIntegrations(w http.ResponseWriter, r *http.Request) {
	integrations, err := c.IntegrationService.List(r.Context(), businessID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if integrations == nil {
		integrations = []model.Integration{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": integrations})
}

func (c *IntegrationController) AuthURL(w http.ResponseWriter, r *http.Request) {
	url, err := c.IntegrationService.AuthURL(r.Context(), businessID(r), chi.URLParam(r, "provider"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"auth_url": url})
}

func (c *IntegrationController) Disconnect(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	if err := c.IntegrationService.Disconnect(r.Context(), businessID(r), provider); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"provider": provider, "connected": false})
}

func (c *IntegrationController) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var body settingsRequest
	if err := decode(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	integ, err := c.IntegrationService.UpdateSettings(r.Context(), businessID(r), chi.URLParam(r, "provider"),
		service.SettingsUpdate{
			AutoSync:     body.AutoSync,
			SyncInterval: body.SyncInterval,
			LocationID:   body.LocationID,
			SenderEmail:  body.SenderEmail,
		})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, integ)
}

func (c *IntegrationController) SendTestEmail(w http.ResponseWriter, r *http.Request) {
	var body testEmailRequest
	if err := decode(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	err := c.IntegrationService.SendTestEmail(r.Context(), businessID(r), service.TestEmail{
		To:      body.To,
		Subject: body.Subject,
		Body:    body.Body,
		From:    body.From,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sent": true, "to": body.To})
}

// SyncScheduling imports from the booking platform. With ?async=true the
// work is queued and 202 is returned.
func (c *IntegrationController) SyncScheduling(w http.ResponseWriter, r *http.Request) {
	biz := businessID(r)
	if queueRequested(r, c.Queue) {
		enqueue(w, r, c.Queue, queue.TopicIntegrationSync, biz)
		return
	}
	result, err := c.IntegrationService.SyncScheduling(r.Context(), biz)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func queueRequested(r *http.Request, q queue.Queue) bool {
	return q != nil && queryBool(r, "async")
}

func enqueue(w http.ResponseWriter, r *http.Request, q queue.Queue, topic, biz string) {
	if err := q.Publish(r.Context(), topic, queue.BusinessJob{BusinessID: biz}); err != nil {
		writeError(w, r, err)
		return
	}
	logger.FromContext(r.Context()).Info("job queued", zap.String("topic", topic))
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "topic": topic})
}
