// internal/controller/campaign_controller.go
package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/promopal-backend/internal/model"
	"github.com/unclebandit/promopal-backend/internal/provider/gemini"
	"github.com/unclebandit/promopal-backend/internal/service"
)

// CampaignService is the campaign surface the controller drives.
type CampaignService interface {
	List(ctx context.Context, businessID string, page, pageSize int, status string) ([]*model.Campaign, map[string]int, error)
	Create(ctx context.Context, businessID string, in service.CampaignInput) (*model.Campaign, error)
	Get(ctx context.Context, businessID, id string) (*service.CampaignDetails, error)
	Update(ctx context.Context, businessID, id string, in service.CampaignInput) (*model.Campaign, error)
	Delete(ctx context.Context, businessID, id string, confirm bool) error
	GenerateContent(ctx context.Context, businessID, id string, opts service.GenerateOptions) (*model.Campaign, error)
	GenerateDraftContent(ctx context.Context, businessID string, audience model.Audience, opts service.GenerateOptions) (*gemini.Content, error)
	Schedule(ctx context.Context, businessID, id string, at time.Time) (*model.Campaign, error)
	Unschedule(ctx context.Context, businessID, id string) (*model.Campaign, error)
	Send(ctx context.Context, businessID, id string) (*service.SendResult, error)
	Preview(ctx context.Context, businessID, id, clientID string, override *string) (*service.Preview, error)
	Recipients(ctx context.Context, businessID, id string) ([]model.CampaignRecipient, error)
}

type CampaignController struct {
	CampaignService CampaignService
}

type audienceRequest struct {
	SegmentType string            `json:"segment_type" validate:"max=64"`
	ClientIDs   []string          `json:"client_ids" validate:"max=5000,dive,required"`
	Filters     map[string]string `json:"filters"`
}

func (a *audienceRequest) toModel() model.Audience {
	if a == nil {
		return model.Audience{}
	}
	return model.Audience{SegmentType: a.SegmentType, ClientIDs: a.ClientIDs, Filters: a.Filters}
}

type createCampaignRequest struct {
	Name           string           `json:"name" validate:"required,max=200"`
	Subject        *string          `json:"subject" validate:"omitempty,max=300"`
	Body           *string          `json:"body"`
	TargetAudience *audienceRequest `json:"target_audience"`
}

type updateCampaignRequest struct {
	Name           string           `json:"name" validate:"max=200"`
	Subject        *string          `json:"subject" validate:"omitempty,max=300"`
	Body           *string          `json:"body"`
	TargetAudience *audienceRequest `json:"target_audience"`
}

type generateRequest struct {
	CampaignType           string           `json:"campaign_type" validate:"max=200"`
	SeasonalTheme          string           `json:"seasonal_theme" validate:"max=200"`
	FocusKeywords          string           `json:"focus_keywords" validate:"max=500"`
	CustomPrompt           string           `json:"custom_prompt" validate:"max=4000"`
	AdditionalInstructions string           `json:"additional_instructions" validate:"max=4000"`
	TargetAudience         *audienceRequest `json:"target_audience"`
}

func (g generateRequest) options() service.GenerateOptions {
	return service.GenerateOptions{
		CampaignType:           g.CampaignType,
		SeasonalTheme:          g.SeasonalTheme,
		FocusKeywords:          g.FocusKeywords,
		CustomPrompt:           g.CustomPrompt,
		AdditionalInstructions: g.AdditionalInstructions,
	}
}

type scheduleRequest struct {
	ScheduledAt time.Time `json:"scheduled_at" validate:"required"`
}

type previewRequest struct {
	ClientID         string  `json:"client_id" validate:"required"`
	OverrideTemplate *string `json:"override_template"`
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, pagination, err := c.CampaignService.List(r.Context(), businessID(r),
		queryInt(r, "page"), queryInt(r, "page_size"), r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if campaigns == nil {
		campaigns = []*model.Campaign{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":       campaigns,
		"pagination": pagination,
	})
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var body createCampaignRequest
	if err := decode(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	campaign, err := c.CampaignService.Create(r.Context(), businessID(r), service.CampaignInput{
		Name:     body.Name,
		Subject:  body.Subject,
		Body:     body.Body,
		Audience: body.TargetAudience.toModel(),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, campaign)
}

func (c *CampaignController) GetCampaignDetails(w http.ResponseWriter, r *http.Request) {
	details, err := c.CampaignService.Get(r.Context(), businessID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (c *CampaignController) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	var body updateCampaignRequest
	if err := decode(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	campaign, err := c.CampaignService.Update(r.Context(), businessID(r), chi.URLParam(r, "id"), service.CampaignInput{
		Name:     body.Name,
		Subject:  body.Subject,
		Body:     body.Body,
		Audience: body.TargetAudience.toModel(),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

func (c *CampaignController) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	if err := c.CampaignService.Delete(r.Context(), businessID(r), chi.URLParam(r, "id"), queryBool(r, "confirm")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GenerateDraftContent returns generated copy without storing anything.
func (c *CampaignController) GenerateDraftContent(w http.ResponseWriter, r *http.Request) {
	var body generateRequest
	if err := decodeOptional(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	content, err := c.CampaignService.GenerateDraftContent(r.Context(), businessID(r), body.TargetAudience.toModel(), body.options())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, content)
}

func (c *CampaignController) GenerateContent(w http.ResponseWriter, r *http.Request) {
	var body generateRequest
	if err := decodeOptional(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	campaign, err := c.CampaignService.GenerateContent(r.Context(), businessID(r), chi.URLParam(r, "id"), body.options())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

func (c *CampaignController) ScheduleCampaign(w http.ResponseWriter, r *http.Request) {
	var body scheduleRequest
	if err := decode(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	campaign, err := c.CampaignService.Schedule(r.Context(), businessID(r), chi.URLParam(r, "id"), body.ScheduledAt)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

func (c *CampaignController) UnscheduleCampaign(w http.ResponseWriter, r *http.Request) {
	campaign, err := c.CampaignService.Unschedule(r.Context(), businessID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

func (c *CampaignController) SendCampaign(w http.ResponseWriter, r *http.Request) {
	result, err := c.CampaignService.Send(r.Context(), businessID(r), chi.URLParam(r, "id"))
	if err != nil && result == nil {
		writeError(w, r, err)
		return
	}
	// A result with an error means delivery finished but the status update
	// failed. The service logged it and result.Warning reports it.
	writeJSON(w, http.StatusOK, result)
}

func (c *CampaignController) PersonalizedPreview(w http.ResponseWriter, r *http.Request) {
	var body previewRequest
	if err := decode(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	preview, err := c.CampaignService.Preview(r.Context(), businessID(r), chi.URLParam(r, "id"), body.ClientID, body.OverrideTemplate)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subject":          preview.Subject,
		"rendered_message": preview.Body,
		"used_template":    body.OverrideTemplate,
		"client_id":        body.ClientID,
	})
}

func (c *CampaignController) ListRecipients(w http.ResponseWriter, r *http.Request) {
	rows, err := c.CampaignService.Recipients(r.Context(), businessID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rows == nil {
		rows = []model.CampaignRecipient{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": rows})
}
