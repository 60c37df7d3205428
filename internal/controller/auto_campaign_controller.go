package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/unclebandit/promopal-backend/internal/queue"
	"github.com/unclebandit/promopal-backend/internal/service"
)

type AutoCampaignService interface {
	Generate(ctx context.Context, businessID string) (*service.GenerateResult, error)
	Upcoming(ctx context.Context, businessID string) ([]service.UpcomingCampaign, error)
	NextDate(ctx context.Context, businessID string) (*time.Time, error)
}

type AutoCampaignController struct {
	AutoCampaignService AutoCampaignService
	Queue               queue.Queue
}

func (c *AutoCampaignController) Generate(w http.ResponseWriter, r *http.Request) {
	biz := businessID(r)
	if queueRequested(r, c.Queue) {
		enqueue(w, r, c.Queue, queue.TopicAutoCampaigns, biz)
		return
	}
	res, err := c.AutoCampaignService.Generate(r.Context(), biz)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (c *AutoCampaignController) Upcoming(w http.ResponseWriter, r *http.Request) {
	upcoming, err := c.AutoCampaignService.Upcoming(r.Context(), businessID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if upcoming == nil {
		upcoming = []service.UpcomingCampaign{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": upcoming})
}

func (c *AutoCampaignController) NextDate(w http.ResponseWriter, r *http.Request) {
	next, err := c.AutoCampaignService.NextDate(r.Context(), businessID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"next_date": next})
}
