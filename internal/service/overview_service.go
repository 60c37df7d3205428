package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/unclebandit/promopal-backend/internal/model"
	"github.com/unclebandit/promopal-backend/internal/repository"
)

type OverviewService struct {
	AppointmentRepo repository.AppointmentRepositoryInterface
	CampaignRepo    repository.CampaignRepositoryInterface
	Now             func() time.Time
}

type Overview struct {
	AppointmentsLast30Days int             `json:"appointments_last_30_days"`
	AppointmentsLast7Days  int             `json:"appointments_last_7_days"`
	GrowthPercent          float64         `json:"growth_percent"`
	TopCampaign            *model.Campaign `json:"top_campaign"`
}

func (s *OverviewService) Get(ctx context.Context, businessID string) (*Overview, error) {
	now := nowFunc(s.Now).UTC()
	d30 := now.AddDate(0, 0, -30)
	d60 := now.AddDate(0, 0, -60)
	d7 := now.AddDate(0, 0, -7)

	cur, err := s.AppointmentRepo.CountBetween(ctx, businessID, d30, now)
	if err != nil {
		return nil, err
	}
	prev, err := s.AppointmentRepo.CountBetween(ctx, businessID, d60, d30)
	if err != nil {
		return nil, err
	}
	week, err := s.AppointmentRepo.CountBetween(ctx, businessID, d7, now)
	if err != nil {
		return nil, err
	}
	top, err := s.CampaignRepo.TopByBookings(ctx, businessID)
	if err != nil {
		return nil, err
	}

	return &Overview{
		AppointmentsLast30Days: cur,
		AppointmentsLast7Days:  week,
		GrowthPercent:          Growth(cur, prev),
		TopCampaign:            top,
	}, nil
}

const (
	ActivityCampaignSent      = "campaign_sent"
	ActivityAppointmentBooked = "appointment_booked"

	activityPerKind = 3
	activityLimit   = 5
)

type ActivityItem struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Activity merges the latest sent campaigns and new bookings, newest first.
func (s *OverviewService) Activity(ctx context.Context, businessID string) ([]ActivityItem, error) {
	sent, err := s.CampaignRepo.ListRecentlySent(ctx, businessID, activityPerKind)
	if err != nil {
		return nil, err
	}
	booked, err := s.AppointmentRepo.ListRecentlyCreated(ctx, businessID, activityPerKind)
	if err != nil {
		return nil, err
	}

	items := make([]ActivityItem, 0, len(sent)+len(booked))
	for _, c := range sent {
		items = append(items, ActivityItem{
			ID:          "campaign-" + c.ID,
			Type:        ActivityCampaignSent,
			Description: fmt.Sprintf("Campaign %q sent to %d clients", c.Name, c.RecipientCount),
			OccurredAt:  *c.SentAt,
		})
	}
	for _, a := range booked {
		desc := "New appointment booked"
		if a.CampaignID != nil {
			desc += " from campaign"
		}
		items = append(items, ActivityItem{
			ID:          "appointment-" + a.ID,
			Type:        ActivityAppointmentBooked,
			Description: desc,
			OccurredAt:  a.CreatedAt,
		})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].OccurredAt.After(items[j].OccurredAt) })
	if len(items) > activityLimit {
		items = items[:activityLimit]
	}
	return items, nil
}

// Growth is the percent change from prev to cur, rounded to one decimal.
// With no previous activity any current activity counts as 100%.
func Growth(cur, prev int) float64 {
	var g float64
	switch {
	case prev > 0:
		g = float64(cur-prev) / float64(prev) * 100
	case cur > 0:
		g = 100
	}
	return math.Round(g*10) / 10
}
