package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/unclebandit/promopal-backend/internal/model"
	"github.com/unclebandit/promopal-backend/internal/service"
)

type ProfileService interface {
	Get(ctx context.Context, businessID string) (*model.BusinessProfile, error)
	Upsert(ctx context.Context, businessID string, p model.BusinessProfile) (*model.BusinessProfile, error)
}

type OverviewService interface {
	Get(ctx context.Context, businessID string) (*service.Overview, error)
	Activity(ctx context.Context, businessID string) ([]service.ActivityItem, error)
}

type AppointmentService interface {
	List(ctx context.Context, businessID string) ([]model.Appointment, error)
	Create(ctx context.Context, businessID string, in service.AppointmentInput) (*model.Appointment, error)
}

// BusinessController serves the dashboard: profile, overview and
// appointments.
type BusinessController struct {
	Profiles     ProfileService
	Overview     OverviewService
	Appointments AppointmentService
}

type profileRequest struct {
	BusinessName      string `json:"business_name" validate:"max=200"`
	BusinessCategory  string `json:"business_category" validate:"max=100"`
	Location          string `json:"location" validate:"max=200"`
	BusinessEmail     string `json:"business_email" validate:"omitempty,email"`
	BrandVoice        string `json:"brand_voice" validate:"max=50"`
	ShortBusinessBio  string `json:"short_business_bio" validate:"max=2000"`
	ProductsServices  string `json:"products_services" validate:"max=4000"`
	BusinessMaterials string `json:"business_materials" validate:"max=8000"`
}

type appointmentRequest struct {
	CampaignID      *string          `json:"campaign_id"`
	ClientID        *string          `json:"client_id"`
	AppointmentDate time.Time        `json:"appointment_date" validate:"required"`
	Service         string           `json:"service" validate:"max=200"`
	Status          string           `json:"status" validate:"omitempty,oneof=booked pending cancelled"`
	Amount          *decimal.Decimal `json:"amount"`
}

func (c *BusinessController) GetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := c.Profiles.Get(r.Context(), businessID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (c *BusinessController) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var body profileRequest
	if err := decode(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := c.Profiles.Upsert(r.Context(), businessID(r), model.BusinessProfile{
		BusinessName:      body.BusinessName,
		BusinessCategory:  body.BusinessCategory,
		Location:          body.Location,
		BusinessEmail:     body.BusinessEmail,
		BrandVoice:        body.BrandVoice,
		ShortBusinessBio:  body.ShortBusinessBio,
		ProductsServices:  body.ProductsServices,
		BusinessMaterials: body.BusinessMaterials,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (c *BusinessController) GetOverview(w http.ResponseWriter, r *http.Request) {
	o, err := c.Overview.Get(r.Context(), businessID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (c *BusinessController) GetActivity(w http.ResponseWriter, r *http.Request) {
	items, err := c.Overview.Activity(r.Context(), businessID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": items})
}

func (c *BusinessController) ListAppointments(w http.ResponseWriter, r *http.Request) {
	appts, err := c.Appointments.List(r.Context(), businessID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if appts == nil {
		appts = []model.Appointment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": appts})
}

func (c *BusinessController) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	var body appointmentRequest
	if err := decode(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	a, err := c.Appointments.Create(r.Context(), businessID(r), service.AppointmentInput{
		CampaignID:      body.CampaignID,
		ClientID:        body.ClientID,
		AppointmentDate: body.AppointmentDate,
		Service:         body.Service,
		Status:          body.Status,
		Amount:          body.Amount,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}
