package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/promopal-backend/internal/errors"
	"github.com/unclebandit/promopal-backend/internal/logger"
	"github.com/unclebandit/promopal-backend/internal/model"
	"github.com/unclebandit/promopal-backend/internal/provider/square"
	"github.com/unclebandit/promopal-backend/internal/repository"
)

const appointmentListLimit = 200

type AppointmentService struct {
	AppointmentRepo repository.AppointmentRepositoryInterface
	CampaignRepo    repository.CampaignRepositoryInterface
	ClientRepo      repository.ClientRepositoryInterface
	IntegrationRepo repository.IntegrationRepositoryInterface

	WebhookSignatureKey string
	WebhookURL          string
}

type AppointmentInput struct {
	CampaignID      *string
	ClientID        *string
	AppointmentDate time.Time
	Service         string
	Status          string
	Amount          *decimal.Decimal
}

func (s *AppointmentService) List(ctx context.Context, businessID string) ([]model.Appointment, error) {
	return s.AppointmentRepo.ListByUser(ctx, businessID, appointmentListLimit)
}

// Create records an appointment. An attributed campaign must belong to the
// business and has its booking count recomputed.
func (s *AppointmentService) Create(ctx context.Context, businessID string, in AppointmentInput) (*model.Appointment, error) {
	if in.AppointmentDate.IsZero() {
		return nil, appErrors.NewValidation("appointment_date", "appointment date is required")
	}
	status := strings.ToLower(strings.TrimSpace(in.Status))
	switch status {
	case "":
		status = model.AppointmentBooked
	case model.AppointmentBooked, model.AppointmentPending, model.AppointmentCancelled:
	default:
		return nil, appErrors.NewValidation("status", "must be booked, pending or cancelled")
	}

	a := &model.Appointment{
		UserID:          businessID,
		AppointmentDate: in.AppointmentDate.UTC(),
		Service:         strings.TrimSpace(in.Service),
		Status:          status,
	}
	if in.Amount != nil {
		if in.Amount.IsNegative() {
			return nil, appErrors.NewValidation("amount", "must not be negative")
		}
		a.Amount = decimal.NewNullDecimal(*in.Amount)
	}
	if in.CampaignID != nil && *in.CampaignID != "" {
		if _, err := s.CampaignRepo.GetByID(ctx, businessID, *in.CampaignID); err != nil {
			return nil, err
		}
		a.CampaignID = in.CampaignID
	}
	if in.ClientID != nil && *in.ClientID != "" {
		if _, err := s.ClientRepo.GetByID(ctx, businessID, *in.ClientID); err != nil {
			return nil, err
		}
		a.ClientID = in.ClientID
	}

	if _, err := s.AppointmentRepo.Create(ctx, a); err != nil {
		return nil, err
	}
	if a.CampaignID != nil {
		if err := s.CampaignRepo.RecountAppointments(ctx, *a.CampaignID); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// HandleSquareWebhook verifies and applies a booking notification. Events
// other than booking.created, and bookings without a known merchant, are
// acknowledged and ignored.
func (s *AppointmentService) HandleSquareWebhook(ctx context.Context, body []byte, signature string) error {
	if !square.VerifySignature(s.WebhookSignatureKey, s.WebhookURL, body, signature) {
		return appErrors.NewUnauthorized("invalid webhook signature")
	}
	ev, err := square.ParseWebhook(body)
	if err != nil {
		return appErrors.NewValidation("body", "malformed webhook payload")
	}
	log := logger.FromContext(ctx).With(zap.String("event_id", ev.EventID), zap.String("event_type", ev.Type))

	booking := ev.Data.Object.Booking
	if ev.Type != square.EventBookingCreated || booking == nil {
		log.Debug("ignoring webhook event")
		return nil
	}

	integ, err := s.IntegrationRepo.FindActiveByMerchantID(ctx, ev.MerchantID)
	if err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			log.Warn("webhook for unknown merchant", zap.String("merchant_id", ev.MerchantID))
			return nil
		}
		return err
	}
	businessID := integ.UserID

	start, err := time.Parse(time.RFC3339, booking.StartAt)
	if err != nil {
		return appErrors.NewValidation("start_at", "booking has no valid start time")
	}
	bookingID := booking.ID
	a := &model.Appointment{
		UserID:            businessID,
		AppointmentDate:   start.UTC(),
		Service:           booking.Service(),
		Status:            booking.AppointmentStatus(),
		ExternalBookingID: &bookingID,
	}

	if id := booking.CampaignID(); id != "" {
		if _, err := s.CampaignRepo.GetByID(ctx, businessID, id); err == nil {
			a.CampaignID = &id
		} else {
			log.Warn("booking references unknown campaign", zap.String("campaign_id", id))
		}
	}
	if booking.CustomerID != "" {
		if c, err := s.ClientRepo.FindByExternalID(ctx, businessID, booking.CustomerID); err == nil && c != nil {
			a.ClientID = &c.ID
		}
	}

	created, err := s.AppointmentRepo.Create(ctx, a)
	if err != nil {
		return err
	}
	if created && a.CampaignID != nil {
		if err := s.CampaignRepo.RecountAppointments(ctx, *a.CampaignID); err != nil {
			return err
		}
	}
	log.Info("booking webhook applied", zap.Bool("created", created), zap.String("business_id", businessID))
	return nil
}
