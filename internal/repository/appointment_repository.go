package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/promopal-backend/internal/model"
)

type AppointmentRepositoryInterface interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]model.Appointment, error)
	ListRecentlyCreated(ctx context.Context, userID string, limit int) ([]model.Appointment, error)
	Create(ctx context.Context, a *model.Appointment) (bool, error)
	CountBetween(ctx context.Context, userID string, from, to time.Time) (int, error)
}

type AppointmentRepository struct {
	DB *sql.DB
}

const appointmentColumns = `id, user_id, campaign_id, client_id, appointment_date, service, status, amount, external_booking_id, created_at`

func (r *AppointmentRepository) ListByUser(ctx context.Context, userID string, limit int) ([]model.Appointment, error) {
	return r.list(ctx, "appointment_date", userID, limit)
}

// ListRecentlyCreated orders by booking time rather than appointment date.
func (r *AppointmentRepository) ListRecentlyCreated(ctx context.Context, userID string, limit int) ([]model.Appointment, error) {
	return r.list(ctx, "created_at", userID, limit)
}

func (r *AppointmentRepository) list(ctx context.Context, orderBy, userID string, limit int) ([]model.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments
        WHERE user_id = $1
        ORDER BY ` + orderBy + ` DESC
        LIMIT $2`
	rows, err := r.DB.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Appointment{}
	for rows.Next() {
		var a model.Appointment
		if err := rows.Scan(&a.ID, &a.UserID, &a.CampaignID, &a.ClientID, &a.AppointmentDate, &a.Service,
			&a.Status, &a.Amount, &a.ExternalBookingID, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Create inserts the appointment. Bookings already imported under the same
// external id are skipped and reported as not created.
func (r *AppointmentRepository) Create(ctx context.Context, a *model.Appointment) (bool, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.Status == "" {
		a.Status = model.AppointmentBooked
	}
	query := `
        INSERT INTO appointments (id, user_id, campaign_id, client_id, appointment_date, service, status, amount, external_booking_id, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT DO NOTHING
        RETURNING id
    `
	var id string
	err := r.DB.QueryRowContext(ctx, query, a.ID, a.UserID, a.CampaignID, a.ClientID, a.AppointmentDate,
		a.Service, a.Status, a.Amount, a.ExternalBookingID, a.CreatedAt).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CountBetween counts appointments with from <= date < to.
func (r *AppointmentRepository) CountBetween(ctx context.Context, userID string, from, to time.Time) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM appointments WHERE user_id = $1 AND appointment_date >= $2 AND appointment_date < $3`,
		userID, from, to).Scan(&n)
	return n, err
}

var _ AppointmentRepositoryInterface = (*AppointmentRepository)(nil)
