package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/promopal-backend/internal/errors"
	"github.com/unclebandit/promopal-backend/internal/model"
)

type CampaignRepositoryInterface interface {
	// Campaign CRUD
	List(ctx context.Context, userID string, offset, limit int, status string) ([]*model.Campaign, int, error)
	GetByID(ctx context.Context, userID, id string) (*model.Campaign, error)
	Create(ctx context.Context, c *model.Campaign) error
	Update(ctx context.Context, c *model.Campaign) error
	Delete(ctx context.Context, userID, id string) error

	// Lifecycle
	UpdateContent(ctx context.Context, userID, id, subject, body string) error
	SetSchedule(ctx context.Context, userID, id string, from, to model.CampaignStatus, at *time.Time) error
	MarkSending(ctx context.Context, userID, id string) error
	MarkSent(ctx context.Context, id string, recipientCount int, sentAt time.Time) error
	RecountAppointments(ctx context.Context, id string) error

	// Auto-campaigns
	CreateAuto(ctx context.Context, c *model.Campaign) (bool, error)
	AutoCategoriesOn(ctx context.Context, userID string, day time.Time) ([]string, error)
	ListUpcomingAuto(ctx context.Context, userID string, after time.Time, limit int) ([]*model.Campaign, error)

	TopByBookings(ctx context.Context, userID string) (*model.Campaign, error)
	ListRecentlySent(ctx context.Context, userID string, limit int) ([]*model.Campaign, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, user_id, name, subject, body, audience, status, recipient_count,
        appointments_booked, auto_category, scheduled_at, sent_at, created_at, updated_at`

func scanCampaign(row interface{ Scan(...any) error }) (*model.Campaign, error) {
	var c model.Campaign
	err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.Subject, &c.Body, &c.Audience, &c.Status, &c.RecipientCount,
		&c.AppointmentsBooked, &c.AutoCategory, &c.ScheduledAt, &c.SentAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanCampaigns(rows *sql.Rows) ([]*model.Campaign, error) {
	defer rows.Close()
	campaigns := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	prepareCampaign(c)
	query := `
        INSERT INTO campaigns (id, user_id, name, subject, body, audience, status, recipient_count, auto_category, scheduled_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
    `
	_, err := r.DB.ExecContext(ctx, query, c.ID, c.UserID, c.Name, c.Subject, c.Body, c.Audience, c.Status,
		c.RecipientCount, c.AutoCategory, c.ScheduledAt, c.CreatedAt)
	return err
}

func prepareCampaign(c *model.Campaign) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
}

// Update rewrites the editable fields. Only draft and scheduled campaigns match.
func (r *CampaignRepository) Update(ctx context.Context, c *model.Campaign) error {
	query := `
        UPDATE campaigns
        SET name = $1, subject = $2, body = $3, audience = $4, updated_at = NOW()
        WHERE id = $5 AND user_id = $6 AND status IN ('draft', 'scheduled')
    `
	res, err := r.DB.ExecContext(ctx, query, c.Name, c.Subject, c.Body, c.Audience, c.ID, c.UserID)
	if err != nil {
		return err
	}
	return requireAffected(res, appErrors.NewInvalidState("campaign %s can no longer be edited", c.ID))
}

func (r *CampaignRepository) GetByID(ctx context.Context, userID, id string) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1 AND user_id = $2`
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, id, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) List(ctx context.Context, userID string, offset, limit int, status string) ([]*model.Campaign, int, error) {
	where := ` WHERE user_id = $1`
	args := []any{userID}
	if status != "" {
		where += ` AND status = $2`
		args = append(args, status)
	}

	query := `SELECT ` + campaignColumns + ` FROM campaigns` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	rows, err := r.DB.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	campaigns, err := scanCampaigns(rows)
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	return campaigns, total, nil
}

func (r *CampaignRepository) Delete(ctx context.Context, userID, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM campaigns WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	return requireAffected(res, appErrors.NewCampaignNotFound(id))
}

// ====================== Lifecycle ======================

// UpdateContent stores generated content. Only draft campaigns match.
func (r *CampaignRepository) UpdateContent(ctx context.Context, userID, id, subject, body string) error {
	query := `
        UPDATE campaigns SET subject = $1, body = $2, updated_at = NOW()
        WHERE id = $3 AND user_id = $4 AND status = 'draft'
    `
	res, err := r.DB.ExecContext(ctx, query, subject, body, id, userID)
	if err != nil {
		return err
	}
	return requireAffected(res, appErrors.NewInvalidState("campaign %s is not a draft", id))
}

func (r *CampaignRepository) SetSchedule(ctx context.Context, userID, id string, from, to model.CampaignStatus, at *time.Time) error {
	query := `
        UPDATE campaigns SET status = $1, scheduled_at = $2, updated_at = NOW()
        WHERE id = $3 AND user_id = $4 AND status = $5
    `
	res, err := r.DB.ExecContext(ctx, query, to, at, id, userID, from)
	if err != nil {
		return err
	}
	return requireAffected(res, appErrors.NewInvalidState("campaign %s is not %s", id, from))
}

// MarkSending is the compare-and-set that lets only one send start.
func (r *CampaignRepository) MarkSending(ctx context.Context, userID, id string) error {
	query := `
        UPDATE campaigns SET status = 'sending', updated_at = NOW()
        WHERE id = $1 AND user_id = $2 AND status IN ('draft', 'scheduled')
    `
	res, err := r.DB.ExecContext(ctx, query, id, userID)
	if err != nil {
		return err
	}
	return requireAffected(res, appErrors.NewInvalidState("campaign %s is already sending or sent", id))
}

func (r *CampaignRepository) MarkSent(ctx context.Context, id string, recipientCount int, sentAt time.Time) error {
	query := `
        UPDATE campaigns SET status = 'sent', recipient_count = $1, sent_at = $2, updated_at = NOW()
        WHERE id = $3 AND status = 'sending'
    `
	res, err := r.DB.ExecContext(ctx, query, recipientCount, sentAt, id)
	if err != nil {
		return err
	}
	return requireAffected(res, appErrors.NewInvalidState("campaign %s is not sending", id))
}

func (r *CampaignRepository) RecountAppointments(ctx context.Context, id string) error {
	query := `
        UPDATE campaigns
        SET appointments_booked = (SELECT COUNT(*) FROM appointments WHERE campaign_id = $1), updated_at = NOW()
        WHERE id = $1
    `
	_, err := r.DB.ExecContext(ctx, query, id)
	return err
}

// ====================== Auto-campaigns ======================

// CreateAuto inserts an auto-campaign unless its (user, day, category) slot
// is taken. It reports whether a row was inserted.
func (r *CampaignRepository) CreateAuto(ctx context.Context, c *model.Campaign) (bool, error) {
	prepareCampaign(c)
	query := `
        INSERT INTO campaigns (id, user_id, name, subject, body, audience, status, recipient_count, auto_category, scheduled_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT DO NOTHING
        RETURNING id
    `
	var id string
	err := r.DB.QueryRowContext(ctx, query, c.ID, c.UserID, c.Name, c.Subject, c.Body, c.Audience, c.Status,
		c.RecipientCount, c.AutoCategory, c.ScheduledAt, c.CreatedAt).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// AutoCategoriesOn lists the auto categories already scheduled on the UTC day.
func (r *CampaignRepository) AutoCategoriesOn(ctx context.Context, userID string, day time.Time) ([]string, error) {
	query := `
        SELECT auto_category FROM campaigns
        WHERE user_id = $1 AND auto_category IS NOT NULL
          AND (scheduled_at AT TIME ZONE 'UTC')::date = $2::date
    `
	rows, err := r.DB.QueryContext(ctx, query, userID, day.UTC().Format("2006-01-02"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var cat string
		if err := rows.Scan(&cat); err != nil {
			return nil, err
		}
		categories = append(categories, cat)
	}
	return categories, rows.Err()
}

func (r *CampaignRepository) ListUpcomingAuto(ctx context.Context, userID string, after time.Time, limit int) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns
        WHERE user_id = $1 AND auto_category IS NOT NULL AND status = 'scheduled' AND scheduled_at > $2
        ORDER BY scheduled_at ASC
        LIMIT $3`
	rows, err := r.DB.QueryContext(ctx, query, userID, after, limit)
	if err != nil {
		return nil, err
	}
	return scanCampaigns(rows)
}

// TopByBookings returns nil, nil when no campaign has bookings.
func (r *CampaignRepository) TopByBookings(ctx context.Context, userID string) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns
        WHERE user_id = $1 AND appointments_booked > 0
        ORDER BY appointments_booked DESC, created_at DESC
        LIMIT 1`
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (r *CampaignRepository) ListRecentlySent(ctx context.Context, userID string, limit int) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns
        WHERE user_id = $1 AND status = 'sent' AND sent_at IS NOT NULL
        ORDER BY sent_at DESC
        LIMIT $2`
	rows, err := r.DB.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	return scanCampaigns(rows)
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
