package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/promopal-backend/internal/model"
)

type RecipientRepositoryInterface interface {
	Record(ctx context.Context, r *model.CampaignRecipient) error
	ListByCampaign(ctx context.Context, campaignID string) ([]model.CampaignRecipient, error)
	Stats(ctx context.Context, campaignID string) (map[string]int, error)
}

// RecipientRepository stores the per-recipient send ledger.
type RecipientRepository struct {
	DB *sql.DB
}

// Record is idempotent per (campaign, client): a repeated attempt overwrites
// the previous outcome.
func (r *RecipientRepository) Record(ctx context.Context, rec *model.CampaignRecipient) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.AttemptedAt.IsZero() {
		rec.AttemptedAt = time.Now().UTC()
	}
	query := `
        INSERT INTO campaign_recipients (id, campaign_id, client_id, email, status, last_error, attempted_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (campaign_id, client_id)
        DO UPDATE SET status = EXCLUDED.status, last_error = EXCLUDED.last_error, attempted_at = EXCLUDED.attempted_at
    `
	_, err := r.DB.ExecContext(ctx, query, rec.ID, rec.CampaignID, rec.ClientID, rec.Email, rec.Status, rec.LastError, rec.AttemptedAt)
	return err
}

func (r *RecipientRepository) ListByCampaign(ctx context.Context, campaignID string) ([]model.CampaignRecipient, error) {
	query := `
        SELECT id, campaign_id, client_id, email, status, last_error, attempted_at
        FROM campaign_recipients
        WHERE campaign_id = $1
        ORDER BY attempted_at, email
    `
	rows, err := r.DB.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.CampaignRecipient{}
	for rows.Next() {
		var rec model.CampaignRecipient
		if err := rows.Scan(&rec.ID, &rec.CampaignID, &rec.ClientID, &rec.Email, &rec.Status, &rec.LastError, &rec.AttemptedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Stats counts ledger rows by status; "total" is the sum.
func (r *RecipientRepository) Stats(ctx context.Context, campaignID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM campaign_recipients WHERE campaign_id = $1 GROUP BY status`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{"total": 0, model.RecipientSent: 0, model.RecipientFailed: 0}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
		stats["total"] += count
	}
	return stats, rows.Err()
}

var _ RecipientRepositoryInterface = (*RecipientRepository)(nil)
