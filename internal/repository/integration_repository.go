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

// IntegrationRepositoryInterface is the credential store. At most one row per
// (user, provider) is active at a time.
type IntegrationRepositoryInterface interface {
	ListByUser(ctx context.Context, userID string) ([]model.Integration, error)
	GetActive(ctx context.Context, userID string, provider model.Provider) (*model.Integration, error)
	GetByID(ctx context.Context, id string) (*model.Integration, error)
	FindActiveByMerchantID(ctx context.Context, merchantID string) (*model.Integration, error)
	UpsertActive(ctx context.Context, integ *model.Integration) error
	UpdateTokens(ctx context.Context, id string, set model.TokenSet) error
	UpdateSettings(ctx context.Context, id string, settings model.Settings) error
	Deactivate(ctx context.Context, id string, settings model.Settings) error
}

type IntegrationRepository struct {
	DB *sql.DB
}

const integrationColumns = `id, user_id, provider, access_token, refresh_token, token_expiry, is_active, settings, created_at, updated_at`

func scanIntegration(row interface{ Scan(...any) error }) (*model.Integration, error) {
	var i model.Integration
	err := row.Scan(&i.ID, &i.UserID, &i.Provider, &i.AccessToken, &i.RefreshToken, &i.TokenExpiry,
		&i.IsActive, &i.Settings, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &i, nil
}

func (r *IntegrationRepository) ListByUser(ctx context.Context, userID string) ([]model.Integration, error) {
	query := `SELECT ` + integrationColumns + ` FROM integrations WHERE user_id = $1 AND is_active ORDER BY provider`
	rows, err := r.DB.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Integration{}
	for rows.Next() {
		i, err := scanIntegration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *i)
	}
	return out, rows.Err()
}

// GetActive returns the active integration or an IntegrationNotConnectedError.
func (r *IntegrationRepository) GetActive(ctx context.Context, userID string, provider model.Provider) (*model.Integration, error) {
	query := `SELECT ` + integrationColumns + ` FROM integrations WHERE user_id = $1 AND provider = $2 AND is_active`
	i, err := scanIntegration(r.DB.QueryRowContext(ctx, query, userID, provider))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewIntegrationNotConnected(string(provider))
		}
		return nil, err
	}
	return i, nil
}

func (r *IntegrationRepository) GetByID(ctx context.Context, id string) (*model.Integration, error) {
	query := `SELECT ` + integrationColumns + ` FROM integrations WHERE id = $1`
	i, err := scanIntegration(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewNotFound("integration", id)
		}
		return nil, err
	}
	return i, nil
}

func (r *IntegrationRepository) FindActiveByMerchantID(ctx context.Context, merchantID string) (*model.Integration, error) {
	query := `SELECT ` + integrationColumns + ` FROM integrations
        WHERE provider = 'square' AND is_active AND settings->'scheduling'->>'merchant_id' = $1`
	i, err := scanIntegration(r.DB.QueryRowContext(ctx, query, merchantID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewNotFound("merchant", merchantID)
		}
		return nil, err
	}
	return i, nil
}

// UpsertActive deactivates any active row for the same (user, provider) and
// inserts integ as the new active row, in one transaction.
func (r *IntegrationRepository) UpsertActive(ctx context.Context, integ *model.Integration) error {
	if err := integ.Settings.Check(integ.Provider); err != nil {
		return appErrors.NewValidation("settings", err.Error())
	}
	if integ.ID == "" {
		integ.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	integ.IsActive = true
	integ.CreatedAt, integ.UpdatedAt = now, now

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE integrations SET is_active = FALSE, updated_at = NOW() WHERE user_id = $1 AND provider = $2 AND is_active`,
		integ.UserID, integ.Provider); err != nil {
		return fmt.Errorf("deactivate previous integration: %w", err)
	}

	query := `
        INSERT INTO integrations (id, user_id, provider, access_token, refresh_token, token_expiry, is_active, settings, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7, $8, $9)
    `
	if _, err := tx.ExecContext(ctx, query, integ.ID, integ.UserID, integ.Provider, integ.AccessToken,
		integ.RefreshToken, integ.TokenExpiry, integ.Settings, integ.CreatedAt, integ.UpdatedAt); err != nil {
		return fmt.Errorf("insert integration: %w", err)
	}
	return tx.Commit()
}

// UpdateTokens locks the row and writes the refreshed credentials.
func (r *IntegrationRepository) UpdateTokens(ctx context.Context, id string, set model.TokenSet) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var locked string
	if err := tx.QueryRowContext(ctx, `SELECT id FROM integrations WHERE id = $1 FOR UPDATE`, id).Scan(&locked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.NewNotFound("integration", id)
		}
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE integrations SET access_token = $1, refresh_token = $2, token_expiry = $3, updated_at = NOW() WHERE id = $4`,
		set.AccessToken, set.RefreshToken, set.Expiry, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *IntegrationRepository) UpdateSettings(ctx context.Context, id string, settings model.Settings) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE integrations SET settings = $1, updated_at = NOW() WHERE id = $2`, settings, id)
	if err != nil {
		return err
	}
	return requireAffected(res, appErrors.NewNotFound("integration", id))
}

// Deactivate soft-deletes the row; it is kept for audit.
func (r *IntegrationRepository) Deactivate(ctx context.Context, id string, settings model.Settings) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE integrations SET is_active = FALSE, settings = $1, updated_at = NOW() WHERE id = $2`, settings, id)
	if err != nil {
		return err
	}
	return requireAffected(res, appErrors.NewNotFound("integration", id))
}

var _ IntegrationRepositoryInterface = (*IntegrationRepository)(nil)
