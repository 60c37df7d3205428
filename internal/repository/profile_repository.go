package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/unclebandit/promopal-backend/internal/model"
)

type ProfileRepositoryInterface interface {
	Get(ctx context.Context, userID string) (*model.BusinessProfile, error)
	Upsert(ctx context.Context, p *model.BusinessProfile) error
}

type ProfileRepository struct {
	DB *sql.DB
}

// Get returns nil, nil when the business never saved a profile.
func (r *ProfileRepository) Get(ctx context.Context, userID string) (*model.BusinessProfile, error) {
	query := `
        SELECT user_id, business_name, business_category, location, business_email, brand_voice,
               short_business_bio, products_services, business_materials, updated_at
        FROM business_profiles WHERE user_id = $1
    `
	var p model.BusinessProfile
	err := r.DB.QueryRowContext(ctx, query, userID).Scan(&p.UserID, &p.BusinessName, &p.BusinessCategory,
		&p.Location, &p.BusinessEmail, &p.BrandVoice, &p.ShortBusinessBio, &p.ProductsServices,
		&p.BusinessMaterials, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ProfileRepository) Upsert(ctx context.Context, p *model.BusinessProfile) error {
	p.UpdatedAt = time.Now().UTC()
	query := `
        INSERT INTO business_profiles (user_id, business_name, business_category, location, business_email,
            brand_voice, short_business_bio, products_services, business_materials, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT (user_id) DO UPDATE SET
            business_name = EXCLUDED.business_name,
            business_category = EXCLUDED.business_category,
            location = EXCLUDED.location,
            business_email = EXCLUDED.business_email,
            brand_voice = EXCLUDED.brand_voice,
            short_business_bio = EXCLUDED.short_business_bio,
            products_services = EXCLUDED.products_services,
            business_materials = EXCLUDED.business_materials,
            updated_at = EXCLUDED.updated_at
    `
	_, err := r.DB.ExecContext(ctx, query, p.UserID, p.BusinessName, p.BusinessCategory, p.Location,
		p.BusinessEmail, p.BrandVoice, p.ShortBusinessBio, p.ProductsServices, p.BusinessMaterials, p.UpdatedAt)
	return err
}

var _ ProfileRepositoryInterface = (*ProfileRepository)(nil)
