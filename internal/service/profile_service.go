package service

import (
	"context"
	"slices"
	"strings"

	appErrors "github.com/unclebandit/promopal-backend/internal/errors"
	"github.com/unclebandit/promopal-backend/internal/model"
	"github.com/unclebandit/promopal-backend/internal/repository"
)

type ProfileService struct {
	ProfileRepo repository.ProfileRepositoryInterface
}

// Get returns an empty profile when none was saved yet.
func (s *ProfileService) Get(ctx context.Context, businessID string) (*model.BusinessProfile, error) {
	p, err := s.ProfileRepo.Get(ctx, businessID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return &model.BusinessProfile{UserID: businessID}, nil
	}
	return p, nil
}

func (s *ProfileService) Upsert(ctx context.Context, businessID string, p model.BusinessProfile) (*model.BusinessProfile, error) {
	p.UserID = businessID
	p.BrandVoice = strings.ToLower(strings.TrimSpace(p.BrandVoice))
	if p.BrandVoice != "" && !slices.Contains(model.BrandVoices, p.BrandVoice) {
		return nil, appErrors.NewValidation("brand_voice", "must be one of "+strings.Join(model.BrandVoices, ", "))
	}
	p.BusinessName = strings.TrimSpace(p.BusinessName)
	p.BusinessCategory = strings.TrimSpace(p.BusinessCategory)
	if err := s.ProfileRepo.Upsert(ctx, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
