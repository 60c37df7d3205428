package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/mcnijman/go-emailaddress"

	appErrors "github.com/unclebandit/promopal-backend/internal/errors"
	"github.com/unclebandit/promopal-backend/internal/model"
	"github.com/unclebandit/promopal-backend/internal/repository"
	"github.com/unclebandit/promopal-backend/internal/segment"
)

type ClientService struct {
	ClientRepo repository.ClientRepositoryInterface
	Segments   *segment.Engine
	Now        func() time.Time
}

type ClientInput struct {
	Name      string
	Email     string
	Phone     *string
	LastVisit *time.Time
	Tags      []string
}

// List returns the roster, filtered by a segment selector when one is given.
func (s *ClientService) List(ctx context.Context, businessID, selector string) ([]model.Client, error) {
	clients, err := s.ClientRepo.ListByUser(ctx, businessID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(selector) == "" {
		return clients, nil
	}
	sel, err := segment.ParseSelector(selector)
	if err != nil {
		return nil, err
	}
	engine := s.Segments
	if engine == nil {
		engine = segment.NewEngine(nil)
	}
	return engine.Resolve(model.Audience{SegmentType: sel.String()}, clients, nowFunc(s.Now)), nil
}

func (s *ClientService) Get(ctx context.Context, businessID, id string) (*model.Client, error) {
	return s.ClientRepo.GetByID(ctx, businessID, id)
}

func (s *ClientService) Create(ctx context.Context, businessID string, in ClientInput) (*model.Client, error) {
	c := &model.Client{UserID: businessID}
	if err := applyClientInput(c, in); err != nil {
		return nil, err
	}
	if err := s.ClientRepo.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *ClientService) Update(ctx context.Context, businessID, id string, in ClientInput) (*model.Client, error) {
	c, err := s.ClientRepo.GetByID(ctx, businessID, id)
	if err != nil {
		return nil, err
	}
	if in.Name == "" {
		in.Name = c.Name
	}
	if in.Email == "" {
		in.Email = c.Email
	}
	if in.Phone == nil {
		in.Phone = c.Phone
	}
	if in.LastVisit == nil {
		in.LastVisit = c.LastVisit
	}
	if in.Tags == nil {
		in.Tags = c.Tags
	}
	if err := applyClientInput(c, in); err != nil {
		return nil, err
	}
	if err := s.ClientRepo.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *ClientService) Delete(ctx context.Context, businessID, id string) error {
	return s.ClientRepo.Delete(ctx, businessID, id)
}

func applyClientInput(c *model.Client, in ClientInput) error {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return appErrors.NewValidation("name", "name is required")
	}
	email := strings.TrimSpace(in.Email)
	if _, err := emailaddress.Parse(email); err != nil {
		return appErrors.NewValidation("email", "invalid email address")
	}
	c.Name = name
	c.Email = email
	c.Phone = in.Phone
	c.LastVisit = in.LastVisit
	c.Tags = NormalizeTags(in.Tags)
	return nil
}

// NormalizeTags trims, lowercases, dedupes and sorts tags. The result is
// never nil.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := []string{}
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
