package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mcnijman/go-emailaddress"

	"github.com/unclebandit/promopal-backend/internal/auth"
	appErrors "github.com/unclebandit/promopal-backend/internal/errors"
	"github.com/unclebandit/promopal-backend/internal/model"
	"github.com/unclebandit/promopal-backend/internal/repository"
)

const minPasswordLength = 8

type AuthService struct {
	UserRepo repository.UserRepositoryInterface
	JWT      *auth.JWTService
}

type RegisterInput struct {
	Username     string
	Email        string
	Password     string
	BusinessName string
}

type Session struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      *model.User `json:"user"`
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if _, err := emailaddress.Parse(email); err != nil {
		return nil, appErrors.NewValidation("email", "invalid email address")
	}
	if len(in.Password) < minPasswordLength {
		return nil, appErrors.NewValidation("password", "must be at least 8 characters")
	}
	username := strings.TrimSpace(in.Username)
	if username == "" {
		username = email
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	u := &model.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		BusinessName: strings.TrimSpace(in.BusinessName),
	}
	if err := s.UserRepo.Create(ctx, u); err != nil {
		return nil, err
	}
	return s.session(u)
}

// Login never reveals whether the email or the password was wrong.
func (s *AuthService) Login(ctx context.Context, email, password string) (*Session, error) {
	u, err := s.UserRepo.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			return nil, appErrors.NewUnauthorized("invalid email or password")
		}
		return nil, err
	}
	if !auth.CheckPassword(u.PasswordHash, password) {
		return nil, appErrors.NewUnauthorized("invalid email or password")
	}
	return s.session(u)
}

func (s *AuthService) Me(ctx context.Context, businessID string) (*model.User, error) {
	return s.UserRepo.GetByID(ctx, businessID)
}

func (s *AuthService) session(u *model.User) (*Session, error) {
	tok, exp, err := s.JWT.Issue(u.ID, u.Username)
	if err != nil {
		return nil, err
	}
	return &Session{Token: tok, ExpiresAt: exp, User: u}, nil
}
