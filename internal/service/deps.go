package service

import (
	"context"
	"strings"
	"time"

	appErrors "github.com/unclebandit/promopal-backend/internal/errors"
	"github.com/unclebandit/promopal-backend/internal/model"
	"github.com/unclebandit/promopal-backend/internal/provider/gemini"
	"github.com/unclebandit/promopal-backend/internal/provider/gmail"
)

// ContentGenerator produces campaign copy.
type ContentGenerator interface {
	GenerateCampaignContent(ctx context.Context, req gemini.ContentRequest) (*gemini.Content, error)
}

// MailSender delivers one message with an OAuth access token.
type MailSender interface {
	Send(ctx context.Context, accessToken string, msg gmail.Message) error
}

// TokenSource hands out usable provider access tokens.
type TokenSource interface {
	GetValidAccessToken(ctx context.Context, integ *model.Integration) (string, error)
}

const defaultExternalTimeout = 15 * time.Second

// generateContent calls gen under timeout and accepts the result only when
// both subject and body are non-empty.
func generateContent(ctx context.Context, gen ContentGenerator, timeout time.Duration, req gemini.ContentRequest) (*gemini.Content, error) {
	if timeout <= 0 {
		timeout = defaultExternalTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := gen.GenerateCampaignContent(ctx, req)
	if err != nil {
		return nil, appErrors.NewExternalService("content generation", err)
	}
	if out == nil || strings.TrimSpace(out.Subject) == "" || strings.TrimSpace(out.Body) == "" {
		return nil, appErrors.NewExternalService("content generation", gemini.ErrEmptyContent)
	}
	return &gemini.Content{Subject: strings.TrimSpace(out.Subject), Body: strings.TrimSpace(out.Body)}, nil
}

func businessType(p *model.BusinessProfile) string {
	if p != nil && p.BusinessCategory != "" {
		return p.BusinessCategory
	}
	return "Service business"
}

func nowFunc(f func() time.Time) time.Time {
	if f != nil {
		return f()
	}
	return time.Now()
}
