package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	appErrors "github.com/unclebandit/promopal-backend/internal/errors"
	"github.com/unclebandit/promopal-backend/internal/logger"
	"github.com/unclebandit/promopal-backend/internal/metrics"
	"github.com/unclebandit/promopal-backend/internal/model"
	"github.com/unclebandit/promopal-backend/internal/provider/gemini"
	"github.com/unclebandit/promopal-backend/internal/provider/gmail"
	"github.com/unclebandit/promopal-backend/internal/repository"
	"github.com/unclebandit/promopal-backend/internal/segment"
)

type CampaignService struct {
	CampaignRepo    repository.CampaignRepositoryInterface
	ClientRepo      repository.ClientRepositoryInterface
	RecipientRepo   repository.RecipientRepositoryInterface
	IntegrationRepo repository.IntegrationRepositoryInterface
	ProfileRepo     repository.ProfileRepositoryInterface
	Segments        *segment.Engine
	Tokens          TokenSource
	Mailer          MailSender
	Content         ContentGenerator

	Concurrency     int
	ExternalTimeout time.Duration
	Now             func() time.Time
}

// CampaignInput carries the editable fields of a campaign.
type CampaignInput struct {
	Name     string
	Subject  *string
	Body     *string
	Audience model.Audience
}

type CampaignDetails struct {
	*model.Campaign
	Stats map[string]int `json:"stats"`
}

// GenerateOptions are the free-form prompt inputs for content generation.
type GenerateOptions struct {
	CampaignType           string
	SeasonalTheme          string
	FocusKeywords          string
	CustomPrompt           string
	AdditionalInstructions string
}

type RecipientResult struct {
	ClientID string `json:"client_id"`
	Email    string `json:"email"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

type SendResult struct {
	CampaignID     string            `json:"campaign_id"`
	RecipientCount int               `json:"recipient_count"`
	Succeeded      int               `json:"succeeded"`
	Failed         int               `json:"failed"`
	Results        []RecipientResult `json:"results"`
	Warning        string            `json:"warning,omitempty"`
}

type Preview struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (s *CampaignService) now() time.Time { return nowFunc(s.Now) }

func (s *CampaignService) segments() *segment.Engine {
	if s.Segments == nil {
		return segment.NewEngine(nil)
	}
	return s.Segments
}

// normalizeAudience rejects unknown selectors and stores the canonical form.
func normalizeAudience(a model.Audience) (model.Audience, error) {
	sel, err := segment.ParseSelector(a.SegmentType)
	if err != nil {
		return a, err
	}
	a.SegmentType = sel.String()
	if len(a.ClientIDs) > 0 {
		seen := make(map[string]bool, len(a.ClientIDs))
		ids := a.ClientIDs[:0]
		for _, id := range a.ClientIDs {
			id = strings.TrimSpace(id)
			if id != "" && !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
		a.ClientIDs = ids
	}
	return a, nil
}

func audienceDescriptor(a model.Audience) string {
	if len(a.ClientIDs) > 0 {
		return "Hand-picked clients"
	}
	sel, err := segment.ParseSelector(a.SegmentType)
	if err != nil {
		return segment.Describe(segment.Selector{Kind: segment.KindAll})
	}
	return segment.Describe(sel)
}

func (s *CampaignService) Create(ctx context.Context, businessID string, in CampaignInput) (*model.Campaign, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, appErrors.NewValidation("name", "name is required")
	}
	audience, err := normalizeAudience(in.Audience)
	if err != nil {
		return nil, err
	}

	c := &model.Campaign{
		UserID:   businessID,
		Name:     name,
		Subject:  in.Subject,
		Body:     in.Body,
		Audience: audience,
		Status:   model.CampaignDraft,
	}
	if err := s.CampaignRepo.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *CampaignService) Update(ctx context.Context, businessID, id string, in CampaignInput) (*model.Campaign, error) {
	c, err := s.CampaignRepo.GetByID(ctx, businessID, id)
	if err != nil {
		return nil, err
	}
	if !c.Status.Editable() {
		return nil, appErrors.NewInvalidState("campaign %s is %s and can no longer be edited", id, c.Status)
	}

	if name := strings.TrimSpace(in.Name); name != "" {
		c.Name = name
	}
	if in.Subject != nil {
		c.Subject = in.Subject
	}
	if in.Body != nil {
		c.Body = in.Body
	}
	if in.Audience.SegmentType != "" || len(in.Audience.ClientIDs) > 0 {
		audience, err := normalizeAudience(in.Audience)
		if err != nil {
			return nil, err
		}
		c.Audience = audience
	}

	if err := s.CampaignRepo.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// GenerateContent fills subject and body of a draft. On failure the stored
// campaign is left as it was.
func (s *CampaignService) GenerateContent(ctx context.Context, businessID, id string, opts GenerateOptions) (*model.Campaign, error) {
	c, err := s.CampaignRepo.GetByID(ctx, businessID, id)
	if err != nil {
		return nil, err
	}
	if c.Status != model.CampaignDraft {
		return nil, appErrors.NewInvalidState("campaign %s is %s; content can only be generated for drafts", id, c.Status)
	}

	content, err := s.generate(ctx, businessID, audienceDescriptor(c.Audience), opts)
	if err != nil {
		logger.FromContext(ctx).Warn("content generation failed", zap.String("campaign_id", id), zap.Error(err))
		return nil, err
	}

	if err := s.CampaignRepo.UpdateContent(ctx, businessID, id, content.Subject, content.Body); err != nil {
		return nil, err
	}
	c.Subject = &content.Subject
	c.Body = &content.Body
	return c, nil
}

// GenerateDraftContent generates copy for an audience without touching any
// stored campaign.
func (s *CampaignService) GenerateDraftContent(ctx context.Context, businessID string, audience model.Audience, opts GenerateOptions) (*gemini.Content, error) {
	audience, err := normalizeAudience(audience)
	if err != nil {
		return nil, err
	}
	return s.generate(ctx, businessID, audienceDescriptor(audience), opts)
}

func (s *CampaignService) generate(ctx context.Context, businessID, target string, opts GenerateOptions) (*gemini.Content, error) {
	profile, err := s.ProfileRepo.Get(ctx, businessID)
	if err != nil {
		return nil, err
	}
	campaignType := strings.TrimSpace(opts.CampaignType)
	if campaignType == "" {
		campaignType = "promotional"
	}
	return generateContent(ctx, s.Content, s.ExternalTimeout, gemini.ContentRequest{
		BusinessType:           businessType(profile),
		CampaignType:           campaignType,
		TargetAudience:         target,
		SeasonalTheme:          opts.SeasonalTheme,
		FocusKeywords:          opts.FocusKeywords,
		CustomPrompt:           opts.CustomPrompt,
		AdditionalInstructions: opts.AdditionalInstructions,
		Profile:                profile,
	})
}

func (s *CampaignService) Schedule(ctx context.Context, businessID, id string, at time.Time) (*model.Campaign, error) {
	if !at.After(s.now()) {
		return nil, appErrors.NewValidation("scheduled_at", "must be in the future")
	}
	c, err := s.CampaignRepo.GetByID(ctx, businessID, id)
	if err != nil {
		return nil, err
	}
	if c.Status != model.CampaignDraft {
		return nil, appErrors.NewInvalidState("campaign %s is %s; only drafts can be scheduled", id, c.Status)
	}
	at = at.UTC()
	if err := s.CampaignRepo.SetSchedule(ctx, businessID, id, model.CampaignDraft, model.CampaignScheduled, &at); err != nil {
		return nil, err
	}
	c.Status = model.CampaignScheduled
	c.ScheduledAt = &at
	return c, nil
}

func (s *CampaignService) Unschedule(ctx context.Context, businessID, id string) (*model.Campaign, error) {
	c, err := s.CampaignRepo.GetByID(ctx, businessID, id)
	if err != nil {
		return nil, err
	}
	if c.Status != model.CampaignScheduled {
		return nil, appErrors.NewInvalidState("campaign %s is not scheduled", id)
	}
	if err := s.CampaignRepo.SetSchedule(ctx, businessID, id, model.CampaignScheduled, model.CampaignDraft, nil); err != nil {
		return nil, err
	}
	c.Status = model.CampaignDraft
	c.ScheduledAt = nil
	return c, nil
}

// Send delivers the campaign to its resolved audience. Every recipient is
// attempted and awaited before the campaign is marked sent; individual
// failures are recorded and returned, never fatal.
func (s *CampaignService) Send(ctx context.Context, businessID, id string) (*SendResult, error) {
	log := logger.FromContext(ctx).With(zap.String("campaign_id", id))

	c, err := s.CampaignRepo.GetByID(ctx, businessID, id)
	if err != nil {
		return nil, err
	}
	if !c.Status.Sendable() {
		return nil, appErrors.NewInvalidState("campaign %s is %s and cannot be sent", id, c.Status)
	}
	if !c.HasContent() {
		return nil, appErrors.NewValidation("content", "campaign needs a subject and body before sending")
	}

	clients, err := s.ClientRepo.ListByUser(ctx, businessID)
	if err != nil {
		return nil, err
	}
	recipients := s.segments().Resolve(c.Audience, clients, s.now())

	integ, err := s.IntegrationRepo.GetActive(ctx, businessID, model.ProviderGmail)
	if err != nil {
		return nil, err
	}
	accessToken, err := s.Tokens.GetValidAccessToken(ctx, integ)
	if err != nil {
		return nil, err
	}

	if err := s.CampaignRepo.MarkSending(ctx, businessID, id); err != nil {
		return nil, err
	}

	// Once sending started the batch runs to completion even if the caller
	// goes away, so the campaign never stays in "sending".
	runCtx := context.WithoutCancel(ctx)
	from := ""
	if integ.Settings.Mail != nil {
		from = integ.Settings.Mail.SenderEmail
	}
	results, sendErr := s.deliver(runCtx, c, accessToken, from, recipients)

	res := &SendResult{CampaignID: id, RecipientCount: len(recipients), Results: results}
	for _, r := range results {
		if r.Status == model.RecipientSent {
			res.Succeeded++
		} else {
			res.Failed++
		}
	}

	// Delivery already happened, so the outcome is returned alongside the
	// error. The campaign stays "sending" and can be deleted with confirm.
	if err := s.CampaignRepo.MarkSent(runCtx, id, len(recipients), s.now().UTC()); err != nil {
		log.Error("campaign delivered but not marked sent", zap.Int("succeeded", res.Succeeded), zap.Error(err))
		res.Warning = "messages were delivered but the campaign status could not be updated"
		return res, fmt.Errorf("mark campaign %s sent: %w", id, err)
	}

	fields := []zap.Field{
		zap.Int("recipients", res.RecipientCount),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
	}
	if sendErr != nil {
		log.Warn("campaign sent with failures", append(fields, zap.Error(sendErr))...)
	} else {
		log.Info("campaign sent", fields...)
	}
	return res, nil
}

// deliver fans out one send per recipient, bounded by Concurrency, and
// waits for all of them. The returned error aggregates failures for logging.
func (s *CampaignService) deliver(ctx context.Context, c *model.Campaign, accessToken, from string, recipients []model.Client) ([]RecipientResult, error) {
	results := make([]RecipientResult, len(recipients))
	errs := make([]error, len(recipients))

	limit := s.Concurrency
	if limit < 1 {
		limit = 1
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i, rcpt := range recipients {
		i, rcpt := i, rcpt
		g.Go(func() error {
			results[i], errs[i] = s.deliverOne(ctx, c, accessToken, from, rcpt)
			return nil
		})
	}
	_ = g.Wait()

	var combined error
	for _, err := range errs {
		combined = multierr.Append(combined, err)
	}
	return results, combined
}

func (s *CampaignService) deliverOne(ctx context.Context, c *model.Campaign, accessToken, from string, rcpt model.Client) (RecipientResult, error) {
	res := RecipientResult{ClientID: rcpt.ID, Email: rcpt.Email, Status: model.RecipientSent}

	var err error
	if strings.TrimSpace(rcpt.Email) == "" {
		err = fmt.Errorf("client %s has no email address", rcpt.ID)
	} else {
		timeout := s.ExternalTimeout
		if timeout <= 0 {
			timeout = defaultExternalTimeout
		}
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		data := PersonalizationData(rcpt)
		err = s.Mailer.Send(callCtx, accessToken, gmail.Message{
			From:    from,
			To:      rcpt.Email,
			Subject: RenderTemplate(*c.Subject, data),
			Body:    RenderTemplate(*c.Body, data),
		})
		cancel()
	}
	if err != nil {
		res.Status = model.RecipientFailed
		res.Error = err.Error()
		err = fmt.Errorf("%s: %w", rcpt.Email, err)
	}
	metrics.RecipientSend(res.Status)

	rec := &model.CampaignRecipient{
		CampaignID:  c.ID,
		ClientID:    rcpt.ID,
		Email:       rcpt.Email,
		Status:      res.Status,
		LastError:   res.Error,
		AttemptedAt: s.now().UTC(),
	}
	if lerr := s.RecipientRepo.Record(ctx, rec); lerr != nil {
		logger.FromContext(ctx).Error("failed to record recipient attempt",
			zap.String("campaign_id", c.ID), zap.String("client_id", rcpt.ID), zap.Error(lerr))
	}
	return res, err
}

// Delete removes a campaign. Sent campaigns carry delivery history and are
// only removed with confirm set. A campaign left in "sending" after a failed
// status update is likewise only removable with confirm.
func (s *CampaignService) Delete(ctx context.Context, businessID, id string, confirm bool) error {
	c, err := s.CampaignRepo.GetByID(ctx, businessID, id)
	if err != nil {
		return err
	}
	switch c.Status {
	case model.CampaignSending:
		if !confirm {
			return appErrors.NewInvalidState("campaign %s is sending; pass confirm=true to delete a campaign stuck in sending", id)
		}
		logger.FromContext(ctx).Warn("deleting campaign stuck in sending", zap.String("campaign_id", id))
	case model.CampaignSent:
		if !confirm {
			return appErrors.NewInvalidState("campaign %s was already sent; deleting it discards its delivery history, pass confirm=true", id)
		}
		logger.FromContext(ctx).Warn("deleting sent campaign", zap.String("campaign_id", id))
	}
	return s.CampaignRepo.Delete(ctx, businessID, id)
}

func (s *CampaignService) Get(ctx context.Context, businessID, id string) (*CampaignDetails, error) {
	c, err := s.CampaignRepo.GetByID(ctx, businessID, id)
	if err != nil {
		return nil, err
	}
	stats, err := s.RecipientRepo.Stats(ctx, id)
	if err != nil {
		return nil, err
	}
	return &CampaignDetails{Campaign: c, Stats: stats}, nil
}

// List fetches campaigns with pagination.
func (s *CampaignService) List(ctx context.Context, businessID string, page, pageSize int, status string) ([]*model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	if status != "" {
		switch model.CampaignStatus(status) {
		case model.CampaignDraft, model.CampaignScheduled, model.CampaignSending, model.CampaignSent:
		default:
			return nil, nil, appErrors.NewValidation("status", "unknown campaign status")
		}
	}
	offset := (page - 1) * pageSize

	campaigns, total, err := s.CampaignRepo.List(ctx, businessID, offset, pageSize, status)
	if err != nil {
		return nil, nil, err
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}
	return campaigns, pagination, nil
}

func (s *CampaignService) Recipients(ctx context.Context, businessID, id string) ([]model.CampaignRecipient, error) {
	if _, err := s.CampaignRepo.GetByID(ctx, businessID, id); err != nil {
		return nil, err
	}
	return s.RecipientRepo.ListByCampaign(ctx, id)
}

// Preview renders the campaign copy for one client. override replaces the
// stored body when non-blank.
func (s *CampaignService) Preview(ctx context.Context, businessID, id, clientID string, override *string) (*Preview, error) {
	c, err := s.CampaignRepo.GetByID(ctx, businessID, id)
	if err != nil {
		return nil, err
	}
	client, err := s.ClientRepo.GetByID(ctx, businessID, clientID)
	if err != nil {
		return nil, err
	}

	body := ""
	if c.Body != nil {
		body = *c.Body
	}
	if override != nil && strings.TrimSpace(*override) != "" {
		body = *override
	}
	if strings.TrimSpace(body) == "" {
		return nil, appErrors.NewValidation("body", "template cannot be empty")
	}

	data := PersonalizationData(*client)
	subject := ""
	if c.Subject != nil {
		subject = RenderTemplate(*c.Subject, data)
	}
	return &Preview{Subject: subject, Body: RenderTemplate(body, data)}, nil
}
