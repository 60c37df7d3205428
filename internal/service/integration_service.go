package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mcnijman/go-emailaddress"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/unclebandit/promopal-backend/internal/auth"
	appErrors "github.com/unclebandit/promopal-backend/internal/errors"
	"github.com/unclebandit/promopal-backend/internal/logger"
	"github.com/unclebandit/promopal-backend/internal/model"
	"github.com/unclebandit/promopal-backend/internal/provider/gmail"
	"github.com/unclebandit/promopal-backend/internal/provider/square"
	"github.com/unclebandit/promopal-backend/internal/queue"
	"github.com/unclebandit/promopal-backend/internal/repository"
)

const importTag = "square-import"

// MailProvider is the OAuth and send surface of the mailbox provider.
type MailProvider interface {
	MailSender
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*model.TokenSet, error)
	Profile(ctx context.Context, accessToken string) (string, error)
	Revoke(ctx context.Context, token string) error
}

// SchedulingProvider is the OAuth and data surface of the booking platform.
type SchedulingProvider interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*square.Grant, error)
	Revoke(ctx context.Context, accessToken string) error
	ListLocations(ctx context.Context, accessToken string) ([]square.Location, error)
	ListCustomers(ctx context.Context, accessToken string) ([]square.Customer, error)
	ListBookings(ctx context.Context, accessToken, locationID string, from, to time.Time) ([]square.Booking, error)
}

type IntegrationService struct {
	IntegrationRepo repository.IntegrationRepositoryInterface
	ClientRepo      repository.ClientRepositoryInterface
	AppointmentRepo repository.AppointmentRepositoryInterface
	Tokens          TokenSource
	Mail            MailProvider
	Scheduling      SchedulingProvider
	States          *auth.JWTService
	Queue           queue.Queue

	SyncLookbackDays int
	ExternalTimeout  time.Duration
	Now              func() time.Time
}

type SyncCounts struct {
	Synced int `json:"synced"`
	Errors int `json:"errors"`
}

type SyncResult struct {
	Customers SyncCounts `json:"customers"`
	Bookings  SyncCounts `json:"bookings"`
}

type TestEmail struct {
	To      string
	Subject string
	Body    string
	From    string
}

func (s *IntegrationService) now() time.Time { return nowFunc(s.Now) }

func (s *IntegrationService) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.ExternalTimeout
	if timeout <= 0 {
		timeout = defaultExternalTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

func parseProvider(raw string) (model.Provider, error) {
	p, ok := model.ParseProvider(strings.ToLower(strings.TrimSpace(raw)))
	if !ok {
		return "", appErrors.NewValidation("provider", "unsupported provider")
	}
	return p, nil
}

func (s *IntegrationService) List(ctx context.Context, businessID string) ([]model.Integration, error) {
	return s.IntegrationRepo.ListByUser(ctx, businessID)
}

// AuthURL starts an OAuth flow with a signed, short-lived state.
func (s *IntegrationService) AuthURL(ctx context.Context, businessID, rawProvider string) (string, error) {
	p, err := parseProvider(rawProvider)
	if err != nil {
		return "", err
	}
	state, err := s.States.SignState(businessID, string(p))
	if err != nil {
		return "", err
	}
	if p == model.ProviderSquare {
		return s.Scheduling.AuthURL(state), nil
	}
	return s.Mail.AuthURL(state), nil
}

// Callback completes an OAuth flow and stores the connection as the single
// active integration for the provider.
func (s *IntegrationService) Callback(ctx context.Context, rawProvider, code, state string) (*model.Integration, error) {
	p, err := parseProvider(rawProvider)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(code) == "" {
		return nil, appErrors.NewValidation("code", "authorization code is required")
	}
	businessID, err := s.States.VerifyState(state, string(p))
	if err != nil {
		return nil, appErrors.NewUnauthorized("invalid or expired oauth state")
	}

	log := logger.FromContext(ctx).With(zap.String("business_id", businessID), zap.String("provider", string(p)))
	now := s.now().UTC()
	integ := &model.Integration{
		UserID:   businessID,
		Provider: p,
		IsActive: true,
		Settings: model.DefaultSettings(p, now),
	}

	switch p {
	case model.ProviderGmail:
		cctx, cancel := s.callCtx(ctx)
		set, err := s.Mail.Exchange(cctx, code)
		cancel()
		if err != nil {
			return nil, appErrors.NewExternalService("gmail", err)
		}
		applyTokens(integ, set)

		cctx, cancel = s.callCtx(ctx)
		if addr, err := s.Mail.Profile(cctx, set.AccessToken); err == nil {
			integ.Settings.Mail.SenderEmail = addr
		} else {
			log.Warn("could not read mailbox profile", zap.Error(err))
		}
		cancel()

	case model.ProviderSquare:
		cctx, cancel := s.callCtx(ctx)
		grant, err := s.Scheduling.Exchange(cctx, code)
		cancel()
		if err != nil {
			return nil, appErrors.NewExternalService("square", err)
		}
		applyTokens(integ, &grant.Tokens)
		integ.Settings.Scheduling.MerchantID = grant.MerchantID

		cctx, cancel = s.callCtx(ctx)
		locs, err := s.Scheduling.ListLocations(cctx, grant.Tokens.AccessToken)
		cancel()
		if err != nil {
			log.Warn("could not list square locations", zap.Error(err))
		}
		if loc, ok := square.PickLocation(locs); ok {
			integ.Settings.Scheduling.LocationID = loc.ID
		}
		for _, l := range locs {
			integ.Settings.Scheduling.Locations = append(integ.Settings.Scheduling.Locations, l.ID)
		}
	}

	if p == model.ProviderSquare {
		s.keepSyncPreferences(ctx, businessID, integ.Settings.Scheduling)
	}
	if err := s.IntegrationRepo.UpsertActive(ctx, integ); err != nil {
		return nil, err
	}
	log.Info("integration connected", zap.String("integration_id", integ.ID))

	if p == model.ProviderSquare && s.Queue != nil && integ.Settings.Scheduling.AutoSync {
		job := queue.BusinessJob{BusinessID: businessID, Auto: true}
		if err := s.Queue.Publish(ctx, queue.TopicIntegrationSync, job); err != nil {
			log.Warn("could not enqueue initial sync", zap.Error(err))
		}
	}
	return integ, nil
}

// keepSyncPreferences carries the sync choices of the connection being
// replaced over to a reconnect.
func (s *IntegrationService) keepSyncPreferences(ctx context.Context, businessID string, next *model.SchedulingSettings) {
	prev, err := s.IntegrationRepo.GetActive(ctx, businessID, model.ProviderSquare)
	if err != nil || prev.Settings.Scheduling == nil {
		return
	}
	next.AutoSync = prev.Settings.Scheduling.AutoSync
	if prev.Settings.Scheduling.SyncInterval != "" {
		next.SyncInterval = prev.Settings.Scheduling.SyncInterval
	}
}

// SettingsUpdate is a partial update; nil fields are left unchanged.
type SettingsUpdate struct {
	AutoSync     *bool
	SyncInterval *string
	LocationID   *string
	SenderEmail  *string
}

// UpdateSettings applies upd to the active integration for the provider.
func (s *IntegrationService) UpdateSettings(ctx context.Context, businessID, rawProvider string, upd SettingsUpdate) (*model.Integration, error) {
	p, err := parseProvider(rawProvider)
	if err != nil {
		return nil, err
	}
	integ, err := s.IntegrationRepo.GetActive(ctx, businessID, p)
	if err != nil {
		return nil, err
	}

	switch p {
	case model.ProviderGmail:
		if upd.AutoSync != nil || upd.SyncInterval != nil || upd.LocationID != nil {
			return nil, appErrors.NewValidation("settings", "gmail has no sync settings")
		}
		mail := model.MailSettings{}
		if integ.Settings.Mail != nil {
			mail = *integ.Settings.Mail
		}
		if upd.SenderEmail != nil {
			addr := strings.TrimSpace(*upd.SenderEmail)
			if _, err := emailaddress.Parse(addr); err != nil {
				return nil, appErrors.NewValidation("sender_email", "invalid email address")
			}
			mail.SenderEmail = addr
		}
		integ.Settings.Mail = &mail
	case model.ProviderSquare:
		if upd.SenderEmail != nil {
			return nil, appErrors.NewValidation("settings", "square has no sender email")
		}
		sch := &model.SchedulingSettings{}
		if integ.Settings.Scheduling != nil {
			cp := *integ.Settings.Scheduling
			sch = &cp
		}
		integ.Settings.Scheduling = sch
		if upd.AutoSync != nil {
			sch.AutoSync = *upd.AutoSync
		}
		if upd.SyncInterval != nil {
			sch.SyncInterval = strings.TrimSpace(*upd.SyncInterval)
		}
		if upd.LocationID != nil {
			sch.LocationID = strings.TrimSpace(*upd.LocationID)
		}
	}

	if err := integ.Settings.Check(p); err != nil {
		return nil, appErrors.NewValidation("settings", strings.TrimPrefix(err.Error(), "settings: "))
	}
	if err := s.IntegrationRepo.UpdateSettings(ctx, integ.ID, integ.Settings); err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Info("integration settings updated",
		zap.String("business_id", businessID), zap.String("provider", string(p)))
	return integ, nil
}

func applyTokens(integ *model.Integration, set *model.TokenSet) {
	integ.AccessToken = set.AccessToken
	integ.RefreshToken = set.RefreshToken
	integ.TokenExpiry = set.Expiry
}

// Disconnect revokes the provider token when possible and deactivates the
// integration. The row is kept for history.
func (s *IntegrationService) Disconnect(ctx context.Context, businessID, rawProvider string) error {
	p, err := parseProvider(rawProvider)
	if err != nil {
		return err
	}
	integ, err := s.IntegrationRepo.GetActive(ctx, businessID, p)
	if err != nil {
		return err
	}

	cctx, cancel := s.callCtx(ctx)
	var revokeErr error
	if p == model.ProviderSquare {
		revokeErr = s.Scheduling.Revoke(cctx, integ.AccessToken)
	} else {
		tok := integ.RefreshToken
		if tok == "" {
			tok = integ.AccessToken
		}
		revokeErr = s.Mail.Revoke(cctx, tok)
	}
	cancel()
	if revokeErr != nil {
		logger.FromContext(ctx).Warn("token revoke failed, deactivating anyway",
			zap.String("provider", string(p)), zap.Error(revokeErr))
	}

	integ.Settings.MarkDisconnected(s.now().UTC())
	return s.IntegrationRepo.Deactivate(ctx, integ.ID, integ.Settings)
}

// SendTestEmail sends a single message through the connected mailbox.
func (s *IntegrationService) SendTestEmail(ctx context.Context, businessID string, msg TestEmail) error {
	if _, err := emailaddress.Parse(strings.TrimSpace(msg.To)); err != nil {
		return appErrors.NewValidation("to", "invalid email address")
	}
	if strings.TrimSpace(msg.Subject) == "" || strings.TrimSpace(msg.Body) == "" {
		return appErrors.NewValidation("body", "subject and body are required")
	}

	integ, err := s.IntegrationRepo.GetActive(ctx, businessID, model.ProviderGmail)
	if err != nil {
		return err
	}
	accessToken, err := s.Tokens.GetValidAccessToken(ctx, integ)
	if err != nil {
		return err
	}

	cctx, cancel := s.callCtx(ctx)
	defer cancel()
	err = s.Mail.Send(cctx, accessToken, gmail.Message{
		From:    msg.From,
		To:      strings.TrimSpace(msg.To),
		Subject: msg.Subject,
		Body:    msg.Body,
	})
	if err != nil {
		return appErrors.NewExternalService("gmail", err)
	}
	return nil
}

// SyncIfDue runs SyncScheduling when auto sync is on and the interval has
// elapsed. It returns nil, nil when the sync is skipped.
func (s *IntegrationService) SyncIfDue(ctx context.Context, businessID string) (*SyncResult, error) {
	integ, err := s.IntegrationRepo.GetActive(ctx, businessID, model.ProviderSquare)
	if err != nil {
		return nil, err
	}
	if sch := integ.Settings.Scheduling; sch == nil || !sch.SyncDue(s.now().UTC()) {
		return nil, nil
	}
	return s.SyncScheduling(ctx, businessID)
}

// SyncScheduling imports customers and recent bookings from the booking
// platform. It is idempotent: known customers and bookings are skipped.
func (s *IntegrationService) SyncScheduling(ctx context.Context, businessID string) (*SyncResult, error) {
	log := logger.FromContext(ctx).With(zap.String("business_id", businessID))

	integ, err := s.IntegrationRepo.GetActive(ctx, businessID, model.ProviderSquare)
	if err != nil {
		return nil, err
	}
	accessToken, err := s.Tokens.GetValidAccessToken(ctx, integ)
	if err != nil {
		return nil, err
	}

	res := &SyncResult{}
	s.syncCustomers(ctx, log, businessID, accessToken, &res.Customers)

	settings := integ.Settings.Scheduling
	if settings != nil && settings.LocationID != "" {
		s.syncBookings(ctx, log, businessID, accessToken, settings.LocationID, &res.Bookings)
	}

	now := s.now().UTC()
	if settings != nil {
		settings.LastSyncedAt = &now
		if err := s.IntegrationRepo.UpdateSettings(ctx, integ.ID, integ.Settings); err != nil {
			log.Warn("could not stamp last sync", zap.Error(err))
		}
	}

	log.Info("scheduling sync finished",
		zap.Int("customers_synced", res.Customers.Synced), zap.Int("customer_errors", res.Customers.Errors),
		zap.Int("bookings_synced", res.Bookings.Synced), zap.Int("booking_errors", res.Bookings.Errors))
	return res, nil
}

func (s *IntegrationService) syncCustomers(ctx context.Context, log *zap.Logger, businessID, accessToken string, counts *SyncCounts) {
	cctx, cancel := s.callCtx(ctx)
	customers, err := s.Scheduling.ListCustomers(cctx, accessToken)
	cancel()
	if err != nil {
		log.Error("listing square customers failed", zap.Error(err))
		counts.Errors++
		return
	}

	for _, cu := range customers {
		if err := s.importCustomer(ctx, businessID, cu); err != nil {
			if !errors.Is(err, errAlreadyImported) {
				log.Warn("customer import failed", zap.String("customer_id", cu.ID), zap.Error(err))
				counts.Errors++
			}
			continue
		}
		counts.Synced++
	}
}

var errAlreadyImported = errors.New("already imported")

func (s *IntegrationService) importCustomer(ctx context.Context, businessID string, cu square.Customer) error {
	email := strings.TrimSpace(cu.EmailAddress)
	if _, err := emailaddress.Parse(email); err != nil {
		return appErrors.NewValidation("email", "customer has no valid email address")
	}

	existing, err := s.ClientRepo.FindByExternalID(ctx, businessID, cu.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		if existing, err = s.ClientRepo.FindByEmail(ctx, businessID, email); err != nil {
			return err
		}
	}
	if existing != nil {
		return errAlreadyImported
	}

	externalID := cu.ID
	c := &model.Client{
		UserID:             businessID,
		Name:               cu.DisplayName(),
		Email:              email,
		Tags:               []string{importTag},
		ExternalCustomerID: &externalID,
	}
	if phone := strings.TrimSpace(cu.PhoneNumber); phone != "" {
		c.Phone = &phone
	}
	return s.ClientRepo.Create(ctx, c)
}

func (s *IntegrationService) syncBookings(ctx context.Context, log *zap.Logger, businessID, accessToken, locationID string, counts *SyncCounts) {
	days := s.SyncLookbackDays
	if days < 1 {
		days = 30
	}
	to := s.now().UTC()
	from := to.AddDate(0, 0, -days)

	cctx, cancel := s.callCtx(ctx)
	bookings, err := s.Scheduling.ListBookings(cctx, accessToken, locationID, from, to)
	cancel()
	if err != nil {
		log.Error("listing square bookings failed", zap.Error(err))
		counts.Errors++
		return
	}

	for _, b := range bookings {
		created, err := s.importBooking(ctx, businessID, b)
		if err != nil {
			log.Warn("booking import failed", zap.String("booking_id", b.ID), zap.Error(err))
			counts.Errors++
			continue
		}
		if created {
			counts.Synced++
		}
	}
}

func (s *IntegrationService) importBooking(ctx context.Context, businessID string, b square.Booking) (bool, error) {
	start, err := time.Parse(time.RFC3339, b.StartAt)
	if err != nil {
		return false, appErrors.NewValidation("start_at", "booking has no valid start time")
	}
	bookingID := b.ID
	a := &model.Appointment{
		UserID:            businessID,
		AppointmentDate:   start.UTC(),
		Service:           b.Service(),
		Status:            b.AppointmentStatus(),
		Amount:            decimal.NewNullDecimal(decimal.Zero),
		ExternalBookingID: &bookingID,
	}
	if a.Service == "" {
		a.Service = "Square Booking"
	}
	if b.CustomerID != "" {
		client, err := s.ClientRepo.FindByExternalID(ctx, businessID, b.CustomerID)
		if err != nil {
			return false, err
		}
		if client != nil {
			a.ClientID = &client.ID
		}
	}
	return s.AppointmentRepo.Create(ctx, a)
}
