package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/promopal-backend/internal/errors"
	"github.com/unclebandit/promopal-backend/internal/model"
	"github.com/unclebandit/promopal-backend/internal/provider/gemini"
	"github.com/unclebandit/promopal-backend/internal/provider/gmail"
	"github.com/unclebandit/promopal-backend/internal/provider/square"
	"github.com/unclebandit/promopal-backend/internal/queue"
)

var fixedNow = time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func strPtr(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }

func daysBefore(n int) *time.Time {
	t := fixedNow.AddDate(0, 0, -n)
	return &t
}

// Mock repositories

type mockCampaignRepo struct {
	mu        sync.Mutex
	campaigns map[string]*model.Campaign
	recounts  []string
	updates   int
	// markSentErr fails MarkSent after delivery when set.
	markSentErr error
}

func newMockCampaignRepo(cs ...*model.Campaign) *mockCampaignRepo {
	r := &mockCampaignRepo{campaigns: map[string]*model.Campaign{}}
	for _, c := range cs {
		r.campaigns[c.ID] = c
	}
	return r
}

func (r *mockCampaignRepo) get(id string) *model.Campaign {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.campaigns[id]
}

func (r *mockCampaignRepo) List(_ context.Context, userID string, offset, limit int, status string) ([]*model.Campaign, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []*model.Campaign
	for _, c := range r.campaigns {
		if c.UserID == userID && (status == "" || string(c.Status) == status) {
			all = append(all, c)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (r *mockCampaignRepo) GetByID(_ context.Context, userID, id string) (*model.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok || c.UserID != userID {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (r *mockCampaignRepo) Create(_ context.Context, c *model.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	cp := *c
	r.campaigns[c.ID] = &cp
	return nil
}

func (r *mockCampaignRepo) Update(_ context.Context, c *model.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates++
	cp := *c
	r.campaigns[c.ID] = &cp
	return nil
}

func (r *mockCampaignRepo) Delete(_ context.Context, userID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.campaigns[id]; !ok || c.UserID != userID {
		return appErrors.NewCampaignNotFound(id)
	}
	delete(r.campaigns, id)
	return nil
}

func (r *mockCampaignRepo) UpdateContent(_ context.Context, userID, id, subject, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates++
	c := r.campaigns[id]
	c.Subject, c.Body = &subject, &body
	return nil
}

func (r *mockCampaignRepo) SetSchedule(_ context.Context, userID, id string, from, to model.CampaignStatus, at *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.campaigns[id]
	if c == nil || c.Status != from {
		return appErrors.NewInvalidState("campaign %s is not %s", id, from)
	}
	c.Status, c.ScheduledAt = to, at
	return nil
}

func (r *mockCampaignRepo) MarkSending(_ context.Context, userID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.campaigns[id]
	if !c.Status.Sendable() {
		return appErrors.NewInvalidState("campaign %s is %s", id, c.Status)
	}
	c.Status = model.CampaignSending
	return nil
}

func (r *mockCampaignRepo) MarkSent(_ context.Context, id string, count int, sentAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.markSentErr != nil {
		return r.markSentErr
	}
	c := r.campaigns[id]
	c.Status, c.RecipientCount, c.SentAt = model.CampaignSent, count, &sentAt
	return nil
}

func (r *mockCampaignRepo) RecountAppointments(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recounts = append(r.recounts, id)
	return nil
}

func (r *mockCampaignRepo) CreateAuto(_ context.Context, c *model.Campaign) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.campaigns {
		if existing.UserID == c.UserID && existing.AutoCategory != nil && existing.ScheduledAt != nil &&
			*existing.AutoCategory == *c.AutoCategory && existing.ScheduledAt.Equal(*c.ScheduledAt) {
			return false, nil
		}
	}
	c.ID = uuid.NewString()
	cp := *c
	r.campaigns[c.ID] = &cp
	return true, nil
}

func (r *mockCampaignRepo) AutoCategoriesOn(_ context.Context, userID string, day time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, c := range r.campaigns {
		if c.UserID == userID && c.AutoCategory != nil && c.ScheduledAt != nil &&
			c.ScheduledAt.UTC().Format(time.DateOnly) == day.UTC().Format(time.DateOnly) {
			out = append(out, *c.AutoCategory)
		}
	}
	return out, nil
}

func (r *mockCampaignRepo) ListUpcomingAuto(_ context.Context, userID string, after time.Time, limit int) ([]*model.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Campaign
	for _, c := range r.campaigns {
		if c.UserID == userID && c.AutoCategory != nil && c.ScheduledAt != nil && c.ScheduledAt.After(after) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(*out[j].ScheduledAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *mockCampaignRepo) TopByBookings(_ context.Context, userID string) (*model.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var top *model.Campaign
	for _, c := range r.campaigns {
		if c.UserID == userID && c.AppointmentsBooked > 0 && (top == nil || c.AppointmentsBooked > top.AppointmentsBooked) {
			top = c
		}
	}
	return top, nil
}

func (r *mockCampaignRepo) ListRecentlySent(_ context.Context, userID string, limit int) ([]*model.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Campaign
	for _, c := range r.campaigns {
		if c.UserID == userID && c.Status == model.CampaignSent && c.SentAt != nil {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.After(*out[j].SentAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *mockCampaignRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.campaigns)
}

type mockClientRepo struct {
	mu      sync.Mutex
	clients []model.Client
}

func (r *mockClientRepo) ListByUser(_ context.Context, userID string) ([]model.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Client
	for _, c := range r.clients {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *mockClientRepo) GetByID(_ context.Context, userID, id string) (*model.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.clients {
		if c.ID == id && c.UserID == userID {
			cp := c
			return &cp, nil
		}
	}
	return nil, appErrors.NewClientNotFound(id)
}

func (r *mockClientRepo) FindByEmail(_ context.Context, userID, email string) (*model.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.clients {
		if c.UserID == userID && c.Email == email {
			cp := c
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *mockClientRepo) FindByExternalID(_ context.Context, userID, externalID string) (*model.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.clients {
		if c.UserID == userID && c.ExternalCustomerID != nil && *c.ExternalCustomerID == externalID {
			cp := c
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *mockClientRepo) Create(_ context.Context, c *model.Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	r.clients = append(r.clients, *c)
	return nil
}

func (r *mockClientRepo) Update(_ context.Context, c *model.Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.clients {
		if r.clients[i].ID == c.ID {
			r.clients[i] = *c
			return nil
		}
	}
	return appErrors.NewClientNotFound(c.ID)
}

func (r *mockClientRepo) Delete(_ context.Context, userID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, c := range r.clients {
		if c.ID == id && c.UserID == userID {
			r.clients = append(r.clients[:i], r.clients[i+1:]...)
			return nil
		}
	}
	return appErrors.NewClientNotFound(id)
}

type mockRecipientRepo struct {
	mu   sync.Mutex
	rows []model.CampaignRecipient
}

func (r *mockRecipientRepo) Record(_ context.Context, rec *model.CampaignRecipient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, *rec)
	return nil
}

func (r *mockRecipientRepo) ListByCampaign(_ context.Context, campaignID string) ([]model.CampaignRecipient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.CampaignRecipient
	for _, row := range r.rows {
		if row.CampaignID == campaignID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *mockRecipientRepo) Stats(ctx context.Context, campaignID string) (map[string]int, error) {
	rows, _ := r.ListByCampaign(ctx, campaignID)
	stats := map[string]int{"total": len(rows), model.RecipientSent: 0, model.RecipientFailed: 0}
	for _, row := range rows {
		stats[row.Status]++
	}
	return stats, nil
}

type mockAppointmentRepo struct {
	mu   sync.Mutex
	rows []model.Appointment
}

func (r *mockAppointmentRepo) ListByUser(_ context.Context, userID string, limit int) ([]model.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Appointment
	for _, a := range r.rows {
		if a.UserID == userID && len(out) < limit {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *mockAppointmentRepo) ListRecentlyCreated(_ context.Context, userID string, limit int) ([]model.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Appointment
	for _, a := range r.rows {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *mockAppointmentRepo) Create(_ context.Context, a *model.Appointment) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ExternalBookingID != nil {
		for _, existing := range r.rows {
			if existing.ExternalBookingID != nil && *existing.ExternalBookingID == *a.ExternalBookingID {
				return false, nil
			}
		}
	}
	a.ID = uuid.NewString()
	r.rows = append(r.rows, *a)
	return true, nil
}

func (r *mockAppointmentRepo) CountBetween(_ context.Context, userID string, from, to time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.rows {
		if a.UserID == userID && !a.AppointmentDate.Before(from) && a.AppointmentDate.Before(to) {
			n++
		}
	}
	return n, nil
}

type mockIntegrationRepo struct {
	mu    sync.Mutex
	rows  []*model.Integration
	saved []model.Settings
}

func (r *mockIntegrationRepo) ListByUser(_ context.Context, userID string) ([]model.Integration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Integration
	for _, i := range r.rows {
		if i.UserID == userID {
			out = append(out, *i)
		}
	}
	return out, nil
}

func (r *mockIntegrationRepo) GetActive(_ context.Context, userID string, p model.Provider) (*model.Integration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, i := range r.rows {
		if i.UserID == userID && i.Provider == p && i.IsActive {
			cp := *i
			return &cp, nil
		}
	}
	return nil, appErrors.NewIntegrationNotConnected(string(p))
}

func (r *mockIntegrationRepo) GetByID(_ context.Context, id string) (*model.Integration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, i := range r.rows {
		if i.ID == id {
			cp := *i
			return &cp, nil
		}
	}
	return nil, appErrors.NewNotFound("integration", id)
}

func (r *mockIntegrationRepo) FindActiveByMerchantID(_ context.Context, merchantID string) (*model.Integration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, i := range r.rows {
		if i.IsActive && i.Settings.Scheduling != nil && i.Settings.Scheduling.MerchantID == merchantID {
			cp := *i
			return &cp, nil
		}
	}
	return nil, appErrors.NewNotFound("merchant", merchantID)
}

func (r *mockIntegrationRepo) UpsertActive(_ context.Context, integ *model.Integration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, i := range r.rows {
		if i.UserID == integ.UserID && i.Provider == integ.Provider {
			i.IsActive = false
		}
	}
	integ.ID = uuid.NewString()
	cp := *integ
	r.rows = append(r.rows, &cp)
	return nil
}

func (r *mockIntegrationRepo) UpdateTokens(_ context.Context, id string, set model.TokenSet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, i := range r.rows {
		if i.ID == id {
			i.AccessToken, i.RefreshToken, i.TokenExpiry = set.AccessToken, set.RefreshToken, set.Expiry
		}
	}
	return nil
}

func (r *mockIntegrationRepo) UpdateSettings(_ context.Context, id string, settings model.Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, settings)
	for _, i := range r.rows {
		if i.ID == id {
			i.Settings = settings
		}
	}
	return nil
}

func (r *mockIntegrationRepo) Deactivate(_ context.Context, id string, settings model.Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, i := range r.rows {
		if i.ID == id {
			i.IsActive = false
			i.Settings = settings
			return nil
		}
	}
	return appErrors.NewNotFound("integration", id)
}

type mockProfileRepo struct {
	profile *model.BusinessProfile
}

func (r *mockProfileRepo) Get(context.Context, string) (*model.BusinessProfile, error) {
	return r.profile, nil
}

func (r *mockProfileRepo) Upsert(_ context.Context, p *model.BusinessProfile) error {
	cp := *p
	r.profile = &cp
	return nil
}

type mockUserRepo struct {
	users map[string]*model.User
}

func (r *mockUserRepo) Create(_ context.Context, u *model.User) error {
	for _, existing := range r.users {
		if existing.Email == u.Email {
			return appErrors.NewValidation("email", "an account with this email or username already exists")
		}
	}
	u.ID = uuid.NewString()
	r.users[u.ID] = u
	return nil
}

func (r *mockUserRepo) GetByID(_ context.Context, id string) (*model.User, error) {
	if u, ok := r.users[id]; ok {
		return u, nil
	}
	return nil, appErrors.NewNotFound("user", id)
}

func (r *mockUserRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	for _, u := range r.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, appErrors.NewNotFound("user", email)
}

// Mock providers

type staticTokens struct{ err error }

func (s staticTokens) GetValidAccessToken(_ context.Context, integ *model.Integration) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return integ.AccessToken, nil
}

type mockMailer struct {
	mu      sync.Mutex
	sent    []gmail.Message
	failFor map[string]bool
	failAll bool
}

func (m *mockMailer) Send(_ context.Context, _ string, msg gmail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll || m.failFor[msg.To] {
		return fmt.Errorf("gmail send: 500 backend error")
	}
	m.sent = append(m.sent, msg)
	return nil
}

type mockContent struct {
	mu    sync.Mutex
	calls []gemini.ContentRequest
	out   *gemini.Content
	err   error
}

func (m *mockContent) GenerateCampaignContent(_ context.Context, req gemini.ContentRequest) (*gemini.Content, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	if m.err != nil {
		return nil, m.err
	}
	if m.out != nil {
		return m.out, nil
	}
	return &gemini.Content{Subject: "Subject for " + req.TargetAudience, Body: "Hi {first_name}!"}, nil
}

type mockMail struct {
	mockMailer
	tokens     *model.TokenSet
	profile    string
	profileErr error
	revoked    []string
}

func (m *mockMail) AuthURL(state string) string { return "https://accounts.example/auth?state=" + state }

func (m *mockMail) Exchange(context.Context, string) (*model.TokenSet, error) { return m.tokens, nil }

func (m *mockMail) Profile(context.Context, string) (string, error) { return m.profile, m.profileErr }

func (m *mockMail) Revoke(_ context.Context, tok string) error {
	m.revoked = append(m.revoked, tok)
	return nil
}

type mockScheduling struct {
	grant       *square.Grant
	locations   []square.Location
	customers   []square.Customer
	customerErr error
	bookings    []square.Booking
	revokeErr   error
	revoked     []string
	window      [2]time.Time
}

func (m *mockScheduling) AuthURL(state string) string { return "https://squareup.example/authorize?state=" + state }

func (m *mockScheduling) Exchange(context.Context, string) (*square.Grant, error) { return m.grant, nil }

func (m *mockScheduling) Revoke(_ context.Context, tok string) error {
	m.revoked = append(m.revoked, tok)
	return m.revokeErr
}

func (m *mockScheduling) ListLocations(context.Context, string) ([]square.Location, error) {
	return m.locations, nil
}

func (m *mockScheduling) ListCustomers(context.Context, string) ([]square.Customer, error) {
	return m.customers, m.customerErr
}

func (m *mockScheduling) ListBookings(_ context.Context, _, _ string, from, to time.Time) ([]square.Booking, error) {
	m.window = [2]time.Time{from, to}
	return m.bookings, nil
}

type recordingQueue struct {
	mu        sync.Mutex
	published []string
	payloads  []any
	handlers  map[string]queue.Handler
}

func (q *recordingQueue) Publish(_ context.Context, topic string, payload any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published = append(q.published, topic)
	q.payloads = append(q.payloads, payload)
	return nil
}

func (q *recordingQueue) Subscribe(topic string, h queue.Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.handlers == nil {
		q.handlers = map[string]queue.Handler{}
	}
	q.handlers[topic] = h
	return nil
}
