package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/promopal-backend/internal/auth"
	appErrors "github.com/unclebandit/promopal-backend/internal/errors"
	"github.com/unclebandit/promopal-backend/internal/model"
	"github.com/unclebandit/promopal-backend/internal/provider/square"
	"github.com/unclebandit/promopal-backend/internal/queue"
)

type integrationFixture struct {
	svc          *IntegrationService
	integrations *mockIntegrationRepo
	clients      *mockClientRepo
	appointments *mockAppointmentRepo
	mail         *mockMail
	scheduling   *mockScheduling
	queue        *recordingQueue
	states       *auth.JWTService
}

func newIntegrationFixture() *integrationFixture {
	exp := fixedNow.Add(time.Hour)
	f := &integrationFixture{
		integrations: &mockIntegrationRepo{},
		clients:      &mockClientRepo{},
		appointments: &mockAppointmentRepo{},
		mail: &mockMail{
			tokens:  &model.TokenSet{AccessToken: "g-access", RefreshToken: "g-refresh", Expiry: &exp},
			profile: "owner@salon.example",
		},
		scheduling: &mockScheduling{
			grant: &square.Grant{
				Tokens:     model.TokenSet{AccessToken: "sq-access", RefreshToken: "sq-refresh", Expiry: &exp},
				MerchantID: "M123",
			},
			locations: []square.Location{{ID: "L1", Status: "INACTIVE"}, {ID: "L2", Status: "ACTIVE"}},
		},
		queue:  &recordingQueue{},
		states: auth.NewJWTService("test-secret", time.Hour),
	}
	f.svc = &IntegrationService{
		IntegrationRepo: f.integrations,
		ClientRepo:      f.clients,
		AppointmentRepo: f.appointments,
		Tokens:          staticTokens{},
		Mail:            f.mail,
		Scheduling:      f.scheduling,
		States:          f.states,
		Queue:           f.queue,
		Now:             clock,
	}
	return f
}

func (f *integrationFixture) connectSquare(t *testing.T) *model.Integration {
	t.Helper()
	state, err := f.states.SignState(biz, "square")
	require.NoError(t, err)
	integ, err := f.svc.Callback(context.Background(), "square", "code-1", state)
	require.NoError(t, err)
	return integ
}

func TestAuthURLCarriesSignedState(t *testing.T) {
	f := newIntegrationFixture()

	u, err := f.svc.AuthURL(context.Background(), biz, "Gmail")
	require.NoError(t, err)
	assert.Contains(t, u, "https://accounts.example/auth?state=")

	_, err = f.svc.AuthURL(context.Background(), biz, "outlook")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestCallbackSquare(t *testing.T) {
	f := newIntegrationFixture()
	integ := f.connectSquare(t)

	assert.Equal(t, biz, integ.UserID)
	assert.True(t, integ.IsActive)
	assert.Equal(t, "sq-access", integ.AccessToken)
	require.NotNil(t, integ.Settings.Scheduling)
	assert.Nil(t, integ.Settings.Mail)
	assert.Equal(t, "M123", integ.Settings.Scheduling.MerchantID)
	assert.Equal(t, "L2", integ.Settings.Scheduling.LocationID)
	assert.Equal(t, []string{"L1", "L2"}, integ.Settings.Scheduling.Locations)
	assert.Equal(t, []string{queue.TopicIntegrationSync}, f.queue.published)
	assert.Equal(t, queue.BusinessJob{BusinessID: biz, Auto: true}, f.queue.payloads[0])
	assert.True(t, integ.Settings.Scheduling.AutoSync)
	assert.Equal(t, "24h", integ.Settings.Scheduling.SyncInterval)
}

func TestCallbackReconnectKeepsAutoSyncOff(t *testing.T) {
	f := newIntegrationFixture()
	f.connectSquare(t)
	_, err := f.svc.UpdateSettings(context.Background(), biz, "square",
		SettingsUpdate{AutoSync: boolPtr(false), SyncInterval: strPtr("12h")})
	require.NoError(t, err)

	integ := f.connectSquare(t)
	assert.False(t, integ.Settings.Scheduling.AutoSync)
	assert.Equal(t, "12h", integ.Settings.Scheduling.SyncInterval)
	assert.Len(t, f.queue.published, 1, "no initial sync after reconnecting with auto sync off")
}

func TestUpdateSettings(t *testing.T) {
	f := newIntegrationFixture()
	ctx := context.Background()

	_, err := f.svc.UpdateSettings(ctx, biz, "square", SettingsUpdate{AutoSync: boolPtr(false)})
	assert.True(t, errors.Is(err, appErrors.ErrIntegrationNotConnected))

	f.connectSquare(t)
	integ, err := f.svc.UpdateSettings(ctx, biz, "square",
		SettingsUpdate{SyncInterval: strPtr(" 6h "), LocationID: strPtr("L1")})
	require.NoError(t, err)
	assert.Equal(t, "6h", integ.Settings.Scheduling.SyncInterval)
	assert.Equal(t, "L1", integ.Settings.Scheduling.LocationID)
	assert.True(t, integ.Settings.Scheduling.AutoSync)
	assert.Equal(t, "M123", integ.Settings.Scheduling.MerchantID)
	saved := f.integrations.saved[len(f.integrations.saved)-1]
	assert.Equal(t, "6h", saved.Scheduling.SyncInterval)

	for name, upd := range map[string]SettingsUpdate{
		"bad interval":     {SyncInterval: strPtr("whenever")},
		"interval too low": {SyncInterval: strPtr("5m")},
		"unknown location": {LocationID: strPtr("L9")},
		"mail field":       {SenderEmail: strPtr("a@b.example")},
	} {
		_, err := f.svc.UpdateSettings(ctx, biz, "square", upd)
		assert.True(t, errors.Is(err, appErrors.ErrValidation), name)
	}
	assert.Equal(t, "6h", f.integrations.rows[0].Settings.Scheduling.SyncInterval)

	state, _ := f.states.SignState(biz, "gmail")
	_, err = f.svc.Callback(ctx, "gmail", "code", state)
	require.NoError(t, err)
	_, err = f.svc.UpdateSettings(ctx, biz, "gmail", SettingsUpdate{AutoSync: boolPtr(true)})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	_, err = f.svc.UpdateSettings(ctx, biz, "gmail", SettingsUpdate{SenderEmail: strPtr("nope")})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	integ, err = f.svc.UpdateSettings(ctx, biz, "gmail", SettingsUpdate{SenderEmail: strPtr("front@salon.example")})
	require.NoError(t, err)
	assert.Equal(t, "front@salon.example", integ.Settings.Mail.SenderEmail)
}

func TestSyncIfDue(t *testing.T) {
	f := newIntegrationFixture()
	ctx := context.Background()
	f.connectSquare(t)

	res, err := f.svc.SyncIfDue(ctx, biz)
	require.NoError(t, err)
	require.NotNil(t, res, "never synced")

	res, err = f.svc.SyncIfDue(ctx, biz)
	require.NoError(t, err)
	assert.Nil(t, res, "interval has not elapsed")

	f.svc.Now = func() time.Time { return fixedNow.Add(25 * time.Hour) }
	res, err = f.svc.SyncIfDue(ctx, biz)
	require.NoError(t, err)
	assert.NotNil(t, res)

	_, err = f.svc.UpdateSettings(ctx, biz, "square", SettingsUpdate{AutoSync: boolPtr(false)})
	require.NoError(t, err)
	f.svc.Now = func() time.Time { return fixedNow.Add(100 * time.Hour) }
	res, err = f.svc.SyncIfDue(ctx, biz)
	require.NoError(t, err)
	assert.Nil(t, res, "auto sync off")
}

func TestCallbackGmailReadsSenderAddress(t *testing.T) {
	f := newIntegrationFixture()
	state, err := f.states.SignState(biz, "gmail")
	require.NoError(t, err)

	integ, err := f.svc.Callback(context.Background(), "gmail", "code-1", state)
	require.NoError(t, err)
	require.NotNil(t, integ.Settings.Mail)
	assert.Equal(t, "owner@salon.example", integ.Settings.Mail.SenderEmail)
	assert.Empty(t, f.queue.published)
}

func TestCallbackReconnectKeepsSingleActiveIntegration(t *testing.T) {
	f := newIntegrationFixture()
	f.connectSquare(t)
	f.connectSquare(t)

	active := 0
	for _, i := range f.integrations.rows {
		if i.IsActive {
			active++
		}
	}
	assert.Equal(t, 1, active)
}

func TestCallbackRejectsBadState(t *testing.T) {
	f := newIntegrationFixture()

	_, err := f.svc.Callback(context.Background(), "square", "code-1", "garbage")
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))

	gmailState, err := f.states.SignState(biz, "gmail")
	require.NoError(t, err)
	_, err = f.svc.Callback(context.Background(), "square", "code-1", gmailState)
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))

	_, err = f.svc.Callback(context.Background(), "square", "", gmailState)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	assert.Empty(t, f.integrations.rows)
}

func TestDisconnectDeactivatesEvenWhenRevokeFails(t *testing.T) {
	f := newIntegrationFixture()
	f.connectSquare(t)
	f.scheduling.revokeErr = errors.New("square down")

	require.NoError(t, f.svc.Disconnect(context.Background(), biz, "square"))
	assert.Equal(t, []string{"sq-access"}, f.scheduling.revoked)

	row := f.integrations.rows[0]
	assert.False(t, row.IsActive)
	require.NotNil(t, row.Settings.Scheduling.DisconnectedAt)

	err := f.svc.Disconnect(context.Background(), biz, "square")
	assert.True(t, errors.Is(err, appErrors.ErrIntegrationNotConnected))
}

func TestSendTestEmail(t *testing.T) {
	f := newIntegrationFixture()

	err := f.svc.SendTestEmail(context.Background(), biz, TestEmail{To: "not-an-email", Subject: "s", Body: "b"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	err = f.svc.SendTestEmail(context.Background(), biz, TestEmail{To: "me@example.com", Subject: "s", Body: "b"})
	assert.True(t, errors.Is(err, appErrors.ErrIntegrationNotConnected))

	state, _ := f.states.SignState(biz, "gmail")
	_, err = f.svc.Callback(context.Background(), "gmail", "code", state)
	require.NoError(t, err)

	require.NoError(t, f.svc.SendTestEmail(context.Background(), biz, TestEmail{To: " me@example.com ", Subject: "s", Body: "b"}))
	require.Len(t, f.mail.sent, 1)
	assert.Equal(t, "me@example.com", f.mail.sent[0].To)

	f.mail.failAll = true
	err = f.svc.SendTestEmail(context.Background(), biz, TestEmail{To: "me@example.com", Subject: "s", Body: "b"})
	assert.True(t, errors.Is(err, appErrors.ErrExternalService))
}

func TestSyncScheduling(t *testing.T) {
	f := newIntegrationFixture()
	f.connectSquare(t)
	f.clients.clients = []model.Client{{ID: "existing", UserID: biz, Name: "Old", Email: "old@example.com"}}
	f.scheduling.customers = []square.Customer{
		{ID: "sq1", GivenName: "Nia", FamilyName: "Long", EmailAddress: "nia@example.com", PhoneNumber: "+15550100"},
		{ID: "sq2", GivenName: "No", EmailAddress: "not an email"},
		{ID: "sq3", GivenName: "Old", EmailAddress: "old@example.com"},
	}
	f.scheduling.bookings = []square.Booking{
		{ID: "bk1", Status: "ACCEPTED", StartAt: "2025-03-01T15:00:00Z", CustomerID: "sq1"},
		{ID: "bk2", Status: "ACCEPTED", StartAt: "yesterday"},
		{ID: "bk1", Status: "ACCEPTED", StartAt: "2025-03-01T15:00:00Z", CustomerID: "sq1"},
	}

	res, err := f.svc.SyncScheduling(context.Background(), biz)
	require.NoError(t, err)
	assert.Equal(t, SyncCounts{Synced: 1, Errors: 1}, res.Customers)
	assert.Equal(t, SyncCounts{Synced: 1, Errors: 1}, res.Bookings)

	imported, err := f.clients.FindByExternalID(context.Background(), biz, "sq1")
	require.NoError(t, err)
	require.NotNil(t, imported)
	assert.Equal(t, []string{"square-import"}, []string(imported.Tags))

	require.Len(t, f.appointments.rows, 1)
	appt := f.appointments.rows[0]
	assert.Equal(t, imported.ID, *appt.ClientID)
	assert.Equal(t, model.AppointmentBooked, appt.Status)
	assert.Equal(t, "Square Booking", appt.Service)
	assert.True(t, appt.Amount.Valid)
	assert.True(t, appt.Amount.Decimal.IsZero())

	assert.True(t, f.scheduling.window[1].Equal(fixedNow))
	assert.True(t, f.scheduling.window[0].Equal(fixedNow.AddDate(0, 0, -30)))

	require.NotEmpty(t, f.integrations.saved)
	assert.NotNil(t, f.integrations.saved[len(f.integrations.saved)-1].Scheduling.LastSyncedAt)

	res, err = f.svc.SyncScheduling(context.Background(), biz)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Customers.Synced)
	assert.Equal(t, 0, res.Bookings.Synced)
	assert.Len(t, f.appointments.rows, 1)
}

func TestSyncSchedulingCustomerFailureStillSyncsBookings(t *testing.T) {
	f := newIntegrationFixture()
	f.connectSquare(t)
	f.scheduling.customerErr = errors.New("502 bad gateway")
	f.scheduling.bookings = []square.Booking{{ID: "bk1", Status: "PENDING", StartAt: "2025-03-02T10:00:00Z"}}

	res, err := f.svc.SyncScheduling(context.Background(), biz)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Customers.Errors)
	assert.Equal(t, 1, res.Bookings.Synced)
	assert.Equal(t, model.AppointmentPending, f.appointments.rows[0].Status)
}

func TestSyncSchedulingRequiresConnection(t *testing.T) {
	f := newIntegrationFixture()
	_, err := f.svc.SyncScheduling(context.Background(), biz)
	assert.True(t, errors.Is(err, appErrors.ErrIntegrationNotConnected))
}
