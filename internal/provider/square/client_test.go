package square

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/promopal-backend/internal/model"
)

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := New(Config{ClientID: "cid", ClientSecret: "secret", RedirectURL: "http://localhost/cb", BaseURL: srv.URL})
	c.now = func() time.Time { return fixedNow }
	return c
}

func TestRefreshNormalizesRelativeExpiry(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/oauth2/token", r.URL.Path)
		assert.Equal(t, "2024-01-17", r.Header.Get("Square-Version"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "refresh_token", body["grant_type"])
		assert.Equal(t, "r1", body["refresh_token"])

		json.NewEncoder(w).Encode(map[string]any{"access_token": "a2", "expires_in": 3600})
	})

	set, err := c.Refresh(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "a2", set.AccessToken)
	assert.Empty(t, set.RefreshToken, "omitted refresh token is left for the caller to retain")
	require.NotNil(t, set.Expiry)
	assert.Equal(t, fixedNow.Add(time.Hour), *set.Expiry)
}

func TestExchangeFallsBackToAbsoluteExpiry(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "a1",
			"refresh_token": "r1",
			"merchant_id":   "M1",
			"expires_at":    "2025-07-15T12:00:00Z",
		})
	})

	g, err := c.Exchange(context.Background(), "code-1")
	require.NoError(t, err)
	assert.Equal(t, "M1", g.MerchantID)
	assert.Equal(t, time.Date(2025, 7, 15, 12, 0, 0, 0, time.UTC), *g.Tokens.Expiry)
}

func TestTokenErrorIsDecoded(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid_grant","error_description":"refresh token revoked"}`))
	})

	_, err := c.Refresh(context.Background(), "r1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "invalid_grant", apiErr.Code)
}

func TestListCustomersFollowsCursor(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		if r.URL.Query().Get("cursor") == "" {
			json.NewEncoder(w).Encode(map[string]any{
				"customers": []map[string]any{{"id": "C1", "given_name": "Ann", "email_address": "ann@example.com"}},
				"cursor":    "next",
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"customers": []map[string]any{{"id": "C2", "family_name": "Bee", "email_address": "bee@example.com"}},
		})
	})

	customers, err := c.ListCustomers(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.Len(t, customers, 2)
	assert.Equal(t, "Ann", customers[0].DisplayName())
	assert.Equal(t, "Bee", customers[1].DisplayName())
}

func TestListBookingsQuery(t *testing.T) {
	from := fixedNow.AddDate(0, 0, -30)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "L1", q.Get("location_id"))
		assert.Equal(t, from.Format(time.RFC3339), q.Get("start_at_min"))
		json.NewEncoder(w).Encode(map[string]any{
			"bookings": []map[string]any{
				{"id": "B1", "status": "ACCEPTED", "start_at": "2025-06-10T10:00:00Z"},
				{"id": "B2", "status": "PENDING", "start_at": "2025-06-11T10:00:00Z"},
				{"id": "B3", "status": "CANCELLED_BY_CUSTOMER", "start_at": "2025-06-12T10:00:00Z"},
			},
		})
	})

	bookings, err := c.ListBookings(context.Background(), "tok", "L1", from, fixedNow)
	require.NoError(t, err)
	require.Len(t, bookings, 3)
	assert.Equal(t, model.AppointmentBooked, bookings[0].AppointmentStatus())
	assert.Equal(t, model.AppointmentPending, bookings[1].AppointmentStatus())
	assert.Equal(t, model.AppointmentCancelled, bookings[2].AppointmentStatus())
}

func TestAuthURL(t *testing.T) {
	c := New(Config{ClientID: "cid", Environment: "sandbox"})
	u, err := url.Parse(c.AuthURL("state-1"))
	require.NoError(t, err)
	assert.Equal(t, "connect.squareupsandbox.com", u.Host)
	assert.Equal(t, Scopes, u.Query().Get("scope"))
	assert.Equal(t, "state-1", u.Query().Get("state"))
}

func TestPickLocation(t *testing.T) {
	loc, ok := PickLocation([]Location{{ID: "L0", Status: "INACTIVE"}, {ID: "L1", Status: "ACTIVE"}})
	assert.True(t, ok)
	assert.Equal(t, "L1", loc.ID)

	loc, ok = PickLocation([]Location{{ID: "L0", Status: "INACTIVE"}})
	assert.True(t, ok)
	assert.Equal(t, "L0", loc.ID)

	_, ok = PickLocation(nil)
	assert.False(t, ok)
}
