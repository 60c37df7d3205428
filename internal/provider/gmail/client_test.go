package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return New(Config{
		ClientID:     "cid",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost/cb",
		BaseURL:      srv.URL,
		RevokeURL:    srv.URL + "/revoke",
		Endpoint:     &oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token", AuthStyle: oauth2.AuthStyleInParams},
	})
}

func TestAuthURLRequestsOfflineConsent(t *testing.T) {
	c := New(Config{ClientID: "cid", RedirectURL: "http://localhost/cb"})
	u, err := url.Parse(c.AuthURL("st"))
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, "st", q.Get("state"))
	assert.Contains(t, q.Get("scope"), ScopeSend)
	assert.Contains(t, q.Get("scope"), ScopeReadonly)
}

func TestRefreshUsesRefreshGrant(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "r1", r.Form.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"a2","token_type":"Bearer","expires_in":3600}`))
	})
	c := newTestClient(t, mux)

	before := time.Now()
	set, err := c.Refresh(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "a2", set.AccessToken)
	require.NotNil(t, set.Expiry)
	assert.True(t, set.Expiry.After(before.Add(50*time.Minute)))
}

func TestRefreshFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	})
	c := newTestClient(t, mux)

	_, err := c.Refresh(context.Background(), "r1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_grant")
}

func TestSendPostsBase64URLRawMessage(t *testing.T) {
	var raw string
	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/messages/send", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		raw = body["raw"]
		w.Write([]byte(`{"id":"m1"}`))
	})
	c := newTestClient(t, mux)

	err := c.Send(context.Background(), "tok", Message{To: "ann@example.com", Subject: "Spring sale", Body: "Hi Ann,\nsee you soon"})
	require.NoError(t, err)

	decoded, err := base64.URLEncoding.DecodeString(raw)
	require.NoError(t, err)
	msg := string(decoded)
	assert.Contains(t, msg, "To: ann@example.com")
	assert.Contains(t, msg, "Subject: Spring sale")
	assert.Contains(t, msg, "noreply@promopal.com")
	assert.True(t, strings.Contains(msg, "text/plain") && strings.Contains(msg, "text/html"))
}

func TestSendSurfacesAPIError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/messages/send", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":400,"message":"Invalid To header"}}`))
	})
	c := newTestClient(t, mux)

	err := c.Send(context.Background(), "tok", Message{To: "bad", Subject: "s", Body: "b"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Invalid To header", apiErr.Message)
}

func TestProfile(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/profile", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"emailAddress":"owner@glow.com"}`))
	})
	c := newTestClient(t, mux)

	addr, err := c.Profile(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "owner@glow.com", addr)
}
