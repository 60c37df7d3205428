// Package square talks to the Square OAuth, Locations, Customers and
// Bookings APIs.
package square

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/unclebandit/promopal-backend/internal/metrics"
	"github.com/unclebandit/promopal-backend/internal/model"
	"github.com/unclebandit/promopal-backend/internal/token"
)

const (
	ProductionURL = "https://connect.squareup.com"
	SandboxURL    = "https://connect.squareupsandbox.com"

	Scopes = "CUSTOMERS_READ APPOINTMENTS_READ MERCHANT_PROFILE_READ"
)

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Environment  string // production or sandbox
	APIVersion   string
	BaseURL      string // overrides Environment, used by tests
	Timeout      time.Duration
}

type Client struct {
	cfg  Config
	base string
	HTTP *http.Client
	now  func() time.Time
}

func New(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = ProductionURL
		if cfg.Environment == "sandbox" {
			base = SandboxURL
		}
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2024-01-17"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		cfg:  cfg,
		base: strings.TrimRight(base, "/"),
		HTTP: &http.Client{Timeout: cfg.Timeout},
		now:  time.Now,
	}
}

// APIError is a non-2xx Square response.
type APIError struct {
	Status      int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("square: %d %s: %s", e.Status, e.Code, e.Description)
	}
	return fmt.Sprintf("square: status %d %s", e.Status, e.Code)
}

// AuthURL returns the merchant authorization URL.
func (c *Client) AuthURL(state string) string {
	q := url.Values{}
	q.Set("client_id", c.cfg.ClientID)
	q.Set("scope", Scopes)
	q.Set("session", "false")
	q.Set("state", state)
	if c.cfg.RedirectURL != "" {
		q.Set("redirect_uri", c.cfg.RedirectURL)
	}
	return c.base + "/oauth2/authorize?" + q.Encode()
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	MerchantID   string `json:"merchant_id"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    string `json:"expires_at"`
}

// Grant is the normalized result of a code exchange.
type Grant struct {
	Tokens     model.TokenSet
	MerchantID string
}

func (c *Client) Exchange(ctx context.Context, code string) (*Grant, error) {
	return c.token(ctx, map[string]string{
		"client_id":     c.cfg.ClientID,
		"client_secret": c.cfg.ClientSecret,
		"code":          code,
		"grant_type":    "authorization_code",
		"redirect_uri":  c.cfg.RedirectURL,
	})
}

// Refresh implements token.Refresher.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*model.TokenSet, error) {
	g, err := c.token(ctx, map[string]string{
		"client_id":     c.cfg.ClientID,
		"client_secret": c.cfg.ClientSecret,
		"refresh_token": refreshToken,
		"grant_type":    "refresh_token",
	})
	if err != nil {
		return nil, err
	}
	return &g.Tokens, nil
}

func (c *Client) token(ctx context.Context, body map[string]string) (*Grant, error) {
	var resp tokenResponse
	if err := c.do(ctx, "oauth_token", http.MethodPost, "/oauth2/token", "", body, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("square: token response without access_token")
	}
	return &Grant{
		Tokens: model.TokenSet{
			AccessToken:  resp.AccessToken,
			RefreshToken: resp.RefreshToken,
			Expiry:       c.normalizeExpiry(resp),
		},
		MerchantID: resp.MerchantID,
	}, nil
}

// normalizeExpiry prefers relative expires_in seconds and falls back to the
// absolute expires_at timestamp.
func (c *Client) normalizeExpiry(resp tokenResponse) *time.Time {
	if exp := token.ExpiryFromSeconds(c.now(), resp.ExpiresIn); exp != nil {
		return exp
	}
	if resp.ExpiresAt != "" {
		if t, err := time.Parse(time.RFC3339, resp.ExpiresAt); err == nil {
			return &t
		}
	}
	return nil
}

func (c *Client) Revoke(ctx context.Context, accessToken string) error {
	body := map[string]string{"client_id": c.cfg.ClientID, "access_token": accessToken}
	return c.do(ctx, "oauth_revoke", http.MethodPost, "/oauth2/revoke", "Client "+c.cfg.ClientSecret, body, nil)
}

type Location struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

func (c *Client) ListLocations(ctx context.Context, accessToken string) ([]Location, error) {
	var resp struct {
		Locations []Location `json:"locations"`
	}
	if err := c.do(ctx, "list_locations", http.MethodGet, "/v2/locations", "Bearer "+accessToken, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Locations, nil
}

// PickLocation returns the first ACTIVE location, else the first one.
func PickLocation(locs []Location) (Location, bool) {
	for _, l := range locs {
		if l.Status == "ACTIVE" {
			return l, true
		}
	}
	if len(locs) > 0 {
		return locs[0], true
	}
	return Location{}, false
}

type Customer struct {
	ID           string `json:"id"`
	GivenName    string `json:"given_name"`
	FamilyName   string `json:"family_name"`
	EmailAddress string `json:"email_address"`
	PhoneNumber  string `json:"phone_number"`
	CreatedAt    string `json:"created_at"`
}

func (cu Customer) DisplayName() string {
	name := strings.TrimSpace(cu.GivenName + " " + cu.FamilyName)
	if name == "" {
		return cu.EmailAddress
	}
	return name
}

// ListCustomers follows pagination cursors until exhausted.
func (c *Client) ListCustomers(ctx context.Context, accessToken string) ([]Customer, error) {
	var all []Customer
	cursor := ""
	for {
		path := "/v2/customers"
		if cursor != "" {
			path += "?cursor=" + url.QueryEscape(cursor)
		}
		var resp struct {
			Customers []Customer `json:"customers"`
			Cursor    string     `json:"cursor"`
		}
		if err := c.do(ctx, "list_customers", http.MethodGet, path, "Bearer "+accessToken, nil, &resp); err != nil {
			return nil, err
		}
		all = append(all, resp.Customers...)
		if resp.Cursor == "" {
			return all, nil
		}
		cursor = resp.Cursor
	}
}

type Booking struct {
	ID                  string               `json:"id"`
	Status              string               `json:"status"`
	StartAt             string               `json:"start_at"`
	CustomerID          string               `json:"customer_id"`
	LocationID          string               `json:"location_id"`
	CustomerNote        string               `json:"customer_note"`
	AppointmentSegments []AppointmentSegment `json:"appointment_segments"`
}

type AppointmentSegment struct {
	ServiceVariationID string            `json:"service_variation_id"`
	ServiceVariation   *ServiceVariation `json:"service_variation,omitempty"`
}

// ServiceVariation is only expanded in webhook payloads.
type ServiceVariation struct {
	Name     string            `json:"name"`
	Metadata map[string]string `json:"metadata"`
}

// AppointmentStatus maps Square booking states onto ours.
func (b Booking) AppointmentStatus() string {
	if b.Status == "ACCEPTED" {
		return model.AppointmentBooked
	}
	if strings.HasPrefix(b.Status, "CANCELLED") || b.Status == "DECLINED" {
		return model.AppointmentCancelled
	}
	return model.AppointmentPending
}

func (b Booking) Service() string {
	if len(b.AppointmentSegments) == 0 {
		return ""
	}
	seg := b.AppointmentSegments[0]
	if seg.ServiceVariation != nil && seg.ServiceVariation.Name != "" {
		return seg.ServiceVariation.Name
	}
	return seg.ServiceVariationID
}

// CampaignID is the campaign a booking link was tagged with, if any.
func (b Booking) CampaignID() string {
	if len(b.AppointmentSegments) == 0 || b.AppointmentSegments[0].ServiceVariation == nil {
		return ""
	}
	return b.AppointmentSegments[0].ServiceVariation.Metadata["campaign_id"]
}

// ListBookings returns bookings at locationID starting in [from, to).
func (c *Client) ListBookings(ctx context.Context, accessToken, locationID string, from, to time.Time) ([]Booking, error) {
	var all []Booking
	cursor := ""
	for {
		q := url.Values{}
		if locationID != "" {
			q.Set("location_id", locationID)
		}
		q.Set("start_at_min", from.UTC().Format(time.RFC3339))
		q.Set("start_at_max", to.UTC().Format(time.RFC3339))
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		var resp struct {
			Bookings []Booking `json:"bookings"`
			Cursor   string    `json:"cursor"`
		}
		if err := c.do(ctx, "list_bookings", http.MethodGet, "/v2/bookings?"+q.Encode(), "Bearer "+accessToken, nil, &resp); err != nil {
			return nil, err
		}
		all = append(all, resp.Bookings...)
		if resp.Cursor == "" {
			return all, nil
		}
		cursor = resp.Cursor
	}
}

func (c *Client) do(ctx context.Context, op, method, path, auth string, body any, out any) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveExternal("square", op, start, err) }()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Square-Version", c.cfg.APIVersion)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("square %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("square %s: decode response: %w", op, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var payload struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		Errors           []struct {
			Code   string `json:"code"`
			Detail string `json:"detail"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&payload); err == nil {
		apiErr.Code = payload.Error
		apiErr.Description = payload.ErrorDescription
		if len(payload.Errors) > 0 {
			apiErr.Code = payload.Errors[0].Code
			apiErr.Description = payload.Errors[0].Detail
		}
	}
	return apiErr
}
