// Package gmail connects mailboxes over OAuth and sends campaign mail
// through the Gmail API.
package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"gopkg.in/gomail.v2"

	"github.com/unclebandit/promopal-backend/internal/metrics"
	"github.com/unclebandit/promopal-backend/internal/model"
)

const (
	DefaultBaseURL   = "https://gmail.googleapis.com"
	DefaultRevokeURL = "https://oauth2.googleapis.com/revoke"

	ScopeSend     = "https://www.googleapis.com/auth/gmail.send"
	ScopeReadonly = "https://www.googleapis.com/auth/gmail.readonly"

	defaultTokenLifetime = time.Hour
)

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	DefaultFrom  string
	BaseURL      string
	RevokeURL    string
	Endpoint     *oauth2.Endpoint // overrides google.Endpoint, used by tests
	Timeout      time.Duration
}

type Client struct {
	oauth       *oauth2.Config
	base        string
	revokeURL   string
	defaultFrom string
	HTTP        *http.Client
	now         func() time.Time
}

func New(cfg Config) *Client {
	endpoint := google.Endpoint
	if cfg.Endpoint != nil {
		endpoint = *cfg.Endpoint
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.RevokeURL == "" {
		cfg.RevokeURL = DefaultRevokeURL
	}
	if cfg.DefaultFrom == "" {
		cfg.DefaultFrom = "PromoPal <noreply@promopal.com>"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{ScopeSend, ScopeReadonly},
			Endpoint:     endpoint,
		},
		base:        strings.TrimRight(cfg.BaseURL, "/"),
		revokeURL:   cfg.RevokeURL,
		defaultFrom: cfg.DefaultFrom,
		HTTP:        &http.Client{Timeout: cfg.Timeout},
		now:         time.Now,
	}
}

// AuthURL requests offline access and forces the consent screen so a
// refresh token is always issued.
func (c *Client) AuthURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (c *Client) Exchange(ctx context.Context, code string) (*model.TokenSet, error) {
	start := time.Now()
	tok, err := c.oauth.Exchange(c.withHTTP(ctx), code)
	metrics.ObserveExternal("gmail", "oauth_exchange", start, err)
	if err != nil {
		return nil, fmt.Errorf("gmail: exchange code: %w", err)
	}
	return c.tokenSet(tok), nil
}

// Refresh implements token.Refresher.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*model.TokenSet, error) {
	start := time.Now()
	tok, err := c.oauth.TokenSource(c.withHTTP(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	metrics.ObserveExternal("gmail", "oauth_refresh", start, err)
	if err != nil {
		return nil, fmt.Errorf("gmail: refresh token: %w", err)
	}
	return c.tokenSet(tok), nil
}

func (c *Client) tokenSet(tok *oauth2.Token) *model.TokenSet {
	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = c.now().Add(defaultTokenLifetime)
	}
	return &model.TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       &expiry,
	}
}

func (c *Client) withHTTP(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.HTTP)
}

func (c *Client) api(ctx context.Context, accessToken string) *http.Client {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	return oauth2.NewClient(c.withHTTP(ctx), src)
}

// Message is one outbound email.
type Message struct {
	From    string
	To      string
	Subject string
	Body    string
}

// Send delivers msg from the authorized mailbox.
func (c *Client) Send(ctx context.Context, accessToken string, msg Message) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveExternal("gmail", "send", start, err) }()

	raw, err := c.buildRaw(msg)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(map[string]string{"raw": raw})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/gmail/v1/users/me/messages/send", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.api(ctx, accessToken).Do(req)
	if err != nil {
		return fmt.Errorf("gmail: send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	return nil
}

// buildRaw renders msg as an RFC 2822 message, base64url encoded as the
// Gmail API expects.
func (c *Client) buildRaw(msg Message) (string, error) {
	from := msg.From
	if from == "" {
		from = c.defaultFrom
	}
	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)
	m.AddAlternative("text/html", toHTML(msg.Body))

	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return "", fmt.Errorf("gmail: build message: %w", err)
	}
	return base64.URLEncoding.EncodeToString(buf.Bytes()), nil
}

func toHTML(body string) string {
	return "<p>" + strings.ReplaceAll(html.EscapeString(body), "\n", "<br>") + "</p>"
}

// Profile returns the address of the authorized mailbox.
func (c *Client) Profile(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/gmail/v1/users/me/profile", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.api(ctx, accessToken).Do(req)
	if err != nil {
		return "", fmt.Errorf("gmail: profile: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", decodeError(resp)
	}
	var out struct {
		EmailAddress string `json:"emailAddress"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("gmail: decode profile: %w", err)
	}
	return out.EmailAddress, nil
}

func (c *Client) Revoke(ctx context.Context, tok string) error {
	form := url.Values{"token": {tok}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("gmail: revoke: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	return nil
}

// APIError is a non-2xx Google API response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gmail: status %d: %s", e.Status, e.Message)
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&payload); err == nil && payload.Error.Message != "" {
		apiErr.Message = payload.Error.Message
	}
	return apiErr
}
