// Package gemini generates campaign copy with the Gemini generateContent API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/unclebandit/promopal-backend/internal/metrics"
	"github.com/unclebandit/promopal-backend/internal/model"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel   = "gemini-2.5-flash"
)

var ErrEmptyContent = errors.New("gemini: response is missing subject or body")

const systemPrompt = `You are an expert email marketing specialist for service businesses.
Generate high-converting email campaigns that drive appointment bookings.
Respond with JSON in exactly this shape:
{
  "subject": "compelling subject line under 50 characters",
  "body": "personalized email body with a clear call to action to book an appointment"
}`

const promptGoals = `Create an email campaign that:
- Has a compelling subject line that drives opens
- Speaks to the target audience
- Ends with a clear call to action to book an appointment
- Keeps the brand voice described above
- Uses the business name, location and services when relevant
- Weaves in the seasonal theme and focus keywords if given`

// ContentRequest is the prompt context for one campaign.
type ContentRequest struct {
	BusinessType           string
	CampaignType           string
	TargetAudience         string
	SeasonalTheme          string
	FocusKeywords          string
	CustomPrompt           string
	AdditionalInstructions string
	Profile                *model.BusinessProfile
}

// Content is a generated subject and body.
type Content struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

type Client struct {
	apiKey string
	model  string
	base   string
	HTTP   *http.Client
}

func New(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		apiKey: cfg.APIKey,
		model:  cfg.Model,
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		HTTP:   &http.Client{Timeout: cfg.Timeout},
	}
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	SystemInstruction content          `json:"systemInstruction"`
	Contents          []content        `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type generationConfig struct {
	ResponseMimeType string         `json:"responseMimeType"`
	ResponseSchema   map[string]any `json:"responseSchema"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

var responseSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"subject": map[string]any{"type": "string"},
		"body":    map[string]any{"type": "string"},
	},
	"required": []string{"subject", "body"},
}

// GenerateCampaignContent returns a subject and body for req. A response
// without both fields is ErrEmptyContent.
func (c *Client) GenerateCampaignContent(ctx context.Context, req ContentRequest) (out *Content, err error) {
	start := time.Now()
	defer func() { metrics.ObserveExternal("gemini", "generate_content", start, err) }()

	payload, err := json.Marshal(generateRequest{
		SystemInstruction: content{Parts: []part{{Text: systemPrompt}}},
		Contents:          []content{{Role: "user", Parts: []part{{Text: BuildPrompt(req)}}}},
		GenerationConfig: generationConfig{
			ResponseMimeType: "application/json",
			ResponseSchema:   responseSchema,
		},
	})
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.base, url.PathEscape(c.model), url.QueryEscape(c.apiKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("gemini: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var gr generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return nil, fmt.Errorf("gemini: decode response: %w", err)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return nil, ErrEmptyContent
	}

	var text strings.Builder
	for _, p := range gr.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}
	return parseContent(text.String())
}

func parseContent(raw string) (*Content, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var out Content
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("gemini: parse content: %w", err)
	}
	out.Subject = strings.TrimSpace(out.Subject)
	out.Body = strings.TrimSpace(out.Body)
	if out.Subject == "" || out.Body == "" {
		return nil, ErrEmptyContent
	}
	return &out, nil
}

// BuildPrompt renders the user prompt. Optional lines are omitted when empty.
func BuildPrompt(req ContentRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Business Type: %s\n", req.BusinessType)
	fmt.Fprintf(&b, "Campaign Type: %s\n", req.CampaignType)
	fmt.Fprintf(&b, "Target Audience: %s\n", req.TargetAudience)
	optional := []struct{ label, value string }{
		{"Seasonal Theme", req.SeasonalTheme},
		{"Focus Keywords", req.FocusKeywords},
		{"Additional Instructions", req.CustomPrompt},
		{"Extra Instructions", req.AdditionalInstructions},
	}
	for _, o := range optional {
		if v := strings.TrimSpace(o.value); v != "" {
			fmt.Fprintf(&b, "%s: %s\n", o.label, v)
		}
	}

	if p := req.Profile; p != nil {
		b.WriteString("\nBusiness Context:\n")
		ctxLines := []struct{ label, value string }{
			{"Business Name", p.BusinessName},
			{"Business Category", p.BusinessCategory},
			{"Location", p.Location},
			{"Brand Voice", p.BrandVoice},
			{"Business Bio", p.ShortBusinessBio},
			{"Products/Services", p.ProductsServices},
			{"Brand Materials", p.BusinessMaterials},
		}
		for _, l := range ctxLines {
			v := l.value
			if v == "" {
				v = "Not specified"
			}
			fmt.Fprintf(&b, "- %s: %s\n", l.label, v)
		}
	}

	b.WriteString("\n")
	b.WriteString(promptGoals)
	return b.String()
}
