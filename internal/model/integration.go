package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

type Provider string

const (
	ProviderGmail  Provider = "gmail"
	ProviderSquare Provider = "square"
)

func ParseProvider(s string) (Provider, bool) {
	switch Provider(s) {
	case ProviderGmail, ProviderSquare:
		return Provider(s), true
	}
	return "", false
}

type Integration struct {
	ID           string     `db:"id" json:"id"`
	UserID       string     `db:"user_id" json:"user_id"`
	Provider     Provider   `db:"provider" json:"provider"`
	AccessToken  string     `db:"access_token" json:"-"`
	RefreshToken string     `db:"refresh_token" json:"-"`
	TokenExpiry  *time.Time `db:"token_expiry" json:"token_expiry,omitempty"`
	IsActive     bool       `db:"is_active" json:"is_active"`
	Settings     Settings   `db:"settings" json:"settings"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// TokenSet is a provider token response normalized to an absolute expiry.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	Expiry       *time.Time
}

// Settings is a tagged variant: exactly one of Mail or Scheduling is set and
// it must match the integration provider.
type Settings struct {
	Mail       *MailSettings       `json:"mail,omitempty"`
	Scheduling *SchedulingSettings `json:"scheduling,omitempty"`
}

type MailSettings struct {
	SenderEmail    string     `json:"sender_email,omitempty"`
	ConnectedAt    *time.Time `json:"connected_at,omitempty"`
	DisconnectedAt *time.Time `json:"disconnected_at,omitempty"`
}

type SchedulingSettings struct {
	AutoSync       bool       `json:"auto_sync"`
	SyncInterval   string     `json:"sync_interval"`
	MerchantID     string     `json:"merchant_id,omitempty"`
	LocationID     string     `json:"location_id,omitempty"`
	Locations      []string   `json:"locations,omitempty"`
	ConnectedAt    *time.Time `json:"connected_at,omitempty"`
	DisconnectedAt *time.Time `json:"disconnected_at,omitempty"`
	LastSyncedAt   *time.Time `json:"last_synced_at,omitempty"`
}

// DefaultSettings returns the settings a freshly connected provider starts with.
func DefaultSettings(p Provider, now time.Time) Settings {
	switch p {
	case ProviderSquare:
		return Settings{Scheduling: &SchedulingSettings{AutoSync: true, SyncInterval: "24h", ConnectedAt: &now}}
	default:
		return Settings{Mail: &MailSettings{ConnectedAt: &now}}
	}
}

const (
	DefaultSyncInterval = 24 * time.Hour
	MinSyncInterval     = time.Hour
)

// Interval is the parsed sync interval, DefaultSyncInterval when unset or invalid.
func (s *SchedulingSettings) Interval() time.Duration {
	d, err := time.ParseDuration(s.SyncInterval)
	if err != nil || d < MinSyncInterval {
		return DefaultSyncInterval
	}
	return d
}

// SyncDue reports whether an automatic sync should run at now.
func (s *SchedulingSettings) SyncDue(now time.Time) bool {
	if !s.AutoSync {
		return false
	}
	return s.LastSyncedAt == nil || !now.Before(s.LastSyncedAt.Add(s.Interval()))
}

// Check verifies the variant matches the provider and its fields are usable.
func (s Settings) Check(p Provider) error {
	switch p {
	case ProviderGmail:
		if s.Mail == nil || s.Scheduling != nil {
			return fmt.Errorf("settings: gmail integration requires mail settings only")
		}
	case ProviderSquare:
		if s.Scheduling == nil || s.Mail != nil {
			return fmt.Errorf("settings: square integration requires scheduling settings only")
		}
		sch := s.Scheduling
		if sch.SyncInterval != "" {
			d, err := time.ParseDuration(sch.SyncInterval)
			if err != nil {
				return fmt.Errorf("settings: invalid sync interval %q", sch.SyncInterval)
			}
			if d < MinSyncInterval {
				return fmt.Errorf("settings: sync interval must be at least %s", MinSyncInterval)
			}
		}
		if sch.LocationID != "" && len(sch.Locations) > 0 && !slices.Contains(sch.Locations, sch.LocationID) {
			return fmt.Errorf("settings: unknown location %q", sch.LocationID)
		}
	default:
		return fmt.Errorf("settings: unknown provider %q", p)
	}
	return nil
}

// MarkDisconnected stamps the disconnection time on whichever variant is set.
func (s *Settings) MarkDisconnected(at time.Time) {
	if s.Mail != nil {
		s.Mail.DisconnectedAt = &at
	}
	if s.Scheduling != nil {
		s.Scheduling.DisconnectedAt = &at
	}
}

func (s Settings) Value() (driver.Value, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *Settings) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*s = Settings{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("settings: unsupported scan type %T", src)
	}
	return json.Unmarshal(raw, s)
}
