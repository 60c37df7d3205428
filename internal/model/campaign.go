// internal/model/campaign.go
package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignSending   CampaignStatus = "sending"
	CampaignSent      CampaignStatus = "sent"
)

// Sendable reports whether a send may start from this status.
func (s CampaignStatus) Sendable() bool {
	return s == CampaignDraft || s == CampaignScheduled
}

// Editable reports whether content and audience may still change.
func (s CampaignStatus) Editable() bool {
	return s == CampaignDraft || s == CampaignScheduled
}

type Campaign struct {
	ID                 string         `db:"id" json:"id"`
	UserID             string         `db:"user_id" json:"user_id"`
	Name               string         `db:"name" json:"name"`
	Subject            *string        `db:"subject" json:"subject"`
	Body               *string        `db:"body" json:"body"`
	Audience           Audience       `db:"audience" json:"target_audience"`
	Status             CampaignStatus `db:"status" json:"status"`
	RecipientCount     int            `db:"recipient_count" json:"recipient_count"`
	AppointmentsBooked int            `db:"appointments_booked" json:"appointments_booked"`
	AutoCategory       *string        `db:"auto_category" json:"auto_category,omitempty"`
	ScheduledAt        *time.Time     `db:"scheduled_at" json:"scheduled_at,omitempty"`
	SentAt             *time.Time     `db:"sent_at" json:"sent_at,omitempty"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt          *time.Time     `db:"updated_at" json:"updated_at,omitempty"`
}

// HasContent is true when both subject and body are non-empty.
func (c *Campaign) HasContent() bool {
	return c.Subject != nil && *c.Subject != "" && c.Body != nil && *c.Body != ""
}

// Audience selects recipients. A non-empty ClientIDs allow-list wins over
// SegmentType.
type Audience struct {
	SegmentType string            `json:"segment_type"`
	ClientIDs   []string          `json:"client_ids,omitempty"`
	Filters     map[string]string `json:"filters,omitempty"`
}

func (a Audience) Value() (driver.Value, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (a *Audience) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*a = Audience{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("audience: unsupported scan type %T", src)
	}
	return json.Unmarshal(raw, a)
}
