// internal/model/recipient.go
package model

import "time"

const (
	RecipientSent   = "sent"
	RecipientFailed = "failed"
)

// CampaignRecipient is one send attempt recorded during a campaign fan-out.
type CampaignRecipient struct {
	ID          string    `db:"id" json:"id"`
	CampaignID  string    `db:"campaign_id" json:"campaign_id"`
	ClientID    string    `db:"client_id" json:"client_id"`
	Email       string    `db:"email" json:"email"`
	Status      string    `db:"status" json:"status"`
	LastError   string    `db:"last_error" json:"last_error,omitempty"`
	AttemptedAt time.Time `db:"attempted_at" json:"attempted_at"`
}
