package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	AppointmentBooked    = "booked"
	AppointmentPending   = "pending"
	AppointmentCancelled = "cancelled"
)

type Appointment struct {
	ID                string              `db:"id" json:"id"`
	UserID            string              `db:"user_id" json:"user_id"`
	CampaignID        *string             `db:"campaign_id" json:"campaign_id,omitempty"`
	ClientID          *string             `db:"client_id" json:"client_id,omitempty"`
	AppointmentDate   time.Time           `db:"appointment_date" json:"appointment_date"`
	Service           string              `db:"service" json:"service"`
	Status            string              `db:"status" json:"status"`
	Amount            decimal.NullDecimal `db:"amount" json:"amount"`
	ExternalBookingID *string             `db:"external_booking_id" json:"external_booking_id,omitempty"`
	CreatedAt         time.Time           `db:"created_at" json:"created_at"`
}
