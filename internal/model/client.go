// internal/model/client.go
package model

import (
	"time"

	"github.com/lib/pq"
)

type Client struct {
	ID                 string         `db:"id" json:"id"`
	UserID             string         `db:"user_id" json:"user_id"`
	Name               string         `db:"name" json:"name"`
	Email              string         `db:"email" json:"email"`
	Phone              *string        `db:"phone" json:"phone,omitempty"`
	LastVisit          *time.Time     `db:"last_visit" json:"last_visit"`
	Tags               pq.StringArray `db:"tags" json:"tags"`
	ExternalCustomerID *string        `db:"external_customer_id" json:"external_customer_id,omitempty"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
}
