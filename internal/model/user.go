package model

import "time"

type User struct {
	ID           string    `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	BusinessName string    `db:"business_name" json:"business_name"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
