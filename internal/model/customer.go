package model

import "time"

const (
	CustomerActive    = "active"
	CustomerSuspended = "suspended"
)

type Customer struct {
	ID           int64     `db:"id"`
	Name         string    `db:"name"`
	APIKey       string    `db:"api_key"`
	Status       string    `db:"status"`         // active|suspended
	Country      string    `db:"country"`        // default country tag for generated tracking
	Operator     string    `db:"operator"`       // default operator tag for generated tracking
	RateLimitRPS *int      `db:"rate_limit_rps"` // nullable
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}
