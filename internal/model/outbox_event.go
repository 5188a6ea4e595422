package model

import "time"

type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "pending"
	OutboxProcessing OutboxStatus = "processing"
	OutboxSent       OutboxStatus = "sent"
	OutboxFailed     OutboxStatus = "failed"
)

type OutboxEvent struct {
	ID          int64        `db:"id"`
	Aggregate   string       `db:"aggregate"`    // e.g. "campaign"
	AggregateID string       `db:"aggregate_id"` // campaign UUID
	Topic       string       `db:"topic"`
	Payload     []byte       `db:"payload"`
	Status      OutboxStatus `db:"status"`
	Attempts    int          `db:"attempts"`
	CreatedAt   time.Time    `db:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at"`
}
