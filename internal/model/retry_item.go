package model

import "time"

type RetryStatus string

const (
	RetryPending    RetryStatus = "pending"
	RetryProcessing RetryStatus = "processing"
	RetryCompleted  RetryStatus = "completed"
	RetryFailed     RetryStatus = "failed"
	RetryCancelled  RetryStatus = "cancelled"
)

func (s RetryStatus) Valid() bool {
	switch s {
	case RetryPending, RetryProcessing, RetryCompleted, RetryFailed, RetryCancelled:
		return true
	}
	return false
}

// RetryItem is a queued, not-yet-successful postback attempt. The row is the
// source of truth for the scheduler; it survives process restarts.
type RetryItem struct {
	ID             string      `db:"id"` // ULID
	CampaignID     *int64      `db:"campaign_id"`
	Tracking       string      `db:"tracking"`
	URL            string      `db:"url"`
	Method         string      `db:"method"` // GET|POST
	Payload        []byte      `db:"payload"`
	Attempts       int         `db:"attempts"`
	MaxAttempts    int         `db:"max_attempts"`
	InitialDelayMs int64       `db:"initial_delay_ms"`
	Multiplier     float64     `db:"multiplier"`
	MaxDelayMs     int64       `db:"max_delay_ms"`
	NextAttemptAt  time.Time   `db:"next_attempt_at"`
	LastError      *string     `db:"last_error"`
	Status         RetryStatus `db:"status"`
	CancelReason   *string     `db:"cancel_reason"`
	CreatedAt      time.Time   `db:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at"`
}
