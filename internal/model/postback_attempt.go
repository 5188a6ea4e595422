package model

import "time"

// PostbackAttempt is one delivery attempt of an outbound postback, appended
// to the ClickHouse log for operator inspection. Never updated in place.
type PostbackAttempt struct {
	ID             string    `db:"id"` // ULID
	CampaignID     int64     `db:"campaign_id"`
	Tracking       string    `db:"tracking"`
	URL            string    `db:"url"`
	Method         string    `db:"method"`
	AttemptNumber  int       `db:"attempt_number"`
	Result         string    `db:"result"` // delivered|timeout|connection_refused|dns_failure|http_error|error
	HTTPStatus     int32     `db:"http_status"` // 0 when the request never completed
	ResponseTimeMs int64     `db:"response_time_ms"`
	Error          string    `db:"error"`
	CreatedAt      time.Time `db:"created_at"`
}
