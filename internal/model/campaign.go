package model

import (
	"encoding/json"
	"time"
)

// Campaign status values. A campaign is created pending and is confirmed at
// most once; deleted is an administrative tombstone.
type CampaignStatus int16

const (
	CampaignDeleted   CampaignStatus = 0
	CampaignConfirmed CampaignStatus = 1
	CampaignPending   CampaignStatus = 2
)

// Postback delivery status, tracked independently of the campaign status.
type PostbackStatus int16

const (
	PostbackNotSent   PostbackStatus = 0
	PostbackDelivered PostbackStatus = 1
	PostbackFailed    PostbackStatus = 2
)

// Campaign is the record of one redirect/click and its lifecycle through
// confirmation and postback delivery.
type Campaign struct {
	ID               int64          `db:"id"`
	ProductID        int64          `db:"product_id"`
	Tracking         string         `db:"tracking"`
	XafraTrackingID  string         `db:"xafra_tracking_id"` // internal ULID appended to the redirect URL
	UUID             string         `db:"uuid"`
	ShortTracking    *string        `db:"short_tracking"` // narrow-alphabet alternate code, nullable
	Country          string         `db:"country"`
	Operator         string         `db:"operator"`
	Status           CampaignStatus `db:"status"`
	PostbackStatus   PostbackStatus `db:"postback_status"`
	PostbackSentAt   *time.Time     `db:"postback_sent_at"`
	ConfirmMeta      []byte         `db:"confirm_meta"` // JSON, set on confirmation
	CreationDate     time.Time      `db:"creation_date"`
	ModificationDate time.Time      `db:"modification_date"`
}

// ConfirmMeta captures how a campaign was confirmed. Stored as JSON in the
// campaign row rather than a separate table.
type ConfirmMeta struct {
	Method        string    `json:"method"` // api|webhook
	ShortCodeUsed bool      `json:"short_code_used"`
	CallerIP      string    `json:"caller_ip,omitempty"`
	CallerAgent   string    `json:"caller_agent,omitempty"`
	ConfirmedAt   time.Time `json:"confirmed_at"`
}

func (m ConfirmMeta) MarshalJSONBytes() []byte {
	b, _ := json.Marshal(m)
	return b
}
