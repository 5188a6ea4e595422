package model

// PostbackRequest is the payload published to Kafka through the outbox when a
// campaign is confirmed, and accepted directly on POST /postbacks/send.
type PostbackRequest struct {
	CampaignID int64             `json:"campaign_id"`
	ProductID  int64             `json:"product_id"`
	CustomerID int64             `json:"customer_id"`
	Tracking   string            `json:"tracking_id"`
	Priority   string            `json:"priority,omitempty"`            // normal|low
	WebhookURL string            `json:"webhook_url,omitempty"`         // overrides the product template on direct sends
	Params     map[string]string `json:"postback_parameters,omitempty"` // template fill-in fields
}

// PriorityLow postbacks are delivered best-effort: a failed send is recorded
// but never enqueued for retry.
const (
	PriorityNormal = "normal"
	PriorityLow    = "low"
)
