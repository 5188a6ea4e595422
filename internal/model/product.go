package model

import "time"

// TrackingPlaceholder is substituted into redirect and postback templates.
const TrackingPlaceholder = "<TRACKING>"

type PostbackMethod string

const (
	PostbackGET  PostbackMethod = "GET"
	PostbackPOST PostbackMethod = "POST"
)

func (m PostbackMethod) Valid() bool {
	return m == PostbackGET || m == PostbackPOST
}

// ParsePostbackMethod normalizes input; empty => GET.
// Returns (value, true) if valid; otherwise (GET, false).
func ParsePostbackMethod(s string) (PostbackMethod, bool) {
	switch s {
	case "", "GET", "get":
		return PostbackGET, true
	case "POST", "post":
		return PostbackPOST, true
	default:
		return PostbackGET, false
	}
}

// Product is an advertiser offer a visitor can be redirected to.
type Product struct {
	ID             int64          `db:"id"`
	CustomerID     int64          `db:"customer_id"`
	Name           string         `db:"name"`
	Reference      string         `db:"reference"`       // external reference the customer uses
	URLRedirect    string         `db:"url_redirect"`    // destination template, may contain <TRACKING>
	Active         bool           `db:"active"`
	Random         bool           `db:"random"`          // eligible for the random-distribution pool
	Country        string         `db:"country"`
	Operator       string         `db:"operator"`
	URLPostback    *string        `db:"url_postback"`    // nullable webhook URL template
	BodyPostback   *string        `db:"body_postback"`   // nullable JSON body template (POST only)
	MethodPostback PostbackMethod `db:"method_postback"` // GET|POST
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

// HasPostback reports whether the product has an outbound webhook configured.
func (p *Product) HasPostback() bool {
	return p.URLPostback != nil && *p.URLPostback != ""
}
