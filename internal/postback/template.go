package postback

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/xamircastel/xafra-ads-v5-sub000/internal/model"
)

// Rendered is a postback ready to send: final URL, method, and body (POST
// only). Retry items persist exactly this, so re-attempts skip the render.
type Rendered struct {
	URL    string
	Method string
	Body   []byte
}

// envelopeFields are the fixed fields every postback carries. Template fields
// fill in around them but never override them.
func envelopeFields(req model.PostbackRequest) map[string]string {
	f := map[string]string{
		"tracking": req.Tracking,
		"status":   "confirmed",
	}
	if req.CampaignID > 0 {
		f["campaign_id"] = strconv.FormatInt(req.CampaignID, 10)
	}
	if req.ProductID > 0 {
		f["product_id"] = strconv.FormatInt(req.ProductID, 10)
	}
	return f
}

// Render resolves the product's postback templates against the request.
// req.WebhookURL, when set, overrides the product template (direct sends).
// GET serializes every field as a query parameter; POST merges template JSON
// under the envelope, envelope winning on conflicts.
func Render(p *model.Product, req model.PostbackRequest) (*Rendered, error) {
	rawURL := req.WebhookURL
	if rawURL == "" && p != nil && p.HasPostback() {
		rawURL = *p.URLPostback
	}
	if rawURL == "" {
		return nil, fmt.Errorf("no postback url configured for tracking %s", req.Tracking)
	}
	rawURL = strings.ReplaceAll(rawURL, model.TrackingPlaceholder, url.QueryEscape(req.Tracking))

	method := string(model.PostbackGET)
	if p != nil && p.MethodPostback == model.PostbackPOST {
		method = string(model.PostbackPOST)
	}

	fields := envelopeFields(req)

	if method == string(model.PostbackGET) {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, fmt.Errorf("parse postback url: %w", err)
		}
		q := u.Query()
		for k, v := range req.Params {
			if q.Has(k) {
				continue // template-provided params never clobber explicit URL params
			}
			q.Set(k, v)
		}
		for k, v := range fields {
			if !q.Has(k) {
				q.Set(k, v)
			}
		}
		u.RawQuery = q.Encode()
		return &Rendered{URL: u.String(), Method: method}, nil
	}

	// POST: template JSON merged under the envelope
	body := map[string]any{}
	if p != nil && p.BodyPostback != nil && *p.BodyPostback != "" {
		tpl := strings.ReplaceAll(*p.BodyPostback, model.TrackingPlaceholder, req.Tracking)
		if err := json.Unmarshal([]byte(tpl), &body); err != nil {
			return nil, fmt.Errorf("parse postback body template: %w", err)
		}
	}
	for k, v := range req.Params {
		body[k] = v
	}
	for k, v := range fields {
		body[k] = v // envelope has final say
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal postback body: %w", err)
	}
	return &Rendered{URL: rawURL, Method: method, Body: raw}, nil
}
