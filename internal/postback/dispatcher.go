package postback

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xamircastel/xafra-ads-v5-sub000/internal/metrics"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/model"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/repository"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/util"
)

// RetryPolicy is the backoff contract stamped onto every retry item at
// enqueue time, so the scheduler never depends on current configuration for
// items already in flight.
type RetryPolicy struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	MaxAttempts  int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialDelay: 30 * time.Second,
		Multiplier:   2.0,
		MaxDelay:     30 * time.Minute,
		MaxAttempts:  8,
	}
}

// Result is what callers of Dispatch get back: the outcome of the first
// attempt plus whether a retry was queued.
type Result struct {
	Outcome
	RetryScheduled bool
	NextRetry      *time.Time
}

// Dispatcher renders and sends postbacks, records every attempt, settles the
// campaign's postback status, and enqueues failed sends for retry.
type Dispatcher struct {
	products  repository.ProductsRepository
	campaigns repository.CampaignsRepository
	attempts  repository.CHAttemptsRepository
	retries   repository.RetryQueueRepository
	sender    *Sender
	policy    RetryPolicy
	log       *zap.Logger
}

func NewDispatcher(
	products repository.ProductsRepository,
	campaigns repository.CampaignsRepository,
	attempts repository.CHAttemptsRepository,
	retries repository.RetryQueueRepository,
	sender *Sender,
	policy RetryPolicy,
	log *zap.Logger,
) *Dispatcher {
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy()
	}
	return &Dispatcher{
		products:  products,
		campaigns: campaigns,
		attempts:  attempts,
		retries:   retries,
		sender:    sender,
		policy:    policy,
		log:       log,
	}
}

// Dispatch performs the first delivery attempt for a confirmed campaign.
// Failures never propagate to the confirmation caller; they are recorded and,
// unless the request is low priority, queued for retry.
func (d *Dispatcher) Dispatch(ctx context.Context, req model.PostbackRequest) (*Result, error) {
	var product *model.Product
	if req.ProductID > 0 {
		p, err := d.products.GetByID(ctx, req.ProductID)
		if err != nil {
			return nil, fmt.Errorf("load product %d: %w", req.ProductID, err)
		}
		product = p
	}

	rendered, err := Render(product, req)
	if err != nil {
		return nil, err
	}

	out := d.sender.Send(ctx, rendered)
	d.record(ctx, req.CampaignID, req.Tracking, rendered, 1, out)
	d.settleCampaign(ctx, req.CampaignID, out)
	metrics.PostbacksTotal.WithLabelValues(out.Result).Inc()

	res := &Result{Outcome: out}
	if out.Delivered() || req.Priority == model.PriorityLow {
		return res, nil
	}

	next := time.Now().Add(d.policy.InitialDelay)
	item := &model.RetryItem{
		ID:             util.New(),
		CampaignID:     optionalID(req.CampaignID),
		Tracking:       req.Tracking,
		URL:            rendered.URL,
		Method:         rendered.Method,
		Payload:        rendered.Body,
		Attempts:       1,
		MaxAttempts:    d.policy.MaxAttempts,
		InitialDelayMs: d.policy.InitialDelay.Milliseconds(),
		Multiplier:     d.policy.Multiplier,
		MaxDelayMs:     d.policy.MaxDelay.Milliseconds(),
		NextAttemptAt:  next,
		LastError:      optionalStr(out.ErrorMessage),
		Status:         model.RetryPending,
	}
	if err := d.retries.Insert(ctx, item); err != nil {
		// the attempt is already logged; losing the retry is bad but must not
		// surface to the confirmation caller
		d.log.Error("enqueue retry failed",
			zap.String("tracking", req.Tracking),
			zap.Error(err),
		)
		return res, nil
	}

	res.RetryScheduled = true
	res.NextRetry = &next
	return res, nil
}

// Resend performs one scheduled re-attempt of a leased retry item using the
// payload rendered at enqueue time.
func (d *Dispatcher) Resend(ctx context.Context, item *model.RetryItem) Outcome {
	rendered := &Rendered{URL: item.URL, Method: item.Method, Body: item.Payload}
	attemptNo := item.Attempts + 1

	out := d.sender.Send(ctx, rendered)
	var campaignID int64
	if item.CampaignID != nil {
		campaignID = *item.CampaignID
	}
	d.record(ctx, campaignID, item.Tracking, rendered, attemptNo, out)
	d.settleCampaign(ctx, campaignID, out)
	metrics.PostbacksTotal.WithLabelValues(out.Result).Inc()
	return out
}

// record appends the attempt to the ClickHouse log. Best effort: a logging
// failure never changes the delivery outcome.
func (d *Dispatcher) record(ctx context.Context, campaignID int64, tracking string, r *Rendered, attemptNo int, out Outcome) {
	err := d.attempts.Insert(ctx, model.PostbackAttempt{
		ID:             util.New(),
		CampaignID:     campaignID,
		Tracking:       tracking,
		URL:            r.URL,
		Method:         r.Method,
		AttemptNumber:  attemptNo,
		Result:         out.Result,
		HTTPStatus:     int32(out.HTTPStatus),
		ResponseTimeMs: out.ResponseTimeMs,
		Error:          out.ErrorMessage,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		d.log.Error("record postback attempt failed",
			zap.String("tracking", tracking),
			zap.Int("attempt", attemptNo),
			zap.Error(err),
		)
	}
}

func (d *Dispatcher) settleCampaign(ctx context.Context, campaignID int64, out Outcome) {
	if campaignID <= 0 {
		return
	}
	st := model.PostbackFailed
	if out.Delivered() {
		st = model.PostbackDelivered
	}
	if err := d.campaigns.SetPostbackStatus(ctx, campaignID, st, time.Now().UTC()); err != nil {
		d.log.Error("update campaign postback status failed",
			zap.Int64("campaign_id", campaignID),
			zap.Error(err),
		)
	}
}

func optionalID(id int64) *int64 {
	if id <= 0 {
		return nil
	}
	return &id
}

func optionalStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
