package confirm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/xamircastel/xafra-ads-v5-sub000/internal/metrics"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/model"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/repository"
)

var (
	ErrCustomerNotFound = errors.New("customer not found")
	ErrCampaignNotFound = errors.New("campaign not found")
)

// Meta describes the channel a confirmation arrived through.
type Meta struct {
	Method    string // api|webhook
	ClientIP  string
	UserAgent string
}

// Result reports whether this call performed the transition or found it done.
type Result struct {
	Campaign         *model.Campaign
	AlreadyConfirmed bool
}

// Service performs the one-shot pending→confirmed transition. The status
// flip and the postback outbox row commit in the same transaction, so a
// confirmed campaign can never lose its postback and a duplicate can never
// produce one.
type Service struct {
	db        *sqlx.DB
	customers repository.CustomersRepository
	campaigns repository.CampaignsRepository
	outbox    repository.OutboxRepository
	topic     string
	log       *zap.Logger
	now       func() time.Time
}

func NewService(
	db *sqlx.DB,
	customers repository.CustomersRepository,
	campaigns repository.CampaignsRepository,
	outbox repository.OutboxRepository,
	topic string,
	log *zap.Logger,
) *Service {
	return &Service{
		db:        db,
		customers: customers,
		campaigns: campaigns,
		outbox:    outbox,
		topic:     topic,
		log:       log,
		now:       time.Now,
	}
}

// WithClock overrides the time source. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Confirm resolves the caller's campaign by tracking or short code and
// transitions it to confirmed. Replays and races both come back as
// AlreadyConfirmed with no side effects.
func (s *Service) Confirm(ctx context.Context, apiKey, code string, meta Meta) (*Result, error) {
	customer, err := s.customers.GetByAPIKey(ctx, apiKey)
	if err != nil {
		return nil, fmt.Errorf("load customer: %w", err)
	}
	if customer == nil || customer.Status != model.CustomerActive {
		return nil, ErrCustomerNotFound
	}

	campaign, err := s.campaigns.FindByTrackingForCustomer(ctx, code, customer.ID)
	if err != nil {
		return nil, fmt.Errorf("find campaign: %w", err)
	}
	if campaign == nil {
		return nil, ErrCampaignNotFound
	}

	if campaign.Status == model.CampaignConfirmed {
		metrics.ConfirmationsTotal.WithLabelValues("already_confirmed").Inc()
		return &Result{Campaign: campaign, AlreadyConfirmed: true}, nil
	}

	confirmMeta := model.ConfirmMeta{
		Method:        meta.Method,
		ShortCodeUsed: campaign.ShortTracking != nil && *campaign.ShortTracking == code,
		CallerIP:      meta.ClientIP,
		CallerAgent:   meta.UserAgent,
		ConfirmedAt:   s.now().UTC(),
	}

	won, err := s.confirmTx(ctx, customer, campaign, confirmMeta)
	if err != nil {
		return nil, err
	}
	if !won {
		// lost the race to a concurrent confirmation of the same campaign
		metrics.ConfirmationsTotal.WithLabelValues("already_confirmed").Inc()
		return &Result{Campaign: campaign, AlreadyConfirmed: true}, nil
	}

	campaign.Status = model.CampaignConfirmed
	campaign.ConfirmMeta = confirmMeta.MarshalJSONBytes()
	metrics.ConfirmationsTotal.WithLabelValues("confirmed").Inc()
	s.log.Info("campaign confirmed",
		zap.Int64("campaign_id", campaign.ID),
		zap.String("tracking", campaign.Tracking),
		zap.String("method", meta.Method),
		zap.Bool("short_code_used", confirmMeta.ShortCodeUsed),
	)
	return &Result{Campaign: campaign}, nil
}

func (s *Service) confirmTx(ctx context.Context, customer *model.Customer, campaign *model.Campaign, meta model.ConfirmMeta) (won bool, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin confirm tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	won, err = s.campaigns.ConfirmTx(ctx, tx, campaign.ID, meta.MarshalJSONBytes())
	if err != nil {
		return false, fmt.Errorf("confirm campaign %d: %w", campaign.ID, err)
	}
	if !won {
		return false, tx.Commit()
	}

	payload, err := json.Marshal(model.PostbackRequest{
		CampaignID: campaign.ID,
		ProductID:  campaign.ProductID,
		CustomerID: customer.ID,
		Tracking:   campaign.Tracking,
		Priority:   model.PriorityNormal,
	})
	if err != nil {
		return false, fmt.Errorf("marshal postback request: %w", err)
	}
	if err = s.outbox.Insert(ctx, tx, "campaign", strconv.FormatInt(campaign.ID, 10), s.topic, payload); err != nil {
		return false, fmt.Errorf("enqueue postback outbox: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("commit confirm tx: %w", err)
	}
	return true, nil
}
