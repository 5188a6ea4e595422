package redirect

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xamircastel/xafra-ads-v5-sub000/internal/distribution"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/metrics"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/model"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/repository"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/token"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/util"
)

var (
	// ErrOfferUnavailable covers every non-retryable miss on the hot path:
	// unknown token, expired token, missing or inactive offer. The handler
	// maps all of them to 404 so probing traffic learns nothing.
	ErrOfferUnavailable = errors.New("offer unavailable")
)

// xafraIDParam is appended to the destination URL so the advertiser's page
// can echo our internal id back through its own funnel.
const xafraIDParam = "xafra_id"

// Options shape one redirect request.
type Options struct {
	Tracker      string // traffic-source tracking code; generated when empty
	AutoTracking bool   // also mint a short alternate code for narrow channels
	Random       bool   // pick the offer through the distribution engine
	ClientIP     string
	UserAgent    string
}

// Result is the committed click and the destination to send the visitor to.
type Result struct {
	URL      string
	Campaign *model.Campaign
	Method   string // selection method, empty outside the random route
}

// Service resolves an opaque token into a 302 destination, persisting the
// click as a pending campaign first. The campaign insert is on the critical
// path on purpose: a redirect we cannot attribute is worthless traffic.
type Service struct {
	tokens    *token.Codec
	products  repository.ProductsRepository
	campaigns repository.CampaignsRepository
	engine    *distribution.Engine
	log       *zap.Logger
	now       func() time.Time
}

func NewService(
	tokens *token.Codec,
	products repository.ProductsRepository,
	campaigns repository.CampaignsRepository,
	engine *distribution.Engine,
	log *zap.Logger,
) *Service {
	return &Service{
		tokens:    tokens,
		products:  products,
		campaigns: campaigns,
		engine:    engine,
		log:       log,
		now:       time.Now,
	}
}

// WithClock overrides the time source. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Handle decodes the token, picks the offer, records the campaign and renders
// the destination URL. Every miss comes back as ErrOfferUnavailable.
func (s *Service) Handle(ctx context.Context, tok string, opts Options) (*Result, error) {
	dec, err := s.tokens.Decode(ctx, tok)
	if err != nil {
		if errors.Is(err, token.ErrNotFound) || errors.Is(err, token.ErrExpired) {
			s.log.Debug("token rejected", zap.Error(err))
			return nil, ErrOfferUnavailable
		}
		return nil, fmt.Errorf("decode token: %w", err)
	}

	product, method, err := s.pickOffer(ctx, dec, opts)
	if err != nil {
		return nil, err
	}

	tracking := opts.Tracker
	if tracking == "" {
		tracking = util.Tracking(product.Country, product.Operator)
	}

	var short *string
	if opts.AutoTracking {
		sc := util.ShortTracking(8)
		short = &sc
	}

	now := s.now().UTC()
	campaign := &model.Campaign{
		ProductID:        product.ID,
		Tracking:         tracking,
		XafraTrackingID:  util.New(),
		UUID:             uuid.NewString(),
		ShortTracking:    short,
		Country:          product.Country,
		Operator:         product.Operator,
		Status:           model.CampaignPending,
		PostbackStatus:   model.PostbackNotSent,
		CreationDate:     now,
		ModificationDate: now,
	}
	// The insert must land before we hand out the URL; losing the row would
	// orphan the advertiser's later confirmation.
	if err := s.campaigns.Insert(ctx, campaign); err != nil {
		return nil, fmt.Errorf("insert campaign: %w", err)
	}

	dest, err := renderDestination(product.URLRedirect, tracking, campaign.XafraTrackingID)
	if err != nil {
		return nil, fmt.Errorf("render destination for product %d: %w", product.ID, err)
	}

	if method != "" {
		metrics.SelectionTotal.WithLabelValues(method).Inc()
	}
	s.log.Info("redirect dispatched",
		zap.Int64("product_id", product.ID),
		zap.Int64("campaign_id", campaign.ID),
		zap.String("tracking", tracking),
		zap.String("selection_method", method),
	)
	return &Result{URL: dest, Campaign: campaign, Method: method}, nil
}

// pickOffer returns the destination product: either the token's own offer or,
// on the random route, the distribution engine's choice over the customer's
// eligible pool. The origin offer gates both routes: a dead token must not
// keep routing traffic just because the pool is still alive.
func (s *Service) pickOffer(ctx context.Context, dec *token.Decoded, opts Options) (*model.Product, string, error) {
	product, err := s.products.GetByID(ctx, dec.ProductID)
	if err != nil {
		return nil, "", fmt.Errorf("load product %d: %w", dec.ProductID, err)
	}
	if product == nil || !product.Active || product.CustomerID != dec.CustomerID {
		return nil, "", ErrOfferUnavailable
	}
	if !opts.Random {
		return product, "", nil
	}

	pool, err := s.products.ListRandomPool(ctx, dec.CustomerID)
	if err != nil {
		return nil, "", fmt.Errorf("list random pool: %w", err)
	}
	sel, err := s.engine.Select(ctx, pool)
	if err != nil {
		if errors.Is(err, distribution.ErrNoEligibleOffers) {
			return nil, "", ErrOfferUnavailable
		}
		return nil, "", fmt.Errorf("select offer: %w", err)
	}
	return &sel.Product, sel.Method, nil
}

// renderDestination substitutes the tracking placeholder and appends our
// internal id, without clobbering a xafra_id the template already carries.
func renderDestination(template, tracking, xafraID string) (string, error) {
	raw := strings.ReplaceAll(template, model.TrackingPlaceholder, tracking)

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse redirect url: %w", err)
	}
	q := u.Query()
	if q.Get(xafraIDParam) == "" {
		q.Set(xafraIDParam, xafraID)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
