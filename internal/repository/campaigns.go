package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/model"
)

const campaignColumns = `
	id, product_id, tracking, xafra_tracking_id, uuid, short_tracking,
	country, operator, status, postback_status, postback_sent_at,
	confirm_meta, creation_date, modification_date
`

// CampaignsRepository defines persistence for the campaigns table. The
// campaign row doubles as the click log; counters for the distribution engine
// are computed from it with batched GROUP BY queries.
type CampaignsRepository interface {
	Insert(ctx context.Context, c *model.Campaign) error
	GetByID(ctx context.Context, id int64) (*model.Campaign, error)
	// FindByTrackingForCustomer matches tracking OR short_tracking, joined
	// through product ownership so a caller can only reach its own campaigns.
	FindByTrackingForCustomer(ctx context.Context, code string, customerID int64) (*model.Campaign, error)
	// ConfirmTx performs the one-shot pending→confirmed transition inside tx.
	// Returns true when this call won the transition.
	ConfirmTx(ctx context.Context, tx *sqlx.Tx, id int64, meta []byte) (bool, error)
	SetPostbackStatus(ctx context.Context, id int64, st model.PostbackStatus, sentAt time.Time) error
	// ClickCounts and ConfirmedCounts return per-product counters over the
	// trailing window in a single query each.
	ClickCounts(ctx context.Context, productIDs []int64, since time.Time) (map[int64]int64, error)
	ConfirmedCounts(ctx context.Context, productIDs []int64, since time.Time) (map[int64]int64, error)
}

type CampaignsRepositoryImpl struct {
	db *sqlx.DB
}

func NewCampaignsRepository(db *sqlx.DB) *CampaignsRepositoryImpl {
	return &CampaignsRepositoryImpl{db: db}
}

var _ CampaignsRepository = (*CampaignsRepositoryImpl)(nil)

func (r *CampaignsRepositoryImpl) Insert(ctx context.Context, c *model.Campaign) error {
	const q = `
		INSERT INTO campaigns
		    (product_id, tracking, xafra_tracking_id, uuid, short_tracking,
		     country, operator, status, postback_status, creation_date, modification_date)
		VALUES
		    (?, ?, ?, ?, ?, ?, ?, ?, ?, NOW(), NOW())
	`
	res, err := r.db.ExecContext(ctx, q,
		c.ProductID, c.Tracking, c.XafraTrackingID, c.UUID, c.ShortTracking,
		c.Country, c.Operator, c.Status, c.PostbackStatus,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	c.ID = id
	return nil
}

func (r *CampaignsRepositoryImpl) GetByID(ctx context.Context, id int64) (*model.Campaign, error) {
	var c model.Campaign
	err := r.db.GetContext(ctx, &c, `
		SELECT `+campaignColumns+`
		  FROM campaigns
		 WHERE id = ? LIMIT 1
	`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CampaignsRepositoryImpl) FindByTrackingForCustomer(ctx context.Context, code string, customerID int64) (*model.Campaign, error) {
	var c model.Campaign
	err := r.db.GetContext(ctx, &c, `
		SELECT c.id, c.product_id, c.tracking, c.xafra_tracking_id, c.uuid,
		       c.short_tracking, c.country, c.operator, c.status,
		       c.postback_status, c.postback_sent_at, c.confirm_meta,
		       c.creation_date, c.modification_date
		  FROM campaigns c
		  JOIN products p ON p.id = c.product_id
		 WHERE (c.tracking = ? OR c.short_tracking = ?)
		   AND p.customer_id = ?
		   AND c.status <> ?
		 ORDER BY c.creation_date DESC
		 LIMIT 1
	`, code, code, customerID, model.CampaignDeleted)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ConfirmTx is the single conditional write that makes confirmation
// idempotent under concurrent callers: only the statement that still sees
// status=pending flips the row.
func (r *CampaignsRepositoryImpl) ConfirmTx(ctx context.Context, tx *sqlx.Tx, id int64, meta []byte) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE campaigns
		   SET status = ?, confirm_meta = ?, modification_date = NOW()
		 WHERE id = ? AND status = ?
	`, model.CampaignConfirmed, meta, id, model.CampaignPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *CampaignsRepositoryImpl) SetPostbackStatus(ctx context.Context, id int64, st model.PostbackStatus, sentAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		   SET postback_status = ?, postback_sent_at = ?, modification_date = NOW()
		 WHERE id = ?
	`, st, sentAt, id)
	return err
}

func (r *CampaignsRepositoryImpl) ClickCounts(ctx context.Context, productIDs []int64, since time.Time) (map[int64]int64, error) {
	const base = `
		SELECT product_id, COUNT(*) AS cnt
		  FROM campaigns
		 WHERE product_id IN (?) AND creation_date >= ? AND status <> ?
		 GROUP BY product_id
	`
	return r.countByProduct(ctx, base, productIDs, since, model.CampaignDeleted)
}

func (r *CampaignsRepositoryImpl) ConfirmedCounts(ctx context.Context, productIDs []int64, since time.Time) (map[int64]int64, error) {
	const base = `
		SELECT product_id, COUNT(*) AS cnt
		  FROM campaigns
		 WHERE product_id IN (?) AND creation_date >= ? AND status = ?
		 GROUP BY product_id
	`
	return r.countByProduct(ctx, base, productIDs, since, model.CampaignConfirmed)
}

func (r *CampaignsRepositoryImpl) countByProduct(ctx context.Context, base string, productIDs []int64, since time.Time, status model.CampaignStatus) (map[int64]int64, error) {
	if len(productIDs) == 0 {
		return map[int64]int64{}, nil
	}
	query, args, err := sqlx.In(base, productIDs, since, status)
	if err != nil {
		return nil, err
	}
	query = r.db.Rebind(query)

	rows := []struct {
		ProductID int64 `db:"product_id"`
		Cnt       int64 `db:"cnt"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	out := make(map[int64]int64, len(rows))
	for _, row := range rows {
		out[row.ProductID] = row.Cnt
	}
	return out, nil
}
