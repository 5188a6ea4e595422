package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/model"
)

const retryColumns = `
	id, campaign_id, tracking, url, method, payload, attempts, max_attempts,
	initial_delay_ms, multiplier, max_delay_ms, next_attempt_at, last_error,
	status, cancel_reason, created_at, updated_at
`

// retryStuckAfter is how long a processing lease may sit before another
// scheduler instance reclaims it. A crash between lease and settle leaves
// the row in processing; the reclaim window keeps it from being stranded.
const retryStuckAfter = 2 * time.Minute

// RetryQueueRepository persists the postback retry queue. Items are leased
// with FOR UPDATE SKIP LOCKED so several scheduler instances can poll the
// same table without double-dispatching.
type RetryQueueRepository interface {
	Insert(ctx context.Context, item *model.RetryItem) error
	Get(ctx context.Context, id string) (*model.RetryItem, error)
	// LeaseDue claims up to limit pending items whose next_attempt_at has
	// passed, flipping them to processing in the same transaction. Stale
	// processing leases past retryStuckAfter are reclaimed the same way.
	LeaseDue(ctx context.Context, now time.Time, limit int) ([]model.RetryItem, error)
	MarkCompleted(ctx context.Context, id string) error
	// Reschedule moves a processing item back to pending with a new attempt
	// count and next attempt time.
	Reschedule(ctx context.Context, id string, attempts int, nextAt time.Time, lastErr string) error
	// MarkExhausted records the terminal failed state. The row is retained
	// for inspection.
	MarkExhausted(ctx context.Context, id string, attempts int, lastErr string) error
	Cancel(ctx context.Context, id, reason string) (bool, error)
	List(ctx context.Context, status model.RetryStatus, limit, offset int) ([]model.RetryItem, error)
}

type RetryQueueRepositoryImpl struct {
	db *sqlx.DB
}

func NewRetryQueueRepository(db *sqlx.DB) *RetryQueueRepositoryImpl {
	return &RetryQueueRepositoryImpl{db: db}
}

var _ RetryQueueRepository = (*RetryQueueRepositoryImpl)(nil)

func (r *RetryQueueRepositoryImpl) Insert(ctx context.Context, item *model.RetryItem) error {
	const q = `
		INSERT INTO retry_queue
		    (id, campaign_id, tracking, url, method, payload, attempts, max_attempts,
		     initial_delay_ms, multiplier, max_delay_ms, next_attempt_at, last_error,
		     status, created_at, updated_at)
		VALUES
		    (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW(), NOW())
	`
	_, err := r.db.ExecContext(ctx, q,
		item.ID, item.CampaignID, item.Tracking, item.URL, item.Method, item.Payload,
		item.Attempts, item.MaxAttempts, item.InitialDelayMs, item.Multiplier,
		item.MaxDelayMs, item.NextAttemptAt, item.LastError, item.Status,
	)
	return err
}

func (r *RetryQueueRepositoryImpl) Get(ctx context.Context, id string) (*model.RetryItem, error) {
	var item model.RetryItem
	err := r.db.GetContext(ctx, &item, `
		SELECT `+retryColumns+`
		  FROM retry_queue
		 WHERE id = ? LIMIT 1
	`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *RetryQueueRepositoryImpl) LeaseDue(ctx context.Context, now time.Time, limit int) ([]model.RetryItem, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var items []model.RetryItem
	err = tx.SelectContext(ctx, &items, `
		SELECT `+retryColumns+`
		  FROM retry_queue
		 WHERE (status = ? OR (status = ? AND updated_at < ?))
		   AND next_attempt_at <= ?
		 ORDER BY next_attempt_at
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED
	`, model.RetryPending, model.RetryProcessing, now.Add(-retryStuckAfter), now, limit)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, tx.Commit()
	}

	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	query, args, err := sqlx.In(
		`UPDATE retry_queue SET status = ?, updated_at = NOW() WHERE id IN (?)`,
		model.RetryProcessing, ids,
	)
	if err != nil {
		return nil, err
	}
	query = r.db.Rebind(query)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	for i := range items {
		items[i].Status = model.RetryProcessing
	}
	return items, nil
}

func (r *RetryQueueRepositoryImpl) MarkCompleted(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE retry_queue SET status = ?, updated_at = NOW() WHERE id = ?
	`, model.RetryCompleted, id)
	return err
}

func (r *RetryQueueRepositoryImpl) Reschedule(ctx context.Context, id string, attempts int, nextAt time.Time, lastErr string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE retry_queue
		   SET status = ?, attempts = ?, next_attempt_at = ?, last_error = ?, updated_at = NOW()
		 WHERE id = ?
	`, model.RetryPending, attempts, nextAt, lastErr, id)
	return err
}

func (r *RetryQueueRepositoryImpl) MarkExhausted(ctx context.Context, id string, attempts int, lastErr string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE retry_queue
		   SET status = ?, attempts = ?, last_error = ?, updated_at = NOW()
		 WHERE id = ?
	`, model.RetryFailed, attempts, lastErr, id)
	return err
}

func (r *RetryQueueRepositoryImpl) Cancel(ctx context.Context, id, reason string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE retry_queue
		   SET status = ?, cancel_reason = ?, updated_at = NOW()
		 WHERE id = ? AND status IN (?, ?)
	`, model.RetryCancelled, reason, id, model.RetryPending, model.RetryProcessing)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *RetryQueueRepositoryImpl) List(ctx context.Context, status model.RetryStatus, limit, offset int) ([]model.RetryItem, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `SELECT ` + retryColumns + ` FROM retry_queue`
	args := []any{}
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY updated_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	var items []model.RetryItem
	if err := r.db.SelectContext(ctx, &items, q, args...); err != nil {
		return nil, err
	}
	return items, nil
}
