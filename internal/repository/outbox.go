package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/model"
)

// outboxStuckAfter is how long a processing row may sit before the relay
// considers its previous owner dead and reclaims it.
const outboxStuckAfter = 2 * time.Minute

// OutboxRepository defines persistence methods for the outbox table. Rows are
// written in the same transaction as the state change that caused them and
// published to Kafka by the outbox relay worker.
type OutboxRepository interface {
	// Insert writes a single outbox event. If tx is nil, it will open/commit
	// an internal transaction; otherwise it uses the given tx.
	Insert(ctx context.Context, tx *sqlx.Tx, aggregate, aggregateID, topic string, payload []byte) error
	// FetchPending leases up to batchSize publishable rows, flipping them to
	// processing. Rows stuck in processing past the lease window are reclaimed.
	FetchPending(ctx context.Context, batchSize int) ([]model.OutboxEvent, error)
	MarkSent(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64) error
}

// OutboxRepositoryImpl is a sqlx-backed implementation.
type OutboxRepositoryImpl struct {
	db *sqlx.DB
}

// NewOutboxRepository constructs an OutboxRepositoryImpl.
func NewOutboxRepository(db *sqlx.DB) *OutboxRepositoryImpl {
	return &OutboxRepositoryImpl{db: db}
}

var _ OutboxRepository = (*OutboxRepositoryImpl)(nil)

// withTx runs fn in the provided tx, or starts a new transaction when tx is nil.
func (r *OutboxRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}

	t, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() { _ = t.Rollback() }()
	if err := fn(t); err != nil {
		return err
	}

	return t.Commit()
}

func (r *OutboxRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, aggregate, aggregateID, topic string, payload []byte) error {
	const q = `
		INSERT INTO outbox (aggregate, aggregate_id, topic, payload, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, NOW(), NOW())
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, aggregate, aggregateID, topic, payload, model.OutboxPending)

		return err
	})
}

func (r *OutboxRepositoryImpl) FetchPending(ctx context.Context, batchSize int) ([]model.OutboxEvent, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var events []model.OutboxEvent
	err = tx.SelectContext(ctx, &events, `
		SELECT id, aggregate, aggregate_id, topic, payload, status, attempts, created_at, updated_at
		  FROM outbox
		 WHERE status = ? OR (status = ? AND updated_at < ?)
		 ORDER BY id
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED
	`, model.OutboxPending, model.OutboxProcessing, time.Now().Add(-outboxStuckAfter), batchSize)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, tx.Commit()
	}

	for _, ev := range events {
		if _, err := tx.ExecContext(ctx, `
			UPDATE outbox SET status = ?, attempts = attempts + 1, updated_at = NOW() WHERE id = ?
		`, model.OutboxProcessing, ev.ID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return events, nil
}

func (r *OutboxRepositoryImpl) MarkSent(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE outbox SET status = ?, updated_at = NOW() WHERE id = ?
	`, model.OutboxSent, id)
	return err
}

func (r *OutboxRepositoryImpl) MarkFailed(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE outbox SET status = ?, updated_at = NOW() WHERE id = ?
	`, model.OutboxFailed, id)
	return err
}
