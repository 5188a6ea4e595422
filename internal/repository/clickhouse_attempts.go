package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/model"
)

// CHAttemptsRepository appends postback attempts to ClickHouse and lists them
// for the operator surface. The attempt log is write-once; retries append new
// rows with increasing attempt numbers.
type CHAttemptsRepository interface {
	Insert(ctx context.Context, a model.PostbackAttempt) error
	List(ctx context.Context, campaignID int64, tracking string, limit, offset int) ([]model.PostbackAttempt, error)
}

type chAttemptsRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHAttemptsRepository(ch *sqlx.DB) CHAttemptsRepository {
	return &chAttemptsRepository{ch: ch}
}

func (r *chAttemptsRepository) Insert(ctx context.Context, a model.PostbackAttempt) error {
	const q = `
		INSERT INTO xafra.postback_attempts
		    (id, campaign_id, tracking, url, method, attempt_number, result,
		     http_status, response_time_ms, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.ch.ExecContext(ctx, q,
		a.ID, a.CampaignID, a.Tracking, a.URL, a.Method, a.AttemptNumber,
		a.Result, a.HTTPStatus, a.ResponseTimeMs, a.Error, a.CreatedAt,
	)
	return err
}

func (r *chAttemptsRepository) List(ctx context.Context, campaignID int64, tracking string, limit, offset int) ([]model.PostbackAttempt, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT id, campaign_id, tracking, url, method, attempt_number, result,
		       http_status, response_time_ms, error, created_at
		FROM xafra.postback_attempts
		WHERE 1 = 1
	`
	args := []any{}

	if campaignID > 0 {
		q += " AND campaign_id = ?"
		args = append(args, campaignID)
	}
	if tracking != "" {
		q += " AND tracking = ?"
		args = append(args, tracking)
	}

	q += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []model.PostbackAttempt
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
