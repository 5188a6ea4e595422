package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xamircastel/xafra-ads-v5-sub000/internal/model"
)

func newRetryRepo(t *testing.T) (*RetryQueueRepositoryImpl, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	return NewRetryQueueRepository(sqlx.NewDb(mockDB, "mysql")), mock
}

func retryRows(ids ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "campaign_id", "tracking", "url", "method", "payload",
		"attempts", "max_attempts", "initial_delay_ms", "multiplier",
		"max_delay_ms", "next_attempt_at", "last_error", "status",
		"cancel_reason", "created_at", "updated_at",
	})
	now := time.Now()
	for _, id := range ids {
		rows.AddRow(id, 77, "pub-49281", "https://pb.example/cb", "GET", nil,
			1, 8, 30000, 2.0, 1800000, now.Add(-time.Minute), nil,
			string(model.RetryPending), nil, now, now)
	}
	return rows
}

func TestLeaseDue_ReclaimsStuckProcessing(t *testing.T) {
	repo, mock := newRetryRepo(t)
	now := time.Now()

	// the lease query must also sweep up processing rows whose lease went
	// stale, so a scheduler crash cannot strand an item
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM retry_queue\s+WHERE \(status = \? OR \(status = \? AND updated_at < \?\)\)`).
		WithArgs(model.RetryPending, model.RetryProcessing, sqlmock.AnyArg(), now, 50).
		WillReturnRows(retryRows("01FRESH", "01STALE"))
	mock.ExpectExec("UPDATE retry_queue SET status").
		WithArgs(model.RetryProcessing, "01FRESH", "01STALE").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	items, err := repo.LeaseDue(context.Background(), now, 50)
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, it := range items {
		assert.Equal(t, model.RetryProcessing, it.Status)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeaseDue_EmptyBatchCommits(t *testing.T) {
	repo, mock := newRetryRepo(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM retry_queue").
		WithArgs(model.RetryPending, model.RetryProcessing, sqlmock.AnyArg(), now, 10).
		WillReturnRows(retryRows())
	mock.ExpectCommit()

	items, err := repo.LeaseDue(context.Background(), now, 10)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.NoError(t, mock.ExpectationsWereMet())
}
