package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/model"
)

const productColumns = `
	id, customer_id, name, reference, url_redirect, active, random,
	country, operator, url_postback, body_postback, method_postback,
	created_at, updated_at
`

type ProductsRepository interface {
	GetByID(ctx context.Context, id int64) (*model.Product, error)
	// GetOwned returns the product only when it belongs to the customer.
	GetOwned(ctx context.Context, id, customerID int64) (*model.Product, error)
	// ListRandomPool returns the customer's active offers flagged for random
	// distribution.
	ListRandomPool(ctx context.Context, customerID int64) ([]model.Product, error)
}

type ProductsRepositoryImpl struct {
	db *sqlx.DB
}

func NewProductsRepository(db *sqlx.DB) *ProductsRepositoryImpl {
	return &ProductsRepositoryImpl{db: db}
}

var _ ProductsRepository = (*ProductsRepositoryImpl)(nil)

func (r *ProductsRepositoryImpl) GetByID(ctx context.Context, id int64) (*model.Product, error) {
	var p model.Product
	err := r.db.GetContext(ctx, &p, `
		SELECT `+productColumns+`
		  FROM products
		 WHERE id = ? LIMIT 1
	`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ProductsRepositoryImpl) GetOwned(ctx context.Context, id, customerID int64) (*model.Product, error) {
	var p model.Product
	err := r.db.GetContext(ctx, &p, `
		SELECT `+productColumns+`
		  FROM products
		 WHERE id = ? AND customer_id = ? LIMIT 1
	`, id, customerID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ProductsRepositoryImpl) ListRandomPool(ctx context.Context, customerID int64) ([]model.Product, error) {
	var pool []model.Product
	err := r.db.SelectContext(ctx, &pool, `
		SELECT `+productColumns+`
		  FROM products
		 WHERE customer_id = ? AND active = 1 AND random = 1
		 ORDER BY id
	`, customerID)
	if err != nil {
		return nil, err
	}
	return pool, nil
}
