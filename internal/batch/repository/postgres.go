package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fekuna/vetvax-order-service/internal/apperr"
	"github.com/fekuna/vetvax-order-service/internal/model"
	"github.com/fekuna/vetvax-order-service/pkg/database/postgres"
	"github.com/jmoiron/sqlx"
)

const batchColumns = `id, product_id, batch_number, expiry_date, quantity, quantity_reserved,
        status, storage_location, created_at, updated_at`

type PGRepository struct {
	DB *sqlx.DB
}

func NewPGRepository(db *sqlx.DB) *PGRepository {
	return &PGRepository{DB: db}
}

func (r *PGRepository) ListByProduct(ctx context.Context, productID string) ([]model.Batch, error) {
	batches := []model.Batch{}
	query := `SELECT ` + batchColumns + ` FROM batches WHERE product_id = $1 ORDER BY expiry_date ASC, id ASC`
	err := postgres.Conn(ctx, r.DB).SelectContext(ctx, &batches, query, productID)
	return batches, err
}

func (r *PGRepository) ListByProductForUpdate(ctx context.Context, productID string) ([]model.Batch, error) {
	batches := []model.Batch{}
	query := `SELECT ` + batchColumns + ` FROM batches WHERE product_id = $1 ORDER BY expiry_date ASC, id ASC FOR UPDATE`
	err := postgres.Conn(ctx, r.DB).SelectContext(ctx, &batches, query, productID)
	if err != nil {
		return nil, fmt.Errorf("lock batches of product %s: %w", productID, err)
	}
	return batches, nil
}

func (r *PGRepository) FindByIDForUpdate(ctx context.Context, id string) (*model.Batch, error) {
	var b model.Batch
	query := `SELECT ` + batchColumns + ` FROM batches WHERE id = $1 FOR UPDATE`
	err := postgres.Conn(ctx, r.DB).GetContext(ctx, &b, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

func (r *PGRepository) Update(ctx context.Context, b *model.Batch) error {
	b.UpdatedAt = time.Now()
	query := `
        UPDATE batches SET
            quantity = :quantity,
            quantity_reserved = :quantity_reserved,
            status = :status,
            storage_location = :storage_location,
            updated_at = :updated_at
        WHERE id = :id
    `
	res, err := postgres.Conn(ctx, r.DB).NamedExecContext(ctx, query, b)
	if err != nil {
		return fmt.Errorf("update batch %s: %w", b.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.NotFound("batch", b.ID)
	}
	return nil
}

func (r *PGRepository) ListLowStock(ctx context.Context, threshold int, expiresBefore time.Time) ([]model.Batch, error) {
	batches := []model.Batch{}
	query := `SELECT ` + batchColumns + ` FROM batches
        WHERE quantity <= $1 OR expiry_date < $2
        ORDER BY expiry_date ASC, id ASC`
	err := postgres.Conn(ctx, r.DB).SelectContext(ctx, &batches, query, threshold, expiresBefore)
	return batches, err
}
