package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fekuna/vetvax-order-service/internal/apperr"
	"github.com/fekuna/vetvax-order-service/internal/model"
	"github.com/fekuna/vetvax-order-service/pkg/database/postgres"
	"github.com/jmoiron/sqlx"
)

type PGRepository struct {
	DB *sqlx.DB
}

func NewPGRepository(db *sqlx.DB) *PGRepository {
	return &PGRepository{DB: db}
}

func (r *PGRepository) FindByID(ctx context.Context, id string) (*model.Product, error) {
	var product model.Product
	query := `SELECT * FROM products WHERE id = $1 LIMIT 1`
	err := postgres.Conn(ctx, r.DB).GetContext(ctx, &product, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &product, nil
}

func (r *PGRepository) ListDosePacks(ctx context.Context, productID string) ([]model.DosePack, error) {
	packs := []model.DosePack{}
	query := `SELECT id, product_id, doses, units_per_pack FROM dose_packs WHERE product_id = $1 ORDER BY doses, id`
	err := postgres.Conn(ctx, r.DB).SelectContext(ctx, &packs, query, productID)
	return packs, err
}

func (r *PGRepository) FindDosePackByID(ctx context.Context, id string) (*model.DosePack, error) {
	return r.findDosePack(ctx, `SELECT id, product_id, doses, units_per_pack FROM dose_packs WHERE id = $1`, id)
}

// FindDosePackForUpdate locks the dose pack row until the surrounding transaction ends.
func (r *PGRepository) FindDosePackForUpdate(ctx context.Context, id string) (*model.DosePack, error) {
	return r.findDosePack(ctx, `SELECT id, product_id, doses, units_per_pack FROM dose_packs WHERE id = $1 FOR UPDATE`, id)
}

func (r *PGRepository) findDosePack(ctx context.Context, query, id string) (*model.DosePack, error) {
	var dp model.DosePack
	err := postgres.Conn(ctx, r.DB).GetContext(ctx, &dp, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &dp, nil
}

func (r *PGRepository) CountDosePacks(ctx context.Context, productID string) (int, error) {
	var count int
	err := postgres.Conn(ctx, r.DB).GetContext(ctx, &count, `SELECT count(*) FROM dose_packs WHERE product_id = $1`, productID)
	return count, err
}

func (r *PGRepository) UpdateDosePackUnits(ctx context.Context, dp *model.DosePack) error {
	query := `UPDATE dose_packs SET units_per_pack = :units_per_pack WHERE id = :id`
	res, err := postgres.Conn(ctx, r.DB).NamedExecContext(ctx, query, dp)
	if err != nil {
		return fmt.Errorf("update dose pack %s: %w", dp.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.NotFound("dose pack", dp.ID)
	}
	return nil
}

func (r *PGRepository) RecomputeAvailableStock(ctx context.Context, productID string) (int, error) {
	query := `
        UPDATE products
        SET available_stock =
                COALESCE((SELECT SUM(units_per_pack) FROM dose_packs WHERE product_id = $1), 0)
              + COALESCE((SELECT SUM(quantity - quantity_reserved) FROM batches WHERE product_id = $1), 0),
            updated_at = NOW()
        WHERE id = $1
        RETURNING available_stock
    `
	var stock int
	err := postgres.Conn(ctx, r.DB).GetContext(ctx, &stock, query, productID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, apperr.NotFound("product", productID)
		}
		return 0, err
	}
	return stock, nil
}
