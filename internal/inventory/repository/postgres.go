package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/fekuna/vetvax-order-service/internal/inventory/dto"
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

func (r *PGRepository) Append(ctx context.Context, l *model.InventoryLog) error {
	query := `
        INSERT INTO inventory_logs (
            id, product_id, batch_id, action, quantity_changed,
            reason, related_order_id, performed_by, created_at
        )
        VALUES (
            :id, :product_id, :batch_id, :action, :quantity_changed,
            :reason, :related_order_id, :performed_by, :created_at
        )
    `
	_, err := postgres.Conn(ctx, r.DB).NamedExecContext(ctx, query, l)
	if err != nil {
		return fmt.Errorf("append inventory log: %w", err)
	}
	return nil
}

func (r *PGRepository) List(ctx context.Context, f *dto.LogFilters) ([]model.InventoryLog, int, error) {
	logs := []model.InventoryLog{}
	var count int

	conditions := []string{}
	args := map[string]interface{}{}

	if f.ProductID != "" {
		conditions = append(conditions, "product_id = :product_id")
		args["product_id"] = f.ProductID
	}
	if f.OrderID != "" {
		conditions = append(conditions, "related_order_id = :related_order_id")
		args["related_order_id"] = f.OrderID
	}
	if f.Action != "" {
		conditions = append(conditions, "action = :action")
		args["action"] = string(f.Action)
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery, countArgs, err := sqlx.Named("SELECT count(*) FROM inventory_logs"+whereClause, args)
	if err != nil {
		return nil, 0, err
	}
	if err := r.DB.GetContext(ctx, &count, r.DB.Rebind(countQuery), countArgs...); err != nil {
		return nil, 0, err
	}

	query := "SELECT * FROM inventory_logs" + whereClause + " ORDER BY created_at DESC, id DESC"
	if f.PageSize > 0 {
		offset := (max(f.Page, 1) - 1) * f.PageSize
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", f.PageSize, offset)
	}

	nstmt, err := r.DB.PrepareNamedContext(ctx, query)
	if err != nil {
		return nil, 0, err
	}
	defer nstmt.Close()

	err = nstmt.SelectContext(ctx, &logs, args)
	return logs, count, err
}
