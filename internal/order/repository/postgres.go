package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/fekuna/vetvax-order-service/internal/apperr"
	"github.com/fekuna/vetvax-order-service/internal/model"
	"github.com/fekuna/vetvax-order-service/internal/order/dto"
	"github.com/fekuna/vetvax-order-service/pkg/database/postgres"
	"github.com/jmoiron/sqlx"
)

type PGRepository struct {
	DB *sqlx.DB
}

func NewPGRepository(db *sqlx.DB) *PGRepository {
	return &PGRepository{DB: db}
}

func (r *PGRepository) Create(ctx context.Context, o *model.Order) error {
	query := `
        INSERT INTO orders (
            id, user_id, order_number, status, total_amount,
            notes, internal_notes, created_at, updated_at
        )
        VALUES (
            :id, :user_id, :order_number, :status, :total_amount,
            :notes, :internal_notes, :created_at, :updated_at
        )
    `
	_, err := postgres.Conn(ctx, r.DB).NamedExecContext(ctx, query, o)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *PGRepository) FindByID(ctx context.Context, id string) (*model.Order, error) {
	return r.findOne(ctx, `SELECT * FROM orders WHERE id = $1`, id)
}

func (r *PGRepository) FindByIDForUpdate(ctx context.Context, id string) (*model.Order, error) {
	return r.findOne(ctx, `SELECT * FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (r *PGRepository) findOne(ctx context.Context, query, id string) (*model.Order, error) {
	var o model.Order
	err := postgres.Conn(ctx, r.DB).GetContext(ctx, &o, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &o, nil
}

func (r *PGRepository) FindAll(ctx context.Context, f *dto.OrderFilters) ([]model.Order, int, error) {
	orders := []model.Order{}
	var count int

	conditions := []string{}
	args := map[string]interface{}{}

	if f.UserID != "" {
		conditions = append(conditions, "user_id = :user_id")
		args["user_id"] = f.UserID
	}
	if f.Status != "" {
		conditions = append(conditions, "status = :status")
		args["status"] = string(f.Status)
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery, countArgs, err := sqlx.Named("SELECT count(*) FROM orders"+whereClause, args)
	if err != nil {
		return nil, 0, err
	}
	if err := r.DB.GetContext(ctx, &count, r.DB.Rebind(countQuery), countArgs...); err != nil {
		return nil, 0, err
	}

	query := "SELECT * FROM orders" + whereClause + " ORDER BY created_at DESC, id DESC"
	if f.PageSize > 0 {
		offset := (max(f.Page, 1) - 1) * f.PageSize
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", f.PageSize, offset)
	}

	nstmt, err := r.DB.PrepareNamedContext(ctx, query)
	if err != nil {
		return nil, 0, err
	}
	defer nstmt.Close()

	err = nstmt.SelectContext(ctx, &orders, args)
	return orders, count, err
}

func (r *PGRepository) UpdateStatus(ctx context.Context, orderID string, status model.OrderStatus) error {
	query := `UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2`
	return r.execOne(ctx, orderID, query, string(status), orderID)
}

func (r *PGRepository) UpdateInternalNotes(ctx context.Context, orderID, notes string) error {
	query := `UPDATE orders SET internal_notes = $1, updated_at = NOW() WHERE id = $2`
	return r.execOne(ctx, orderID, query, notes, orderID)
}

func (r *PGRepository) execOne(ctx context.Context, orderID, query string, args ...interface{}) error {
	res, err := postgres.Conn(ctx, r.DB).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update order %s: %w", orderID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.NotFound("order", orderID)
	}
	return nil
}

func (r *PGRepository) CreateItems(ctx context.Context, items []model.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	query := `
        INSERT INTO order_items (
            id, order_id, product_id, dose_pack_id, batch_id, product_name, doses,
            quantity, unit_price, requested_delivery_date, special_instructions, position
        )
        VALUES (
            :id, :order_id, :product_id, :dose_pack_id, :batch_id, :product_name, :doses,
            :quantity, :unit_price, :requested_delivery_date, :special_instructions, :position
        )
    `
	_, err := postgres.Conn(ctx, r.DB).NamedExecContext(ctx, query, items)
	if err != nil {
		return fmt.Errorf("insert order items: %w", err)
	}
	return nil
}

func (r *PGRepository) ListItems(ctx context.Context, orderID string) ([]model.OrderItem, error) {
	items := []model.OrderItem{}
	query := `SELECT * FROM order_items WHERE order_id = $1 ORDER BY position ASC`
	err := postgres.Conn(ctx, r.DB).SelectContext(ctx, &items, query, orderID)
	return items, err
}

func (r *PGRepository) SetItemBatch(ctx context.Context, itemID, batchID string) error {
	query := `UPDATE order_items SET batch_id = $1 WHERE id = $2`
	_, err := postgres.Conn(ctx, r.DB).ExecContext(ctx, query, batchID, itemID)
	if err != nil {
		return fmt.Errorf("set batch of order item %s: %w", itemID, err)
	}
	return nil
}

func (r *PGRepository) AppendStatusHistory(ctx context.Context, h *model.OrderStatusHistory) error {
	query := `
        INSERT INTO order_status_history (id, order_id, status, changed_by, changed_at)
        VALUES (:id, :order_id, :status, :changed_by, :changed_at)
    `
	_, err := postgres.Conn(ctx, r.DB).NamedExecContext(ctx, query, h)
	if err != nil {
		return fmt.Errorf("append status history: %w", err)
	}
	return nil
}

func (r *PGRepository) ListStatusHistory(ctx context.Context, orderID string) ([]model.OrderStatusHistory, error) {
	history := []model.OrderStatusHistory{}
	query := `SELECT * FROM order_status_history WHERE order_id = $1 ORDER BY changed_at ASC, id ASC`
	err := postgres.Conn(ctx, r.DB).SelectContext(ctx, &history, query, orderID)
	return history, err
}
