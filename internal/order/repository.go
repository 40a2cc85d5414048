package order

import (
	"context"

	"github.com/fekuna/vetvax-order-service/internal/model"
	"github.com/fekuna/vetvax-order-service/internal/order/dto"
)

type Repository interface {
	Create(ctx context.Context, o *model.Order) error
	FindByID(ctx context.Context, id string) (*model.Order, error)
	// FindByIDForUpdate locks the order row until the surrounding transaction ends.
	FindByIDForUpdate(ctx context.Context, id string) (*model.Order, error)
	FindAll(ctx context.Context, filters *dto.OrderFilters) ([]model.Order, int, error)
	UpdateStatus(ctx context.Context, orderID string, status model.OrderStatus) error
	UpdateInternalNotes(ctx context.Context, orderID, notes string) error

	// Items
	CreateItems(ctx context.Context, items []model.OrderItem) error
	ListItems(ctx context.Context, orderID string) ([]model.OrderItem, error)
	SetItemBatch(ctx context.Context, itemID, batchID string) error

	// Status history
	AppendStatusHistory(ctx context.Context, h *model.OrderStatusHistory) error
	ListStatusHistory(ctx context.Context, orderID string) ([]model.OrderStatusHistory, error)
}
