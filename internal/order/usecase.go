package order

import (
	"context"

	"github.com/fekuna/vetvax-order-service/internal/auth"
	"github.com/fekuna/vetvax-order-service/internal/model"
	"github.com/fekuna/vetvax-order-service/internal/order/dto"
)

type UseCase interface {
	CreateOrder(ctx context.Context, input *dto.CreateOrderInput) (*model.Order, error)
	SetOrderStatus(ctx context.Context, input *dto.SetStatusInput) error
	AddInternalNote(ctx context.Context, input *dto.AddNoteInput) error
	GetOrder(ctx context.Context, user auth.UserContext, id string) (*model.Order, error)
	ListOrders(ctx context.Context, user auth.UserContext, filters *dto.OrderFilters) ([]model.Order, int, error)
}
