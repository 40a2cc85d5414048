package inventory

import (
	"context"

	"github.com/fekuna/vetvax-order-service/internal/auth"
	"github.com/fekuna/vetvax-order-service/internal/inventory/dto"
	"github.com/fekuna/vetvax-order-service/internal/model"
)

type UseCase interface {
	ListLogs(ctx context.Context, user auth.UserContext, filters *dto.LogFilters) ([]model.InventoryLog, int, error)
}
