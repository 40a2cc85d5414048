package inventory

import (
	"context"

	"github.com/fekuna/vetvax-order-service/internal/inventory/dto"
	"github.com/fekuna/vetvax-order-service/internal/model"
)

// Repository is the append-only inventory ledger.
type Repository interface {
	Append(ctx context.Context, log *model.InventoryLog) error
	List(ctx context.Context, filters *dto.LogFilters) ([]model.InventoryLog, int, error)
}
