package batch

import (
	"context"

	"github.com/fekuna/vetvax-order-service/internal/batch/dto"
)

type UseCase interface {
	BulkAdjustStock(ctx context.Context, input *dto.BulkAdjustInput) (*dto.BulkAdjustSummary, error)
	ListLowStock(ctx context.Context) ([]dto.BatchView, error)
}
