package batch

import (
	"context"
	"time"

	"github.com/fekuna/vetvax-order-service/internal/model"
)

type Repository interface {
	// ListByProduct returns batches in FIFO order: earliest expiry first.
	ListByProduct(ctx context.Context, productID string) ([]model.Batch, error)
	// ListByProductForUpdate is ListByProduct with row locks held until the transaction ends.
	ListByProductForUpdate(ctx context.Context, productID string) ([]model.Batch, error)
	FindByIDForUpdate(ctx context.Context, id string) (*model.Batch, error)
	Update(ctx context.Context, b *model.Batch) error
	ListLowStock(ctx context.Context, threshold int, expiresBefore time.Time) ([]model.Batch, error)
}
