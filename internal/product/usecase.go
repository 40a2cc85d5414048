package product

import (
	"context"

	"github.com/fekuna/vetvax-order-service/internal/product/dto"
)

type UseCase interface {
	GetProduct(ctx context.Context, id string) (*dto.ProductView, error)
	RecomputeAvailableStock(ctx context.Context, productID string) (int, error)
	// InvalidateProducts drops cached projections. Failures are logged only.
	InvalidateProducts(ctx context.Context, productIDs ...string)
}
