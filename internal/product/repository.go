package product

import (
	"context"

	"github.com/fekuna/vetvax-order-service/internal/model"
)

type Repository interface {
	FindByID(ctx context.Context, id string) (*model.Product, error)

	// Dose pack registry
	ListDosePacks(ctx context.Context, productID string) ([]model.DosePack, error)
	FindDosePackByID(ctx context.Context, id string) (*model.DosePack, error)
	FindDosePackForUpdate(ctx context.Context, id string) (*model.DosePack, error)
	CountDosePacks(ctx context.Context, productID string) (int, error)
	UpdateDosePackUnits(ctx context.Context, dp *model.DosePack) error

	// RecomputeAvailableStock rewrites products.available_stock from dose packs and batches.
	RecomputeAvailableStock(ctx context.Context, productID string) (int, error)
}
