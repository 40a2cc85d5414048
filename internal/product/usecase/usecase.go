package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fekuna/vetvax-order-service/internal/apperr"
	"github.com/fekuna/vetvax-order-service/internal/model"
	"github.com/fekuna/vetvax-order-service/internal/product"
	"github.com/fekuna/vetvax-order-service/internal/product/dto"
	"github.com/fekuna/vetvax-order-service/pkg/cache"
	"github.com/fekuna/vetvax-order-service/pkg/logger"
	"go.uber.org/zap"
)

// Cache is satisfied by *cache.RedisClient.
type Cache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type BatchLister interface {
	ListByProduct(ctx context.Context, productID string) ([]model.Batch, error)
}

type productUseCase struct {
	repo     product.Repository
	batches  BatchLister
	cache    Cache
	cacheTTL time.Duration
	logger   logger.ZapLogger
}

// NewProductUseCase builds the product use case. c may be nil, which disables caching.
func NewProductUseCase(repo product.Repository, batches BatchLister, c Cache, cacheTTL time.Duration, log logger.ZapLogger) product.UseCase {
	return &productUseCase{
		repo:     repo,
		batches:  batches,
		cache:    c,
		cacheTTL: cacheTTL,
		logger:   log,
	}
}

func cacheKey(productID string) string {
	return fmt.Sprintf("products:view:%s", productID)
}

func (uc *productUseCase) GetProduct(ctx context.Context, id string) (*dto.ProductView, error) {
	if uc.cache != nil {
		var cached dto.ProductView
		err := uc.cache.GetJSON(ctx, cacheKey(id), &cached)
		if err == nil {
			return &cached, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			uc.logger.Warn("product cache read failed", zap.String("product_id", id), zap.Error(err))
		}
	}

	p, err := uc.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find product: %w", err)
	}
	if p == nil {
		return nil, apperr.NotFound("product", id)
	}

	packs, err := uc.repo.ListDosePacks(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list dose packs: %w", err)
	}
	batches, err := uc.batches.ListByProduct(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}

	view := dto.NewProductView(*p, packs, batches)

	if uc.cache != nil {
		if err := uc.cache.SetJSON(ctx, cacheKey(id), view, uc.cacheTTL); err != nil {
			uc.logger.Warn("product cache write failed", zap.String("product_id", id), zap.Error(err))
		}
	}
	return view, nil
}

func (uc *productUseCase) RecomputeAvailableStock(ctx context.Context, productID string) (int, error) {
	stock, err := uc.repo.RecomputeAvailableStock(ctx, productID)
	if err != nil {
		return 0, err
	}
	uc.logger.Debug("available stock recomputed", zap.String("product_id", productID), zap.Int("available_stock", stock))
	return stock, nil
}

func (uc *productUseCase) InvalidateProducts(ctx context.Context, productIDs ...string) {
	if uc.cache == nil || len(productIDs) == 0 {
		return
	}
	keys := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		keys = append(keys, cacheKey(id))
	}
	if err := uc.cache.Delete(ctx, keys...); err != nil {
		uc.logger.Warn("product cache invalidation failed", zap.Strings("product_ids", productIDs), zap.Error(err))
	}
}
