package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/fekuna/vetvax-order-service/internal/apperr"
	"github.com/fekuna/vetvax-order-service/internal/batch"
	"github.com/fekuna/vetvax-order-service/internal/batch/dto"
	"github.com/fekuna/vetvax-order-service/internal/inventory"
	"github.com/fekuna/vetvax-order-service/internal/model"
	"github.com/fekuna/vetvax-order-service/pkg/database/postgres"
	"github.com/fekuna/vetvax-order-service/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultAdjustReason = "Bulk adjustment"

// StockRefresher is implemented by product.UseCase.
type StockRefresher interface {
	RecomputeAvailableStock(ctx context.Context, productID string) (int, error)
	InvalidateProducts(ctx context.Context, productIDs ...string)
}

type Config struct {
	LowStockThreshold int
	ExpiryWindow      time.Duration
}

type batchUseCase struct {
	repo   batch.Repository
	ledger inventory.Repository
	stock  StockRefresher
	tx     postgres.Transactor
	cfg    Config
	now    func() time.Time
	logger logger.ZapLogger
}

func NewBatchUseCase(repo batch.Repository, ledger inventory.Repository, stock StockRefresher, tx postgres.Transactor, cfg Config, log logger.ZapLogger) batch.UseCase {
	return &batchUseCase{
		repo:   repo,
		ledger: ledger,
		stock:  stock,
		tx:     tx,
		cfg:    cfg,
		now:    time.Now,
		logger: log,
	}
}

func (uc *batchUseCase) BulkAdjustStock(ctx context.Context, input *dto.BulkAdjustInput) (*dto.BulkAdjustSummary, error) {
	if !input.User.IsStaff() {
		return nil, apperr.Forbidden("update stock")
	}
	for i, u := range input.Updates {
		if u.BatchID == "" {
			return nil, apperr.Validation(fmt.Sprintf("updates[%d].batch_id", i), "This field is required.")
		}
		if u.Quantity != nil && *u.Quantity < 0 {
			return nil, apperr.Validation(fmt.Sprintf("updates[%d].quantity", i), "Quantity cannot be negative.")
		}
	}

	summary := &dto.BulkAdjustSummary{
		Requested: len(input.Updates),
		Skipped:   []dto.SkippedUpdate{},
	}
	touched := map[string]struct{}{}

	err := uc.tx.WithinTx(ctx, func(ctx context.Context) error {
		for _, u := range input.Updates {
			b, err := uc.repo.FindByIDForUpdate(ctx, u.BatchID)
			if err != nil {
				return fmt.Errorf("lock batch %s: %w", u.BatchID, err)
			}
			if b == nil {
				summary.Skipped = append(summary.Skipped, dto.SkippedUpdate{BatchID: u.BatchID, Reason: "batch not found"})
				continue
			}

			oldQuantity := b.Quantity
			newQuantity := oldQuantity
			if u.Quantity != nil {
				newQuantity = *u.Quantity
			}
			if newQuantity < b.QuantityReserved {
				summary.Skipped = append(summary.Skipped, dto.SkippedUpdate{
					BatchID: u.BatchID,
					Reason:  fmt.Sprintf("quantity %d is below reserved %d", newQuantity, b.QuantityReserved),
				})
				continue
			}

			b.Quantity = newQuantity
			if u.StorageLocation != nil {
				b.StorageLocation = *u.StorageLocation
			}
			if err := uc.repo.Update(ctx, b); err != nil {
				return err
			}

			reason := u.Reason
			if reason == "" {
				reason = defaultAdjustReason
			}
			batchID := b.ID
			if err := uc.ledger.Append(ctx, &model.InventoryLog{
				ID:              uuid.New().String(),
				ProductID:       b.ProductID,
				BatchID:         &batchID,
				Action:          model.ActionAdjusted,
				QuantityChanged: newQuantity - oldQuantity,
				Reason:          reason,
				PerformedBy:     input.User.ActorID(),
				CreatedAt:       uc.now(),
			}); err != nil {
				return err
			}

			summary.Updated++
			touched[b.ProductID] = struct{}{}
		}

		for _, productID := range sortedKeys(touched) {
			err := uc.tx.WithinSavepoint(ctx, "stock_summary", func(ctx context.Context) error {
				_, err := uc.stock.RecomputeAvailableStock(ctx, productID)
				return err
			})
			if err != nil {
				uc.logger.Warn("failed to recompute available stock", zap.String("product_id", productID), zap.Error(err))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	uc.stock.InvalidateProducts(ctx, sortedKeys(touched)...)
	uc.logger.Info("bulk stock adjustment applied",
		zap.Int("requested", summary.Requested),
		zap.Int("updated", summary.Updated),
		zap.Int("skipped", len(summary.Skipped)),
	)
	return summary, nil
}

func (uc *batchUseCase) ListLowStock(ctx context.Context) ([]dto.BatchView, error) {
	now := uc.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	cutoff := today.Add(uc.cfg.ExpiryWindow)
	batches, err := uc.repo.ListLowStock(ctx, uc.cfg.LowStockThreshold, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list low stock batches: %w", err)
	}
	return dto.NewBatchViews(batches), nil
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
