package usecase

import (
	"context"

	"github.com/fekuna/vetvax-order-service/internal/apperr"
	"github.com/fekuna/vetvax-order-service/internal/auth"
	"github.com/fekuna/vetvax-order-service/internal/inventory"
	"github.com/fekuna/vetvax-order-service/internal/inventory/dto"
	"github.com/fekuna/vetvax-order-service/internal/model"
	"github.com/fekuna/vetvax-order-service/pkg/logger"
)

const maxPageSize = 100

type inventoryUseCase struct {
	repo   inventory.Repository
	logger logger.ZapLogger
}

func NewInventoryUseCase(repo inventory.Repository, log logger.ZapLogger) inventory.UseCase {
	return &inventoryUseCase{
		repo:   repo,
		logger: log,
	}
}

func (uc *inventoryUseCase) ListLogs(ctx context.Context, user auth.UserContext, filters *dto.LogFilters) ([]model.InventoryLog, int, error) {
	if !user.IsStaff() {
		return nil, 0, apperr.Forbidden("view inventory logs")
	}
	if filters.Action != "" && !filters.Action.Valid() {
		return nil, 0, apperr.Validation("action", "Unknown inventory action.")
	}
	if filters.Page < 1 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > maxPageSize {
		filters.PageSize = maxPageSize
	}
	return uc.repo.List(ctx, filters)
}
