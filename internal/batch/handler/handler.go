package handler

import (
	"net/http"

	"github.com/fekuna/vetvax-order-service/internal/auth"
	"github.com/fekuna/vetvax-order-service/internal/batch"
	"github.com/fekuna/vetvax-order-service/internal/batch/dto"
	"github.com/fekuna/vetvax-order-service/pkg/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type BatchHandler struct {
	uc     batch.UseCase
	logger logger.ZapLogger
}

func NewBatchHandler(uc batch.UseCase, log logger.ZapLogger) *BatchHandler {
	return &BatchHandler{
		uc:     uc,
		logger: log,
	}
}

func (h *BatchHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/batches/bulk-update-stock", h.BulkUpdateStock)
	rg.GET("/batches/low-stock", h.LowStock)
}

func (h *BatchHandler) BulkUpdateStock(c *gin.Context) {
	var input dto.BulkAdjustInput
	if err := c.ShouldBindJSON(&input); err != nil {
		h.logger.Debug("invalid bulk update payload", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	input.User = auth.GetUserContext(c)

	summary, err := h.uc.BulkAdjustStock(c.Request.Context(), &input)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *BatchHandler) LowStock(c *gin.Context) {
	batches, err := h.uc.ListLowStock(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, batches)
}
