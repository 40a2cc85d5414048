package handler

import (
	"net/http"
	"strconv"

	"github.com/fekuna/vetvax-order-service/internal/auth"
	"github.com/fekuna/vetvax-order-service/internal/inventory"
	"github.com/fekuna/vetvax-order-service/internal/inventory/dto"
	"github.com/fekuna/vetvax-order-service/internal/model"
	"github.com/fekuna/vetvax-order-service/pkg/logger"
	"github.com/gin-gonic/gin"
)

type InventoryHandler struct {
	uc     inventory.UseCase
	logger logger.ZapLogger
}

func NewInventoryHandler(uc inventory.UseCase, log logger.ZapLogger) *InventoryHandler {
	return &InventoryHandler{
		uc:     uc,
		logger: log,
	}
}

func (h *InventoryHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/inventory-logs", h.ListLogs)
}

func (h *InventoryHandler) ListLogs(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "50"))

	filters := &dto.LogFilters{
		ProductID: c.Query("product"),
		OrderID:   c.Query("order"),
		Action:    model.InventoryAction(c.Query("action")),
		Page:      page,
		PageSize:  pageSize,
	}

	logs, total, err := h.uc.ListLogs(c.Request.Context(), auth.GetUserContext(c), filters)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"results":   logs,
		"total":     total,
		"page":      filters.Page,
		"page_size": filters.PageSize,
	})
}
