package handler

import (
	"net/http"
	"strconv"

	"github.com/fekuna/vetvax-order-service/internal/auth"
	"github.com/fekuna/vetvax-order-service/internal/model"
	"github.com/fekuna/vetvax-order-service/internal/order"
	"github.com/fekuna/vetvax-order-service/internal/order/dto"
	"github.com/fekuna/vetvax-order-service/pkg/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type OrderHandler struct {
	uc     order.UseCase
	logger logger.ZapLogger
}

func NewOrderHandler(uc order.UseCase, log logger.ZapLogger) *OrderHandler {
	return &OrderHandler{
		uc:     uc,
		logger: log,
	}
}

func (h *OrderHandler) Register(rg *gin.RouterGroup) {
	orders := rg.Group("/orders")
	orders.POST("", h.CreateOrder)
	orders.GET("", h.ListOrders)
	orders.GET("/:id", h.GetOrder)
	orders.POST("/:id/status", h.SetStatus)
	orders.POST("/:id/internal-notes", h.AddInternalNote)
}

func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var input dto.CreateOrderInput
	if err := c.ShouldBindJSON(&input); err != nil {
		h.logger.Debug("invalid order payload", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	input.User = auth.GetUserContext(c)

	o, err := h.uc.CreateOrder(c.Request.Context(), &input)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

func (h *OrderHandler) GetOrder(c *gin.Context) {
	o, err := h.uc.GetOrder(c.Request.Context(), auth.GetUserContext(c), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *OrderHandler) ListOrders(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	filters := &dto.OrderFilters{
		Status:   model.OrderStatus(c.Query("status")),
		Page:     page,
		PageSize: pageSize,
	}

	orders, total, err := h.uc.ListOrders(c.Request.Context(), auth.GetUserContext(c), filters)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"results":   orders,
		"total":     total,
		"page":      filters.Page,
		"page_size": filters.PageSize,
	})
}

func (h *OrderHandler) SetStatus(c *gin.Context) {
	var input dto.SetStatusInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	input.OrderID = c.Param("id")
	input.User = auth.GetUserContext(c)

	if err := h.uc.SetOrderStatus(c.Request.Context(), &input); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"detail": "Order status updated to " + string(input.Status) + "."})
}

func (h *OrderHandler) AddInternalNote(c *gin.Context) {
	var input dto.AddNoteInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	input.OrderID = c.Param("id")
	input.User = auth.GetUserContext(c)

	if err := h.uc.AddInternalNote(c.Request.Context(), &input); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"detail": "Internal note added."})
}
