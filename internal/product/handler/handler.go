package handler

import (
	"net/http"

	"github.com/fekuna/vetvax-order-service/internal/product"
	"github.com/fekuna/vetvax-order-service/pkg/logger"
	"github.com/gin-gonic/gin"
)

type ProductHandler struct {
	uc     product.UseCase
	logger logger.ZapLogger
}

func NewProductHandler(uc product.UseCase, log logger.ZapLogger) *ProductHandler {
	return &ProductHandler{
		uc:     uc,
		logger: log,
	}
}

func (h *ProductHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/products/:id", h.GetProduct)
}

// GetProduct returns the product with its dose packs and batches.
func (h *ProductHandler) GetProduct(c *gin.Context) {
	view, err := h.uc.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, view)
}
