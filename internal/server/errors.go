package server

import (
	"errors"
	"net/http"

	"github.com/fekuna/vetvax-order-service/internal/apperr"
	"github.com/fekuna/vetvax-order-service/pkg/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorMiddleware renders the last error a handler attached with c.Error.
func ErrorMiddleware(log logger.ZapLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err
		code, body := errorResponse(err)
		if code >= http.StatusInternalServerError {
			log.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		}
		c.AbortWithStatusJSON(code, body)
	}
}

func errorResponse(err error) (int, gin.H) {
	var validationErr *apperr.ValidationError
	var stockErr *apperr.InsufficientStockError

	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, gin.H{"error": validationErr.Message, "field": validationErr.Field}
	case errors.As(err, &stockErr):
		return http.StatusConflict, gin.H{
			"error":        stockErr.Error(),
			"product_id":   stockErr.ProductID,
			"product_name": stockErr.ProductName,
			"requested":    stockErr.Requested,
			"shortfall":    stockErr.Shortfall,
		}
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden, gin.H{"error": err.Error()}
	case errors.Is(err, apperr.ErrInvalidStatus):
		return http.StatusBadRequest, gin.H{"error": err.Error()}
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, gin.H{"error": err.Error()}
	default:
		return http.StatusInternalServerError, gin.H{"error": "internal server error"}
	}
}
