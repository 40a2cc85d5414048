package server

import (
	"net/http"

	"github.com/fekuna/vetvax-order-service/internal/auth"
	"github.com/fekuna/vetvax-order-service/pkg/logger"
	"github.com/gin-gonic/gin"
)

// Registrar is implemented by every domain handler.
type Registrar interface {
	Register(rg *gin.RouterGroup)
}

func NewRouter(log logger.ZapLogger, handlers ...Registrar) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(log))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.Use(auth.Middleware(), ErrorMiddleware(log))
	for _, h := range handlers {
		h.Register(api)
	}
	return r
}
