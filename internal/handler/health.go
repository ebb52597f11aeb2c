package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bosted-app/backend/internal/model"
)

// Pinger is implemented by the store backends.
type Pinger interface {
	Ping(ctx context.Context) error
}

func Ping(c *gin.Context) {
	c.JSON(http.StatusOK, model.PingResponse{Message: "pong"})
}

func Root(c *gin.Context) {
	c.JSON(http.StatusOK, model.RootResponse{
		Status:  "ok",
		Message: "bosted auth API is running",
	})
}

func Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, model.StatusResponse{Status: "ok"})
}

// Readyz reports 503 while the store does not answer.
func Readyz(store Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if store == nil {
			c.JSON(http.StatusOK, model.StatusResponse{Status: "ready"})
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, model.StatusResponse{Status: "unavailable"})
			return
		}
		c.JSON(http.StatusOK, model.StatusResponse{Status: "ready"})
	}
}
