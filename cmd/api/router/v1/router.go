package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	httpHandler "github.com/abba-boss/luxury-cars-automobiles-sub002/internal/pkg/chat/presentation/http"
)

// RegisterRoutes mounts the health probe and all version 1 API routes under /api/v1
func RegisterRoutes(r *gin.Engine, deps httpHandler.Dependencies) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	})

	v1 := r.Group("/api/v1")
	httpHandler.RegisterRoutes(v1, deps)
}
