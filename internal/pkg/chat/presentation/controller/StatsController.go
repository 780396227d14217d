package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/abba-boss/luxury-cars-automobiles-sub002/internal/infrastructure/realtime"
)

// StatsController reports live connection and room counts for this node.
type StatsController struct {
	router *realtime.Router
	nodeID string
}

func NewStatsController(router *realtime.Router, nodeID string) *StatsController {
	return &StatsController{router: router, nodeID: nodeID}
}

func (h *StatsController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		connections, rooms := h.router.Stats()
		c.JSON(http.StatusOK, gin.H{
			"node_id":     h.nodeID,
			"connections": connections,
			"rooms":       rooms,
		})
	}
}
