package simulator

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes exposes the runtime config.
//
// GET  /simulator/config  current hamster and sensor counts
// POST /simulator/config  resize; both counts must be within 1..10000
func RegisterRoutes(r gin.IRoutes, sim *Simulator) {
	r.GET("/simulator/config", func(c *gin.Context) {
		c.JSON(http.StatusOK, sim.Runtime())
	})

	r.POST("/simulator/config", func(c *gin.Context) {
		var cfg RuntimeConfig
		if err := c.ShouldBindJSON(&cfg); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, sim.Apply(c.Request.Context(), cfg))
	})
}
