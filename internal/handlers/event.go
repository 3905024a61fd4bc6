package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/xerrors"

	"github.com/PratikDhanave/wheel-activity-tracker/internal/ingress"
	"github.com/PratikDhanave/wheel-activity-tracker/internal/models"
)

// EventSubmitter accepts events into the tracker.
type EventSubmitter interface {
	Submit(event models.Event, sensorID string) (models.Envelope, error)
}

// RegisterEventRoutes registers the ingestion-path endpoint.
//
// POST /events
// - Optional X-Sensor-Id names the relaying sensor
// - Asynchronous: 202 means queued for processing, not yet applied
// - The server stamps the receive time; the payload carries none
func RegisterEventRoutes(r gin.IRoutes, bus EventSubmitter) {
	r.POST("/events", func(c *gin.Context) {
		var ev models.Event
		if err := c.ShouldBindJSON(&ev); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
			return
		}
		if err := ev.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		sensorID := strings.TrimSpace(c.GetHeader("X-Sensor-Id"))
		env, err := bus.Submit(ev, sensorID)
		if xerrors.Is(err, ingress.ErrClosed) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue failed"})
			return
		}

		c.JSON(http.StatusAccepted, models.EventIngestResponse{
			EventID:    env.ID,
			ReceivedAt: env.ReceivedAt,
		})
	})
}
