package handlers

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"golang.org/x/xerrors"

	"cdr.dev/slog/v3"

	"github.com/PratikDhanave/wheel-activity-tracker/internal/auth"
	"github.com/PratikDhanave/wheel-activity-tracker/internal/ingress"
)

type Subscriber interface {
	Subscribe(name string, limit int) (*ingress.Subscription, error)
}

// RegisterTapRoutes registers a debug stream of ingested events.
//
// GET /events/tap (websocket)
// - Each connection is its own consumer group, so it sees every event
// - A slow reader loses events beyond buffer; processing is never held back
func RegisterTapRoutes(r gin.IRoutes, logger slog.Logger, bus Subscriber, buffer int) {
	r.GET("/events/tap", func(c *gin.Context) {
		sub, err := bus.Subscribe("tap", buffer)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down"})
			return
		}
		defer sub.Close()

		conn, err := websocket.Accept(c.Writer, c.Request, nil)
		if err != nil {
			logger.Debug(c.Request.Context(), "tap upgrade failed", slog.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "tap closed")

		// Client messages are not expected; CloseRead cancels ctx when the peer goes away.
		ctx := conn.CloseRead(c.Request.Context())
		logger.Debug(ctx, "tap attached", slog.F("client", auth.Client(c)))
		for {
			env, err := sub.Next(ctx)
			if xerrors.Is(err, ingress.ErrClosed) {
				_ = conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			if err != nil {
				return
			}
			if err := wsjson.Write(ctx, conn, env); err != nil {
				logger.Debug(ctx, "tap write failed", slog.Error(err))
				return
			}
		}
	})
}
