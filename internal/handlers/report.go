package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/xerrors"

	"github.com/PratikDhanave/wheel-activity-tracker/internal/models"
	"github.com/PratikDhanave/wheel-activity-tracker/internal/report"
)

type ReportReader interface {
	DailyReportFor(ctx context.Context, date string) (models.DailyReport, error)
}

// RegisterReportRoutes registers the query-path endpoint.
//
// GET /report/daily?date=YYYY-MM-DD
// - date defaults to today in the tracker's zone
// - past days come from durable storage when exported, otherwise live state
func RegisterReportRoutes(r gin.IRoutes, reports ReportReader) {
	r.GET("/report/daily", func(c *gin.Context) {
		rep, err := reports.DailyReportFor(c.Request.Context(), c.Query("date"))
		if xerrors.Is(err, report.ErrInvalidDate) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "report query failed"})
			return
		}
		c.JSON(http.StatusOK, rep)
	})
}
