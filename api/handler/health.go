package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/changehub/models"
	"github.com/use-agent/changehub/pipeline"
)

// Health returns a handler for GET /api/v1/health.
//
// Reports "busy" while a harvest run holds the browser.
func Health(runner *pipeline.Runner, browser bool, startTime time.Time, version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := models.HealthResponse{
			Status:  "healthy",
			Uptime:  time.Since(startTime).Round(time.Second).String(),
			Browser: browser,
			Version: version,
		}
		if id, busy := runner.Active(); busy {
			resp.Status = "busy"
			resp.ActiveRun = id
		}
		c.JSON(http.StatusOK, resp)
	}
}
