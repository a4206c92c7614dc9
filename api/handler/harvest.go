package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/changehub/models"
	"github.com/use-agent/changehub/pipeline"
)

// runResponse wraps a run for the harvest endpoints.
type runResponse struct {
	Success bool          `json:"success"`
	Run     *pipeline.Run `json:"run"`
}

// PostHarvest returns a handler for POST /api/v1/harvest.
//
// The run continues after the response is written, so it is bound to
// runCtx (the server's lifetime) rather than to the request. Poll
// GET /api/v1/harvest/:id for the outcome.
func PostHarvest(runCtx context.Context, runner *pipeline.Runner, saveDefault bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.HarvestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.NewErrorResponse(models.ErrCodeInvalidInput, err.Error()))
			return
		}

		opts := pipeline.Options{
			SkipPortal: req.SkipPortal,
			WhatsNew:   req.WhatsNew,
			Sink:       req.Sink,
			Save:       saveDefault,
		}
		if req.Save != nil {
			opts.Save = *req.Save
		}
		for _, t := range req.Tabs {
			opts.Tabs = append(opts.Tabs, models.Tab(t))
		}

		run, err := runner.Start(runCtx, opts)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, runResponse{Success: true, Run: run})
	}
}

// GetHarvest returns a handler for GET /api/v1/harvest/:id.
func GetHarvest(runner *pipeline.Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		run, ok := runner.Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, models.NewErrorResponse(models.ErrCodeInvalidInput, "run not found"))
			return
		}
		c.JSON(http.StatusOK, runResponse{Success: run.Status != pipeline.StatusFailed, Run: run})
	}
}
