package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/changehub/api/handler"
	"github.com/use-agent/changehub/api/middleware"
	"github.com/use-agent/changehub/config"
	"github.com/use-agent/changehub/pipeline"
)

// Deps are the collaborators the routes serve.
type Deps struct {
	Runner    *pipeline.Runner
	WhatsNew  pipeline.WhatsNewSource // nil disables GET /whatsnew
	Browser   bool
	StartTime time.Time
	Version   string
}

// NewRouter creates a configured Gin engine with all routes and middleware.
// ctx bounds background work: harvest runs and limiter cleanup.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health endpoint is intentionally outside auth so monitoring probes always work.
func NewRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	v1 := r.Group("/api/v1")

	// Health: no auth required.
	v1.GET("/health", handler.Health(deps.Runner, deps.Browser, deps.StartTime, deps.Version))

	// Protected group: auth + rate limit.
	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(ctx, cfg.RateLimit))

	// Harvest runs
	protected.POST("/harvest", handler.PostHarvest(ctx, deps.Runner, cfg.Output.SaveToFile))
	protected.GET("/harvest/:id", handler.GetHarvest(deps.Runner))

	// What's new
	if deps.WhatsNew != nil {
		protected.GET("/whatsnew", handler.WhatsNew(deps.WhatsNew))
	}

	return r
}
