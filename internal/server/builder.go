// Package server assembles the gin engine: middleware chain, proxy
// routes, consent flow and the admin surface.
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pollux-go/internal/config"
	"pollux-go/internal/credential"
	"pollux-go/internal/events"
	"pollux-go/internal/handlers/authflow"
	gh "pollux-go/internal/handlers/gemini"
	mgmt "pollux-go/internal/handlers/management"
	"pollux-go/internal/logging"
	mw "pollux-go/internal/middleware"
	"pollux-go/internal/oauth"
)

// Dependencies carries the runtime services the engine routes to.
type Dependencies struct {
	Coordinator *credential.Coordinator
	Store       mgmt.Store
	Hub         *events.Hub
	Upstream    gh.Upstream
	Flow        *oauth.Flow
	LogStream   *logging.LogStream
}

// BuildEngine wires the full HTTP surface.
func BuildEngine(cfg *config.Config, deps Dependencies) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(mw.RequestID(), mw.Recovery(), mw.AccessLog(), mw.Metrics())

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.MetricsEnabled {
		engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	flowHandler := authflow.NewHandler(deps.Flow, deps.Coordinator, cfg.NexusKey)
	engine.GET("/auth/:secret", flowHandler.Begin)
	engine.GET("/auth/callback", flowHandler.Callback)

	geminiHandler := gh.NewHandler(deps.Coordinator, deps.Upstream, cfg.ModelList)
	registerProxyRoutes(engine, cfg, geminiHandler)

	adminHandler := mgmt.NewHandler(cfg, deps.Coordinator, deps.Store, deps.Hub, deps.LogStream)
	registerAdminRoutes(engine, adminHandler)

	return engine
}
