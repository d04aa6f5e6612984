package server

import (
	"github.com/gin-gonic/gin"

	"pollux-go/internal/config"
	gh "pollux-go/internal/handlers/gemini"
	mgmt "pollux-go/internal/handlers/management"
	mw "pollux-go/internal/middleware"
)

// registerProxyRoutes mounts the authenticated Gemini surface on both
// the /v1beta and /v1 prefixes.
func registerProxyRoutes(engine *gin.Engine, cfg *config.Config, handler *gh.Handler) {
	for _, prefix := range []string{"/v1beta", "/v1"} {
		group := engine.Group(prefix, mw.Auth(cfg.NexusKey), mw.BodyLimit())
		group.GET("/models", handler.ListModels)
		// gin captures "gemini-2.5-pro:generateContent" as one segment;
		// the handler splits model from action on the last colon.
		group.POST("/models/:modelAction", handler.ModelAction)
	}
}

func registerAdminRoutes(engine *gin.Engine, handler *mgmt.Handler) {
	api := engine.Group("/admin/api", handler.Auth())
	api.GET("/credentials", handler.List)
	api.POST("/credentials", handler.Submit)
	api.POST("/credentials/:id/ban", handler.Ban)
	api.POST("/credentials/:id/activate", handler.Activate)
	api.POST("/credentials/:id/refresh", handler.Refresh)
	api.GET("/events", handler.Events)
	api.GET("/logs", handler.Logs)
}
