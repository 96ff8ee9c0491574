package router

import (
	"net/http"

	"github.com/faithlink/presence-service/internal/handler"
	"github.com/faithlink/presence-service/pkg/constants"
	"github.com/gin-gonic/gin"
)

// New builds the HTTP router.
func New(
	presence *handler.PresenceHandler,
	presenceWS *handler.PresenceWSHandler,
	health *handler.HealthHandler,
) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET(constants.PathHealth, health.Health)
	r.GET(constants.PathReady, health.Ready)

	// Live presence reads
	presenceGroup := r.Group("/presence")
	{
		presenceGroup.GET("/live", presence.LiveSessions)
		presenceGroup.GET("/overview", presence.Overview)
		presenceGroup.GET("/config", presence.ClientConfig)
	}

	// Durable session history + moderation
	sessions := r.Group("/sessions")
	{
		sessions.GET("", presence.ListSessions)
		sessions.GET("/:id", presence.GetSession)
		sessions.POST("/:id/stop", presence.StopSession)
	}

	// WebSocket: /ws/presence?user_id=&role=
	r.GET(constants.PathPresenceWS, presenceWS.ServeWS)

	return r
}
