package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/pramodkumar0813/DI-Skill-Bridge/config"
	"github.com/pramodkumar0813/DI-Skill-Bridge/internal/middleware"
)

// NewRouter builds the HTTP surface: health, the room status API and the
// classroom websocket endpoints.
func NewRouter(cfg *config.Config, ws *Handler, rooms RoomReader, deps map[string]Pinger) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	// Global CORS middleware (runs before routing)
	router.Use(OriginFilter(cfg.AllowedOrigins))

	router.GET("/health", Health(deps))

	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/rooms/:roomId", middleware.JWTAuth(cfg.JWTSecret), GetRoom(rooms))
	}

	wsGroup := router.Group("/ws")
	{
		wsGroup.GET("/classroom", ws.HandleClassroom)
		wsGroup.GET("/class/:roomId", ws.HandleClass)
	}

	return router
}
