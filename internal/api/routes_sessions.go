package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/tabletop/internal/handlers"
)

func registerSessionRoutes(api *gin.RouterGroup, handler *handlers.SessionsHandler) {
	sessions := api.Group("/sessions")
	{
		sessions.GET("", handler.List)
		sessions.POST("", handler.Open)
		sessions.GET("/:sessionID", handler.Get)
		sessions.POST("/:sessionID/close", handler.Close)
		sessions.GET("/:sessionID/events", handler.Events)
	}
}
