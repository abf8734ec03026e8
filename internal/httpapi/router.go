package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mkatche/chatflow/internal/config"
	"github.com/mkatche/chatflow/internal/httpapi/handlers"
	"github.com/mkatche/chatflow/internal/httpapi/middleware"
)

func NewRouter(h *handlers.Handler, cfg config.Config, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery(log))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"code": 40400, "message": "route not found", "data": nil})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"code": 40500, "message": "method not allowed", "data": nil})
	})

	r.Use(middleware.RequestID())

	r.GET("/ping", h.Ping)

	api := r.Group("/")
	api.Use(middleware.AuthRequired(cfg.JWTSecret))

	// streaming chat
	api.POST("/chat/turns/stream", h.StreamTurn)
	api.POST("/chat/sessions/:key/switch", h.SwitchConversation)
	api.POST("/chat/sessions/:key/clear", h.ClearConversation)
	api.DELETE("/chat/sessions/:key", h.CloseSession)

	// history browsing
	api.GET("/conversations", h.ListConversations)
	api.GET("/conversations/search", h.SearchConversations)
	api.GET("/conversations/:session", h.GetConversation)
	api.DELETE("/conversations/:session", h.DeleteConversation)

	return r
}
