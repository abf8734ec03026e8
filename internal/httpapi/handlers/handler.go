package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mkatche/chatflow/internal/history"
	"github.com/mkatche/chatflow/internal/histsync"
	"github.com/mkatche/chatflow/internal/session"
)

type Handler struct {
	Sessions *session.Manager
	Browser  *history.Browser
	Sync     *histsync.Publisher // nil when replication is disabled
	Log      *zap.Logger
}

func NewHandler(sessions *session.Manager, browser *history.Browser, sync *histsync.Publisher, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Sessions: sessions, Browser: browser, Sync: sync, Log: log}
}

func (h *Handler) Ping(c *gin.Context) {
	ok(c, gin.H{"pong": true})
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "ok",
		"data":    data,
	})
}

func fail(c *gin.Context, httpStatus int, code int, msg string) {
	c.JSON(httpStatus, gin.H{
		"code":    code,
		"message": msg,
		"data":    nil,
	})
}
