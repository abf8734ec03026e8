package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mkatche/chatflow/internal/ai"
	"github.com/mkatche/chatflow/internal/history"
	"github.com/mkatche/chatflow/internal/session"
)

const defaultSessionKey = "default"

func sessionKey(raw string) string {
	if raw == "" {
		return defaultSessionKey
	}
	return raw
}

type streamTurnReq struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text" binding:"required"`
}

// StreamTurn submits one user turn and relays the reply as SSE. A still-live
// stream on the same session is cancelled by the submit itself.
func (h *Handler) StreamTurn(c *gin.Context) {
	var req streamTurnReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	sess := h.Sessions.Get(sessionKey(req.SessionID))
	stream, err := sess.Submit(c.Request.Context(), req.Text)
	switch {
	case err == nil:
	case errors.Is(err, ai.ErrMissingCredential):
		// Distinct from a failed turn: the client should prompt for a key.
		fail(c, http.StatusPreconditionFailed, 41201, "provider credential not configured")
		return
	case errors.Is(err, session.ErrBlankTurn):
		fail(c, http.StatusBadRequest, 10002, "text required")
		return
	case errors.Is(err, session.ErrSessionClosed), errors.Is(err, session.ErrNotReady):
		fail(c, http.StatusConflict, 40901, "session not accepting input")
		return
	default:
		h.Log.Error("stream turn failed", zap.Error(err))
		fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	// SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // helpful if behind nginx

	c.Status(http.StatusOK)

	flusher, okf := c.Writer.(http.Flusher)
	if !okf {
		stream.Cancel()
		fmt.Fprintf(c.Writer, "event: error\ndata: flusher not supported\n\n")
		return
	}

	writeJSON := func(event string, payload any) {
		b, err := json.Marshal(payload)
		if err != nil {
			fmt.Fprintf(c.Writer, "event: error\ndata: {\"message\":\"json marshal failed\"}\n\n")
			flusher.Flush()
			return
		}
		if event != "" {
			fmt.Fprintf(c.Writer, "event: %s\n", event)
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", string(b))
		flusher.Flush()
	}

	// heartbeat ticker (keeps connections alive)
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case u, okc := <-stream.Updates():
			if !okc {
				return
			}
			if u.Finished {
				writeJSON("done", gin.H{
					"type":    "done",
					"text":    u.Text,
					"success": u.Success,
				})
				return
			}
			writeJSON("chunk", gin.H{
				"type": "chunk",
				"text": u.Text,
			})

		case <-ticker.C:
			writeJSON("ping", gin.H{
				"type": "ping",
				"ts":   time.Now().Unix(),
			})

		case <-ctx.Done():
			stream.Cancel()
			return
		}
	}
}

// ListConversations serves the list view: one summary per conversation, most
// recent first. The unfiltered listing is redis-cached; a keyword filters by
// content match.
func (h *Handler) ListConversations(c *gin.Context) {
	ctx := c.Request.Context()
	keyword := c.Query("keyword")

	var summaries []history.Summary
	var err error
	if keyword == "" {
		summaries, err = h.Browser.Summaries(ctx)
	} else {
		var convs []history.Conversation
		convs, err = h.Browser.List(ctx, keyword)
		summaries = history.Summarize(convs)
	}
	if err != nil {
		h.Log.Error("list conversations failed", zap.Error(err))
		fail(c, http.StatusInternalServerError, 50002, "failed to list conversations")
		return
	}
	ok(c, gin.H{"conversations": summaries})
}

// SearchConversations returns full conversations whose text matches the
// keyword. A blank keyword returns everything.
func (h *Handler) SearchConversations(c *gin.Context) {
	convs, err := h.Browser.List(c.Request.Context(), c.Query("keyword"))
	if err != nil {
		h.Log.Error("search conversations failed", zap.Error(err))
		fail(c, http.StatusInternalServerError, 50002, "failed to search conversations")
		return
	}
	ok(c, gin.H{"conversations": convs})
}

func (h *Handler) GetConversation(c *gin.Context) {
	conv, err := h.Browser.Get(c.Request.Context(), c.Param("session"))
	if err != nil {
		h.Log.Error("get conversation failed", zap.Error(err))
		fail(c, http.StatusInternalServerError, 50002, "failed to load conversation")
		return
	}
	if len(conv.Turns) == 0 {
		fail(c, http.StatusNotFound, 40401, "conversation not found")
		return
	}
	ok(c, gin.H{"turns": conv.Turns})
}

// DeleteConversation removes a conversation everywhere and replicates the
// removal.
func (h *Handler) DeleteConversation(c *gin.Context) {
	sessionID := c.Param("session")
	if err := h.Browser.Delete(c.Request.Context(), sessionID); err != nil {
		h.Log.Error("delete conversation failed", zap.Error(err))
		fail(c, http.StatusInternalServerError, 50003, "failed to delete conversation")
		return
	}
	if h.Sync != nil {
		if err := h.Sync.PublishDelete(c.Request.Context(), sessionID); err != nil {
			h.Log.Warn("delete replication failed", zap.Error(err))
		}
	}
	ok(c, gin.H{"session": sessionID})
}

type switchReq struct {
	Session string `json:"session" binding:"required"`
}

// SwitchConversation loads a stored conversation into the caller's session,
// cancelling any live stream first.
func (h *Handler) SwitchConversation(c *gin.Context) {
	var req switchReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	conv, err := h.Browser.Get(c.Request.Context(), req.Session)
	if err != nil {
		h.Log.Error("switch load failed", zap.Error(err))
		fail(c, http.StatusInternalServerError, 50002, "failed to load conversation")
		return
	}
	if len(conv.Turns) == 0 {
		fail(c, http.StatusNotFound, 40401, "conversation not found")
		return
	}

	sess := h.Sessions.Get(sessionKey(c.Param("key")))
	if err := sess.SwitchTo(conv); err != nil {
		fail(c, http.StatusConflict, 40901, "session not accepting input")
		return
	}
	ok(c, gin.H{"turns": conv.Turns})
}

// ClearConversation starts a fresh conversation in the caller's session.
func (h *Handler) ClearConversation(c *gin.Context) {
	sess := h.Sessions.Get(sessionKey(c.Param("key")))
	if err := sess.Clear(); err != nil {
		fail(c, http.StatusConflict, 40901, "session not accepting input")
		return
	}
	ok(c, nil)
}

// CloseSession cancels any live stream and discards the session.
func (h *Handler) CloseSession(c *gin.Context) {
	h.Sessions.Close(sessionKey(c.Param("key")))
	ok(c, nil)
}
