package ai

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// sparkChannel streams a Spark-style chat completion over a WebSocket. The
// server pushes content frames until an explicit end frame (success) or an
// error frame (failure); there is no sentinel string. Cancel closes the
// socket itself.
type sparkChannel struct {
	*streamState

	cancel context.CancelFunc

	connMu sync.Mutex
	conn   *websocket.Conn
}

type sparkChatRequest struct {
	AppID       string    `json:"app_id"`
	Temperature float32   `json:"temperature,omitempty"`
	Messages    []Message `json:"messages"`
}

// sparkFrame is one server push. Exactly one of content/done/error is
// meaningful per frame.
type sparkFrame struct {
	Content string `json:"content,omitempty"`
	Done    bool   `json:"done,omitempty"`
	Error   string `json:"error,omitempty"`
}

func openSparkChannel(ctx context.Context, provider ProviderID, messages []Message, set SparkSettings) *sparkChannel {
	ctx, cancel := context.WithCancel(ctx)
	c := &sparkChannel{
		streamState: newStreamState(RoleAssistant, provider),
		cancel:      cancel,
	}
	go c.run(ctx, messages, set)
	return c
}

func (c *sparkChannel) Cancel() {
	// Suppress deliveries before tearing down the transport; closing the
	// socket first would let the reader's error path fire a terminal
	// callback mid-cancel.
	c.markCancelled()
	c.cancel()
	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.connMu.Unlock()
}

// signedHandshakeHeader builds the HMAC-SHA256 authorization header the
// Spark gateway expects on the WebSocket handshake. Malformed URLs are left
// unsigned; the dial will surface the real error.
func signedHandshakeHeader(set SparkSettings) http.Header {
	header := http.Header{}
	u, err := url.Parse(set.URL)
	if err != nil {
		return header
	}

	date := time.Now().UTC().Format(http.TimeFormat)
	origin := fmt.Sprintf("host: %s\ndate: %s\nGET %s HTTP/1.1", u.Host, date, u.Path)

	mac := hmac.New(sha256.New, []byte(set.APISecret))
	mac.Write([]byte(origin))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	auth := fmt.Sprintf(
		`api_key="%s", algorithm="hmac-sha256", headers="host date request-line", signature="%s"`,
		set.APIKey, signature,
	)
	header.Set("Authorization", base64.StdEncoding.EncodeToString([]byte(auth)))
	header.Set("Date", date)
	header.Set("Host", u.Host)
	return header
}

func (c *sparkChannel) run(ctx context.Context, messages []Message, set SparkSettings) {
	header := signedHandshakeHeader(set)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, set.URL, header)
	if err != nil {
		msg := err.Error()
		if resp != nil {
			msg = resp.Status + ": " + msg
		}
		c.fail(msg)
		return
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	defer conn.Close()

	if err := conn.WriteJSON(sparkChatRequest{
		AppID:       set.AppID,
		Temperature: set.Temperature,
		Messages:    messages,
	}); err != nil {
		c.fail(err.Error())
		return
	}

	for {
		var frame sparkFrame
		if err := conn.ReadJSON(&frame); err != nil {
			// Normal closure after the end frame is handled below; any
			// read error still mid-stream is a transport failure.
			c.fail(err.Error())
			return
		}

		if frame.Error != "" {
			c.fail(frame.Error)
			return
		}
		if frame.Content != "" {
			c.append(frame.Content)
			c.emit(false, false)
		}
		if frame.Done {
			c.finish()
			return
		}
	}
}
