package ai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func sparkSettings(srvURL string) Settings {
	return Settings{
		Spark: SparkSettings{
			URL:       "ws" + strings.TrimPrefix(srvURL, "http"),
			AppID:     "app",
			APIKey:    "key",
			APISecret: "secret",
		},
	}
}

func sparkServer(t *testing.T, handler func(conn *websocket.Conn, req sparkChatRequest)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" || r.Header.Get("Date") == "" {
			t.Errorf("handshake missing signed headers")
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		var req sparkChatRequest
		if err := conn.ReadJSON(&req); err != nil {
			t.Errorf("read request: %v", err)
			return
		}
		handler(conn, req)
	}))
}

func TestSpark_ContentFramesUntilEndFrame(t *testing.T) {
	srv := sparkServer(t, func(conn *websocket.Conn, req sparkChatRequest) {
		if req.AppID != "app" {
			t.Errorf("unexpected app id %q", req.AppID)
		}
		if len(req.Messages) != 1 || req.Messages[0].Content != "hi" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		_ = conn.WriteJSON(sparkFrame{Content: "He"})
		_ = conn.WriteJSON(sparkFrame{Content: "llo"})
		_ = conn.WriteJSON(sparkFrame{Done: true})
	})
	defer srv.Close()

	ch, err := OpenChannel(context.Background(), ProviderSpark, []Message{{Role: "user", Content: "hi"}}, sparkSettings(srv.URL))
	if err != nil {
		t.Fatalf("open channel: %v", err)
	}
	col := newCollector()
	ch.Subscribe(col.fn)

	if final := col.wait(t); final != "Hello" {
		t.Fatalf("unexpected final text: %q", final)
	}
	if !ch.Success() {
		t.Fatalf("expected success after end frame")
	}
}

func TestSpark_ErrorFrameFailsWithPartialText(t *testing.T) {
	srv := sparkServer(t, func(conn *websocket.Conn, req sparkChatRequest) {
		_ = conn.WriteJSON(sparkFrame{Content: "partial "})
		_ = conn.WriteJSON(sparkFrame{Error: "quota exceeded"})
	})
	defer srv.Close()

	ch, err := OpenChannel(context.Background(), ProviderSpark, []Message{{Role: "user", Content: "hi"}}, sparkSettings(srv.URL))
	if err != nil {
		t.Fatalf("open channel: %v", err)
	}
	col := newCollector()
	ch.Subscribe(col.fn)

	if final := col.wait(t); final != "partial quota exceeded" {
		t.Fatalf("expected partial text plus error, got %q", final)
	}
	if ch.Success() {
		t.Fatalf("expected failure")
	}
}

func TestSpark_CancelClosesSocket(t *testing.T) {
	closed := make(chan struct{})
	srv := sparkServer(t, func(conn *websocket.Conn, req sparkChatRequest) {
		_ = conn.WriteJSON(sparkFrame{Content: "before cancel"})
		// Block until the client side closes the socket.
		var next sparkChatRequest
		_ = conn.ReadJSON(&next)
		close(closed)
	})
	defer srv.Close()

	ch, err := OpenChannel(context.Background(), ProviderSpark, []Message{{Role: "user", Content: "hi"}}, sparkSettings(srv.URL))
	if err != nil {
		t.Fatalf("open channel: %v", err)
	}
	col := newCollector()
	ch.Subscribe(col.fn)

	deadline := time.Now().Add(2 * time.Second)
	for len(col.snapshots()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("no snapshot arrived")
		}
		time.Sleep(5 * time.Millisecond)
	}

	ch.Cancel()
	ch.Cancel()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("server never observed the socket close")
	}
	select {
	case <-col.done:
		t.Fatalf("terminal callback after Cancel returned")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSpark_DialFailureSurfacesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	ch, err := OpenChannel(context.Background(), ProviderSpark, []Message{{Role: "user", Content: "hi"}}, sparkSettings(srv.URL))
	if err != nil {
		t.Fatalf("open channel: %v", err)
	}
	col := newCollector()
	ch.Subscribe(col.fn)

	final := col.wait(t)
	if !strings.Contains(final, "403") {
		t.Fatalf("expected status in failure text, got %q", final)
	}
	if ch.Success() {
		t.Fatalf("expected failure")
	}
}
