package server

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/davitg0407/daypay-project/config"
)

func dialConversation(t *testing.T, baseURL, path, participant string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(baseURL, "http") + path
	header := http.Header{}
	header.Set(ParticipantHeader, participant)
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial %s: %v (status %d)", path, err, status)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) outboundFrame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var f outboundFrame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func TestWebsocketRoundTrip(t *testing.T) {
	h, _ := newTestMux(t, nil)
	srv := startServer(t, h)

	doRequest(t, h, http.MethodPost, "/jobs/j1/chat/bob", "alice", `{"content":"earlier"}`)

	alice := dialConversation(t, srv.URL, "/jobs/j1/chat/bob/ws", "alice")
	snap := readFrame(t, alice)
	if snap.Type != frameSnapshot || len(snap.Messages) != 1 || snap.Messages[0].Content != "earlier" {
		t.Fatalf("snapshot = %+v", snap)
	}

	bob := dialConversation(t, srv.URL, "/jobs/j1/chat/alice/ws", "bob")
	if f := readFrame(t, bob); f.Type != frameSnapshot || len(f.Messages) != 1 {
		t.Fatalf("bob snapshot = %+v", f)
	}

	if err := alice.WriteJSON(inboundFrame{Type: frameSend, Content: "  over the wire "}); err != nil {
		t.Fatalf("write: %v", err)
	}

	// the sender sees its own message only through the subscription echo
	for name, conn := range map[string]*websocket.Conn{"alice": alice, "bob": bob} {
		f := readFrame(t, conn)
		if f.Type != frameMessage || f.Message == nil || f.Message.Content != "over the wire" {
			t.Errorf("%s frame = %+v", name, f)
		}
	}
}

func TestWebsocketFrameErrors(t *testing.T) {
	h, st := newTestMux(t, nil)
	srv := startServer(t, h)

	conn := dialConversation(t, srv.URL, "/jobs/j1/chat/bob/ws", "alice")
	readFrame(t, conn)

	tests := []struct {
		name    string
		payload string
		code    string
	}{
		{"whitespace send", `{"type":"send","content":"   "}`, "empty_message"},
		{"unknown type", `{"type":"typing"}`, "unsupported_type"},
		{"malformed", `{"type":`, "bad_request"},
	}
	for _, tt := range tests {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(tt.payload)); err != nil {
			t.Fatalf("%s: write: %v", tt.name, err)
		}
		f := readFrame(t, conn)
		if f.Type != frameError || f.Code != tt.code {
			t.Errorf("%s: frame = %+v, want error %s", tt.name, f, tt.code)
		}
	}
	if n := st.Inserts(); n != 0 {
		t.Errorf("inserts = %d, want 0", n)
	}
}

func TestWebsocketSendRateLimited(t *testing.T) {
	h, _ := newTestMux(t, func(c *config.Config) { c.RateLimitRequestsPerIP = 1 })
	srv := startServer(t, h)

	conn := dialConversation(t, srv.URL, "/jobs/j1/chat/bob/ws", "alice")
	readFrame(t, conn)

	_ = conn.WriteJSON(inboundFrame{Type: frameSend, Content: "one"})
	if f := readFrame(t, conn); f.Type != frameMessage {
		t.Fatalf("first send frame = %+v", f)
	}
	_ = conn.WriteJSON(inboundFrame{Type: frameSend, Content: "two"})
	if f := readFrame(t, conn); f.Type != frameError || f.Code != "rate_limited" {
		t.Errorf("second send frame = %+v", f)
	}
}

func TestWebsocketRejectedBeforeUpgrade(t *testing.T) {
	h, _ := newTestMux(t, func(c *config.Config) { c.MaxOpenConversations = 1 })
	srv := startServer(t, h)

	dialConversation(t, srv.URL, "/jobs/j1/chat/bob/ws", "alice")

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/jobs/j1/chat/alice/ws"
	header := http.Header{}
	header.Set(ParticipantHeader, "bob")
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("expected dial to fail at capacity")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("response = %v, want 503", resp)
	}
}

func TestWebsocketOriginCheck(t *testing.T) {
	h, _ := newTestMux(t, func(c *config.Config) {
		c.CORSPermissive = false
		c.CORSAllowedOrigins = []string{"https://app.example.com"}
	})
	srv := startServer(t, h)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/jobs/j1/chat/bob/ws"
	header := http.Header{}
	header.Set(ParticipantHeader, "alice")
	header.Set("Origin", "https://evil.example.com")
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("expected foreign origin to be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("response = %v, want 403", resp)
	}
}

func TestWebsocketClosedOnServerShutdown(t *testing.T) {
	serverCtx, shutdown := context.WithCancel(context.Background())
	defer shutdown()
	h, st := newTestMuxContext(t, serverCtx, nil)
	srv := startServer(t, h)

	conn := dialConversation(t, srv.URL, "/jobs/j1/chat/bob/ws", "alice")
	readFrame(t, conn)

	shutdown()

	if f := readFrame(t, conn); f.Type != frameError || f.Code != "shutting_down" {
		t.Errorf("frame = %+v, want shutting_down error", f)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("read after shutdown = %v, want going-away close", err)
	}
	waitNoSubscribers(t, st, "j1")
}
