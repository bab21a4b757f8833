package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/davitg0407/daypay-project/chat"
	"github.com/davitg0407/daypay-project/config"
	"github.com/davitg0407/daypay-project/store"
	"github.com/davitg0407/daypay-project/testutil"
)

func TestIPRateLimiterWindow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rl := newIPRateLimiter(ctx, &rateLimiterConfig{enabled: true, requestsPerIP: 3, window: 50 * time.Millisecond})

	for i := 0; i < 3; i++ {
		if !rl.allow(ctx, "10.0.0.1") {
			t.Fatalf("request %d denied", i)
		}
	}
	if rl.allow(ctx, "10.0.0.1") {
		t.Error("fourth request allowed")
	}
	if !rl.allow(ctx, "10.0.0.2") {
		t.Error("other ip should have its own budget")
	}

	time.Sleep(80 * time.Millisecond)
	if !rl.allow(ctx, "10.0.0.1") {
		t.Error("request after window denied")
	}
}

func TestIPRateLimiterDisabled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rl := newIPRateLimiter(ctx, &rateLimiterConfig{enabled: false, requestsPerIP: 1, window: time.Minute})
	for i := 0; i < 5; i++ {
		if !rl.allow(ctx, "10.0.0.1") {
			t.Fatalf("disabled limiter denied request %d", i)
		}
	}
}

func TestRedisRateLimiter(t *testing.T) {
	url := testutil.RedisURL(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rl, err := newRedisRateLimiter(ctx, url, &rateLimiterConfig{enabled: true, requestsPerIP: 2, window: time.Minute})
	if err != nil {
		t.Fatalf("newRedisRateLimiter: %v", err)
	}
	ip := fmt.Sprintf("test-%d", time.Now().UnixNano())
	defer rl.client.Del(context.Background(), rl.prefix+ip)

	if !rl.allow(ctx, ip) || !rl.allow(ctx, ip) {
		t.Fatal("first two requests should pass")
	}
	if rl.allow(ctx, ip) {
		t.Error("third request allowed")
	}
}

func TestNewRedisRateLimiterBadURL(t *testing.T) {
	_, err := newRedisRateLimiter(context.Background(), "not a url", &rateLimiterConfig{enabled: true})
	if err == nil {
		t.Fatal("expected error for malformed url")
	}
}

func TestRedisBackendFallsBackToMemory(t *testing.T) {
	h, _ := newTestMux(t, func(c *config.Config) {
		c.RateLimitBackend = config.BackendRedis
		c.RedisURL = "redis://127.0.0.1:1/0"
		c.RateLimitRequestsPerIP = 1
	})
	if rec := doRequest(t, h, http.MethodPost, "/jobs/j/chat/bob", "alice", `{"content":"one"}`); rec.Code != http.StatusCreated {
		t.Fatalf("first send = %d", rec.Code)
	}
	if rec := doRequest(t, h, http.MethodPost, "/jobs/j/chat/bob", "alice", `{"content":"two"}`); rec.Code != http.StatusTooManyRequests {
		t.Errorf("second send = %d, want 429 from the memory limiter", rec.Code)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		want       string
	}{
		{"remote with port", "192.0.2.1:4321", "", "192.0.2.1"},
		{"ipv6 remote", "[2001:db8::1]:443", "", "2001:db8::1"},
		{"forwarded single", "10.0.0.1:1", "203.0.113.7", "203.0.113.7"},
		{"forwarded chain", "10.0.0.1:1", "203.0.113.7, 10.0.0.2", "203.0.113.7"},
		{"no port", "192.0.2.9", "", "192.0.2.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if got := clientIP(req); got != tt.want {
				t.Errorf("clientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	t.Run("permissive preflight", func(t *testing.T) {
		h, _ := newTestMux(t, nil)
		req := httptest.NewRequest(http.MethodOptions, "/jobs/j/chat/bob", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Errorf("preflight status = %d", rec.Code)
		}
		if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
			t.Errorf("allow origin = %q", rec.Header().Get("Access-Control-Allow-Origin"))
		}
	})

	t.Run("restricted", func(t *testing.T) {
		h, _ := newTestMux(t, func(c *config.Config) {
			c.CORSPermissive = false
			c.CORSAllowedOrigins = []string{"https://app.example.com", "*.daypay.test"}
		})
		cases := map[string]bool{
			"https://app.example.com":  true,
			"https://web.daypay.test":  true,
			"https://evil.example.com": false,
		}
		for origin, allowed := range cases {
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			req.Header.Set("Origin", origin)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			got := rec.Header().Get("Access-Control-Allow-Origin") == origin
			if got != allowed {
				t.Errorf("origin %s allowed = %v, want %v", origin, got, allowed)
			}
		}
	})
}

func TestCheckOrigin(t *testing.T) {
	c := &corsConfig{allowedOrigins: []string{"https://app.example.com"}}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if !c.checkOrigin(req) {
		t.Error("request without Origin should pass")
	}
	req.Header.Set("Origin", "https://other.example.com")
	if c.checkOrigin(req) {
		t.Error("foreign origin should be rejected")
	}
	c.permissive = true
	if !c.checkOrigin(req) {
		t.Error("permissive config should accept any origin")
	}
}

func TestParseChatPath(t *testing.T) {
	tests := []struct {
		path string
		want chatRoute
		ok   bool
	}{
		{"/jobs/j1/chat/bob", chatRoute{jobID: "j1", peerID: "bob"}, true},
		{"/jobs/j1/chat/bob/", chatRoute{jobID: "j1", peerID: "bob"}, true},
		{"/jobs/j1/chat/bob/stream", chatRoute{jobID: "j1", peerID: "bob", action: "stream"}, true},
		{"/jobs/j1/chat/bob/ws", chatRoute{jobID: "j1", peerID: "bob", action: "ws"}, true},
		{"/jobs/j1/chat/bob/other", chatRoute{}, false},
		{"/jobs/j1/chat", chatRoute{}, false},
		{"/jobs/j1/messages/bob", chatRoute{}, false},
		{"/jobs//chat/bob", chatRoute{}, false},
		{"/conversations", chatRoute{}, false},
	}
	for _, tt := range tests {
		got, ok := parseChatPath(tt.path)
		if ok != tt.ok || got != tt.want {
			t.Errorf("parseChatPath(%q) = %+v, %v; want %+v, %v", tt.path, got, ok, tt.want, tt.ok)
		}
	}
}

func TestSendErrorStatus(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{chat.ErrEmptyMessage, http.StatusBadRequest, "empty_message"},
		{chat.ErrInvalidConversation, http.StatusBadRequest, "invalid_conversation"},
		{&chat.SendError{Err: store.ErrInvalidMessage}, http.StatusBadRequest, "invalid_conversation"},
		{chat.ErrClosed, http.StatusGone, "closed"},
		{&chat.SendError{Err: errors.New("conn refused")}, http.StatusBadGateway, "store_unavailable"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		status, code := sendErrorStatus(tt.err)
		if status != tt.wantStatus || code != tt.wantCode {
			t.Errorf("sendErrorStatus(%v) = %d %s, want %d %s", tt.err, status, code, tt.wantStatus, tt.wantCode)
		}
	}
}
