// Package server exposes the HTTP API handlers.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/davitg0407/daypay-project/chat"
	"github.com/davitg0407/daypay-project/config"
	"github.com/davitg0407/daypay-project/store"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	store        store.Store
	// ctx ends with the server; live views close when it does.
	ctx          context.Context
	limiter      *chat.Limiter
	slotWait     time.Duration
	rateLimiter  RateLimiter
	cors         *corsConfig
	streamBuffer int
	inboxLimit   int
	storeBackend string
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(ctx context.Context, st store.Store, cfg *config.Config, rl RateLimiter) *Handlers {
	return &Handlers{
		store:        st,
		ctx:          ctx,
		limiter:      chat.NewLimiter(cfg.MaxOpenConversations),
		slotWait:     defaultSlotWait,
		rateLimiter:  rl,
		cors:         corsConfigFrom(cfg),
		streamBuffer: cfg.StreamBuffer,
		inboxLimit:   cfg.InboxLimit,
		storeBackend: cfg.StoreBackend,
	}
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes {"error": msg} with the given status.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
