package server

import (
	"errors"
	"net/http"
)

// HandleHealthz responds to liveness checks by checking store connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness checks with detailed system checks.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"store", func() error { return h.store.Ping(r.Context()) }},
		{"capacity", func() error {
			if h.limiter.Active() >= h.limiter.Max() {
				return errors.New("open conversation limit reached")
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type statusResponse struct {
	StoreBackend      string `json:"store_backend"`
	OpenConversations int    `json:"open_conversations"`
	MaxConversations  int    `json:"max_conversations"`
	StoreHealthy      bool   `json:"store_healthy"`
}

// HandleStatus reports live-view usage and the configured store.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		StoreBackend:      h.storeBackend,
		OpenConversations: h.limiter.Active(),
		MaxConversations:  h.limiter.Max(),
		StoreHealthy:      h.store.Ping(r.Context()) == nil,
	})
}
