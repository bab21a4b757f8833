package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/davitg0407/daypay-project/chat"
	"github.com/davitg0407/daypay-project/store"
)

// parseIntQuery extracts an int parameter from query string with a default value.
func parseIntQuery(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// chatRoute is a parsed /jobs/{job}/chat/{peer}[/{action}] path.
type chatRoute struct {
	jobID  string
	peerID string
	action string // "", "stream" or "ws"
}

// parseChatPath splits a /jobs/ path. ok is false for anything that is not a chat route.
func parseChatPath(path string) (chatRoute, bool) {
	rest := strings.TrimPrefix(path, "/jobs/")
	if rest == path {
		return chatRoute{}, false
	}
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) < 3 || len(parts) > 4 || parts[1] != "chat" || parts[0] == "" || parts[2] == "" {
		return chatRoute{}, false
	}
	rt := chatRoute{jobID: parts[0], peerID: parts[2]}
	if len(parts) == 4 {
		switch parts[3] {
		case "stream", "ws":
			rt.action = parts[3]
		default:
			return chatRoute{}, false
		}
	}
	return rt, true
}

// sendErrorStatus maps a send failure to an HTTP status and a stable error code.
func sendErrorStatus(err error) (int, string) {
	var sendErr *chat.SendError
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		return http.StatusBadRequest, "empty_message"
	case errors.Is(err, chat.ErrInvalidConversation), errors.Is(err, store.ErrInvalidMessage):
		return http.StatusBadRequest, "invalid_conversation"
	case errors.Is(err, chat.ErrClosed):
		return http.StatusGone, "closed"
	case errors.As(err, &sendErr):
		return http.StatusBadGateway, "store_unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
