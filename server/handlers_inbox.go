package server

import (
	"log/slog"
	"net/http"

	"github.com/davitg0407/daypay-project/chat"
	"github.com/davitg0407/daypay-project/telemetry"
)

// HandleInbox lists the caller's conversations, latest activity first.
// Optional query: limit (messages scanned, capped at the configured inbox limit).
func (h *Handlers) HandleInbox(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	me := participantID(r)
	if me == "" {
		writeError(w, http.StatusUnauthorized, "missing "+ParticipantHeader)
		return
	}
	limit := parseIntQuery(r, "limit", h.inboxLimit)
	if limit <= 0 || limit > h.inboxLimit {
		limit = h.inboxLimit
	}
	msgs, err := h.store.ListByParticipant(r.Context(), me, limit)
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("inbox query failed",
			slog.String("component", "http"), slog.Any("err", err))
		writeError(w, http.StatusBadGateway, "inbox unavailable")
		return
	}
	writeJSON(w, http.StatusOK, chat.Inbox(msgs, me))
}
