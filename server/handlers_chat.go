package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/davitg0407/daypay-project/chat"
	"github.com/davitg0407/daypay-project/models"
	"github.com/davitg0407/daypay-project/telemetry"
)

// maxSendBody caps a send request body.
const maxSendBody = 16 << 10

// HandleJobsDispatcher routes /jobs/{job}/chat/{peer} and its /stream and /ws children.
func (h *Handlers) HandleJobsDispatcher(w http.ResponseWriter, r *http.Request) {
	rt, ok := parseChatPath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	me := participantID(r)
	if me == "" {
		writeError(w, http.StatusUnauthorized, "missing "+ParticipantHeader)
		return
	}
	conv := models.Conversation{JobID: rt.jobID, Local: me, Counterpart: rt.peerID}
	if conv.Local == conv.Counterpart {
		writeError(w, http.StatusBadRequest, "cannot chat with yourself")
		return
	}

	switch rt.action {
	case "stream":
		h.handleChatStream(w, r, conv)
	case "ws":
		h.handleChatWS(w, r, conv)
	default:
		switch r.Method {
		case http.MethodGet:
			h.handleChatHistory(w, r, conv)
		case http.MethodPost:
			h.handleChatSend(w, r, conv)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

// handleChatHistory returns the conversation, oldest first.
func (h *Handlers) handleChatHistory(w http.ResponseWriter, r *http.Request, conv models.Conversation) {
	msgs, err := h.store.ListConversation(r.Context(), conv)
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("history query failed",
			slog.String("component", "http"),
			slog.String("job_id", conv.JobID),
			slog.Any("err", err))
		writeError(w, http.StatusBadGateway, "history unavailable")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

type sendRequest struct {
	Content string `json:"content"`
}

// handleChatSend stores one message. The response carries the stored row; open views
// receive it through their subscriptions.
func (h *Handlers) handleChatSend(w http.ResponseWriter, r *http.Request, conv models.Conversation) {
	var req sendRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxSendBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	m, err := chat.Send(r.Context(), h.store, conv, req.Content)
	if err != nil {
		status, code := sendErrorStatus(err)
		if status >= 500 {
			telemetry.LoggerWithCorr(r.Context()).Error("send failed",
				slog.String("component", "http"),
				slog.String("job_id", conv.JobID),
				slog.Any("err", err))
		}
		writeJSON(w, status, map[string]string{"error": code})
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// writeOpenError maps a failure to open a live view to a response.
func writeOpenError(w http.ResponseWriter, err error) {
	var subErr *chat.SubscriptionError
	switch {
	case errors.Is(err, errAtCapacity), errors.Is(err, errShuttingDown):
		w.Header().Set("Retry-After", "5")
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, chat.ErrInvalidConversation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &subErr):
		writeError(w, http.StatusBadGateway, "live updates unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "could not open conversation")
	}
}
