package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/davitg0407/daypay-project/chat"
	"github.com/davitg0407/daypay-project/models"
	"github.com/davitg0407/daypay-project/telemetry"
)

var (
	errAtCapacity   = errors.New("too many open conversations")
	errShuttingDown = errors.New("server shutting down")
)

// defaultSlotWait bounds how long a new live view queues for a free slot.
const defaultSlotWait = 250 * time.Millisecond

const keepAliveInterval = 25 * time.Second

// liveView is an open conversation whose accepted pushes are buffered for one client.
// A client that falls a full buffer behind is disconnected rather than slowing the feed.
type liveView struct {
	syncer     *chat.Synchronizer
	snapshot   []models.Message
	inSnapshot map[string]struct{}
	fetchFail  bool

	events   chan models.Message
	overflow chan struct{}
	lost     chan error

	overflowOnce sync.Once
	lostOnce     sync.Once
	release      func()
}

func (h *Handlers) openLive(ctx context.Context, conv models.Conversation) (*liveView, error) {
	if h.ctx.Err() != nil {
		return nil, errShuttingDown
	}
	waitCtx, cancel := context.WithTimeout(ctx, h.slotWait)
	acquired := h.limiter.Acquire(waitCtx)
	cancel()
	if !acquired {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errAtCapacity
	}
	v := &liveView{
		events:   make(chan models.Message, h.streamBuffer),
		overflow: make(chan struct{}),
		lost:     make(chan error, 1),
		release:  h.limiter.Release,
	}
	s, err := chat.New(h.store, conv,
		chat.WithLogger(telemetry.LoggerWithCorr(ctx)),
		chat.WithListener(v.push),
		chat.WithSubscriptionErrorHandler(v.fail))
	if err != nil {
		h.limiter.Release()
		return nil, err
	}
	if err := s.Start(ctx); err != nil {
		_ = s.Close()
		h.limiter.Release()
		return nil, err
	}
	v.syncer = s
	v.snapshot = s.Messages()
	v.fetchFail = s.FetchErr() != nil
	v.inSnapshot = make(map[string]struct{}, len(v.snapshot))
	for _, m := range v.snapshot {
		v.inSnapshot[m.ID] = struct{}{}
	}
	return v, nil
}

// push is the synchronizer listener; it never blocks.
func (v *liveView) push(m models.Message) {
	select {
	case v.events <- m:
	default:
		v.overflowOnce.Do(func() { close(v.overflow) })
	}
}

func (v *liveView) fail(err error) {
	v.lostOnce.Do(func() { v.lost <- err })
}

// fresh reports whether m was not already sent as part of the snapshot.
func (v *liveView) fresh(m models.Message) bool {
	_, dup := v.inSnapshot[m.ID]
	return !dup
}

func (v *liveView) Close() {
	_ = v.syncer.Close()
	v.release()
}

type snapshotPayload struct {
	Messages []models.Message `json:"messages"`
	// HistoryUnavailable is set when the history query failed and Messages is empty
	// for that reason; clients may offer a retry.
	HistoryUnavailable bool `json:"history_unavailable"`
}

type streamError struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// handleChatStream serves the conversation as Server-Sent Events: one snapshot event,
// then a message event per accepted push.
func (h *Handlers) handleChatStream(w http.ResponseWriter, r *http.Request, conv models.Conversation) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ctx := r.Context()
	v, err := h.openLive(ctx, conv)
	if err != nil {
		if ctx.Err() == nil {
			writeOpenError(w, err)
		}
		return
	}
	defer v.Close()

	// Streams outlive the server's write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeSSE(w, "snapshot", snapshotPayload{Messages: v.snapshot, HistoryUnavailable: v.fetchFail}); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.ctx.Done():
			_ = writeSSE(w, "error", streamError{Code: "shutting_down", Error: "server shutting down; reconnect"})
			flusher.Flush()
			return
		case m := <-v.events:
			if !v.fresh(m) {
				continue
			}
			if err := writeSSE(w, "message", m); err != nil {
				return
			}
			flusher.Flush()
		case <-v.overflow:
			_ = writeSSE(w, "error", streamError{Code: "overflow", Error: "client too slow; reconnect"})
			flusher.Flush()
			return
		case err := <-v.lost:
			_ = writeSSE(w, "error", streamError{Code: "subscription_lost", Error: err.Error()})
			flusher.Flush()
			return
		case <-ticker.C:
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSE writes one named event with a JSON data line.
func writeSSE(w io.Writer, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
