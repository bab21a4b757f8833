package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/davitg0407/daypay-project/models"
	"github.com/davitg0407/daypay-project/telemetry"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
	maxFrameSize = 16 << 10
)

// Frame types exchanged over the conversation websocket.
const (
	frameSnapshot = "snapshot"
	frameMessage  = "message"
	frameError    = "error"
	frameSend     = "send"
)

type outboundFrame struct {
	Type               string           `json:"type"`
	Messages           []models.Message `json:"messages,omitempty"`
	Message            *models.Message  `json:"message,omitempty"`
	HistoryUnavailable bool             `json:"history_unavailable,omitempty"`
	Code               string           `json:"code,omitempty"`
	Error              string           `json:"error,omitempty"`
}

type inboundFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// wsConn serializes writes to one websocket through a buffered channel. A client
// whose buffer fills is disconnected.
type wsConn struct {
	ws      *websocket.Conn
	send    chan []byte
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
	code    int
	reason  string
}

func newWSConn(ws *websocket.Conn, buffer int) *wsConn {
	if buffer <= 0 {
		buffer = 1
	}
	return &wsConn{
		ws:      ws,
		send:    make(chan []byte, buffer),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// sendFrame enqueues a frame. It returns false once the connection is shutting down.
func (c *wsConn) sendFrame(f outboundFrame) bool {
	payload, err := json.Marshal(f)
	if err != nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		c.shutdown(websocket.CloseGoingAway, "send buffer full")
		return false
	}
}

// shutdown asks the write loop to flush queued frames, send a close frame and close
// the socket. Only the first call's code and reason are used.
func (c *wsConn) shutdown(code int, reason string) {
	c.once.Do(func() {
		c.code, c.reason = code, reason
		close(c.done)
	})
}

// finish shuts down and waits for the write loop to exit.
func (c *wsConn) finish(code int, reason string) {
	c.shutdown(code, reason)
	<-c.stopped
}

func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(c.code, c.reason), time.Now().Add(writeWait))
		_ = c.ws.Close()
		close(c.stopped)
	}()

	for {
		select {
		case <-c.done:
			for {
				select {
				case msg := <-c.send:
					if err := c.write(websocket.TextMessage, msg); err != nil {
						return
					}
				default:
					return
				}
			}
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.shutdown(websocket.CloseGoingAway, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.shutdown(websocket.CloseGoingAway, "ping failed")
				return
			}
		}
	}
}

func (c *wsConn) write(kind int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(kind, payload)
}

// handleChatWS serves the conversation over a websocket. The server sends one
// snapshot frame, then a message frame per accepted push; clients send
// {"type":"send","content":...} frames.
func (h *Handlers) handleChatWS(w http.ResponseWriter, r *http.Request, conv models.Conversation) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	log := telemetry.LoggerWithCorr(ctx).With(
		slog.String("component", "ws"),
		slog.String("job_id", conv.JobID),
		slog.String("participant_id", conv.Local))

	// Open before upgrading so capacity and subscription failures are plain HTTP errors.
	v, err := h.openLive(ctx, conv)
	if err != nil {
		if ctx.Err() == nil {
			writeOpenError(w, err)
		}
		return
	}
	defer v.Close()

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.cors.checkOrigin,
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		log.Debug("websocket upgrade failed", slog.Any("err", err))
		return
	}

	conn := newWSConn(ws, h.streamBuffer)
	go conn.writeLoop()
	defer conn.finish(websocket.CloseNormalClosure, "")

	conn.sendFrame(outboundFrame{Type: frameSnapshot, Messages: v.snapshot, HistoryUnavailable: v.fetchFail})

	go func() {
		for {
			select {
			case <-conn.done:
				return
			case <-h.ctx.Done():
				conn.sendFrame(outboundFrame{Type: frameError, Code: "shutting_down", Error: "server shutting down; reconnect"})
				conn.shutdown(websocket.CloseGoingAway, "server shutting down")
				return
			case m := <-v.events:
				if !v.fresh(m) {
					continue
				}
				if !conn.sendFrame(outboundFrame{Type: frameMessage, Message: &m}) {
					return
				}
			case <-v.overflow:
				conn.sendFrame(outboundFrame{Type: frameError, Code: "overflow", Error: "client too slow; reconnect"})
				conn.shutdown(websocket.CloseTryAgainLater, "overflow")
				return
			case err := <-v.lost:
				conn.sendFrame(outboundFrame{Type: frameError, Code: "subscription_lost", Error: err.Error()})
				conn.shutdown(websocket.CloseInternalServerErr, "subscription lost")
				return
			}
		}
	}()

	ws.SetReadLimit(maxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	ip := clientIP(r)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("websocket read ended", slog.Any("err", err))
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))

		var in inboundFrame
		if err := json.Unmarshal(data, &in); err != nil {
			conn.sendFrame(outboundFrame{Type: frameError, Code: "bad_request", Error: "invalid JSON frame"})
			continue
		}
		switch in.Type {
		case frameSend:
			if !h.rateLimiter.allow(ctx, ip) {
				conn.sendFrame(outboundFrame{Type: frameError, Code: "rate_limited", Error: "rate limit exceeded"})
				continue
			}
			if _, err := v.syncer.Send(ctx, in.Content); err != nil {
				status, code := sendErrorStatus(err)
				if status >= http.StatusInternalServerError {
					log.Error("websocket send failed", slog.Any("err", err))
				}
				conn.sendFrame(outboundFrame{Type: frameError, Code: code, Error: err.Error()})
				if ctx.Err() != nil {
					return
				}
			}
		default:
			conn.sendFrame(outboundFrame{Type: frameError, Code: "unsupported_type", Error: "unknown frame type " + in.Type})
		}
	}
}
