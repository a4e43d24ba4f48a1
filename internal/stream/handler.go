package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Alexander-D-Karpov/huddle/internal/auth/interceptor"
	apperrors "github.com/Alexander-D-Karpov/huddle/internal/common/errors"
	"github.com/Alexander-D-Karpov/huddle/internal/common/config"
	"github.com/Alexander-D-Karpov/huddle/internal/common/logging"
	"github.com/Alexander-D-Karpov/huddle/internal/events"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	opSubscribe   = "subscribe"
	opUnsubscribe = "unsubscribe"
	opPing        = "ping"
)

// clientFrame is a control frame sent by the client. Events only flow from
// server to client.
type clientFrame struct {
	Op        string `json:"op"`
	ChannelID string `json:"channelId,omitempty"`
	Ref       string `json:"ref,omitempty"`
}

type serverFrame struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId,omitempty"`
	Op           string `json:"op,omitempty"`
	ChannelID    string `json:"channelId,omitempty"`
	Ref          string `json:"ref,omitempty"`
	Error        string `json:"error,omitempty"`
	Message      string `json:"message,omitempty"`
}

// Handler upgrades authenticated requests to WebSocket connections attached
// to the event hub.
type Handler struct {
	hub            *events.Hub
	cfg            config.FanoutConfig
	allowedOrigins map[string]bool
	upgrader       websocket.Upgrader
}

func NewHandler(hub *events.Hub, cfg config.FanoutConfig, allowedOrigins []string) *Handler {
	h := &Handler{
		hub:            hub,
		cfg:            cfg,
		allowedOrigins: make(map[string]bool, len(allowedOrigins)),
	}
	for _, o := range allowedOrigins {
		h.allowedOrigins[o] = true
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin allows requests without an Origin header, and any origin when
// no allow-list is configured.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.allowedOrigins) == 0 {
		return true
	}
	return h.allowedOrigins[origin]
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, ok := interceptor.UserID(r.Context())
	if !ok {
		apperrors.WriteHTTP(w, apperrors.Unauthorized("user not authenticated"))
		return
	}

	client, err := h.hub.Connect(userID)
	if err != nil {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.Disconnect(client, nil)
		logging.FromContext(r.Context()).Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	logger := h.hub.Logger().With(
		zap.String("conn_id", client.ID),
		zap.String("user_id", userID.String()),
	)

	client.Reply(encode(serverFrame{Type: "hello", ConnectionID: client.ID}))

	go h.writePump(conn, client, logger)
	h.readPump(context.WithoutCancel(r.Context()), conn, client, logger)
}

// readPump handles control frames until the socket fails or the connection is
// dropped by the hub. It owns no socket writes; replies go through the
// client's queue.
func (h *Handler) readPump(ctx context.Context, conn *websocket.Conn, c *events.Client, logger *zap.Logger) {
	conn.SetReadLimit(h.cfg.MaxFrame)
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var reason error
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				reason = err
			}
			h.hub.Disconnect(c, reason)
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.Reply(encode(serverFrame{Type: "error", Error: "bad_request", Message: "malformed frame"}))
			continue
		}

		h.handleFrame(ctx, c, frame, logger)
	}
}

func (h *Handler) handleFrame(ctx context.Context, c *events.Client, frame clientFrame, logger *zap.Logger) {
	reply := serverFrame{Type: "ack", Op: frame.Op, ChannelID: frame.ChannelID, Ref: frame.Ref}

	switch frame.Op {
	case opPing:
		reply = serverFrame{Type: "pong", Ref: frame.Ref}

	case opSubscribe, opUnsubscribe:
		channelID, err := uuid.Parse(frame.ChannelID)
		if err != nil {
			c.Reply(encodeError(frame, apperrors.BadRequest("invalid channel id")))
			return
		}
		if frame.Op == opUnsubscribe {
			h.hub.Unsubscribe(c, channelID)
			break
		}
		if err := h.hub.Subscribe(ctx, c, channelID); err != nil {
			logger.Debug("subscribe rejected",
				zap.String("channel_id", channelID.String()),
				zap.Error(err),
			)
			c.Reply(encodeError(frame, err))
			return
		}

	default:
		c.Reply(encodeError(frame, apperrors.BadRequest("unknown op")))
		return
	}

	c.Reply(encode(reply))
}

// writePump is the only writer on the socket. It exits and closes the socket
// once the hub drops the connection, telling the peer why.
func (h *Handler) writePump(conn *websocket.Conn, c *events.Client, logger *zap.Logger) {
	ticker := time.NewTicker(h.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case frame := <-c.Send():
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.hub.Disconnect(c, err)
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.hub.Disconnect(c, err)
				return
			}

		case <-c.Done():
			code, text := closeStatus(c.Err())
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, text),
				time.Now().Add(h.cfg.WriteWait),
			)
			logger.Debug("websocket closed", zap.Int("code", code))
			return
		}
	}
}

func closeStatus(reason error) (int, string) {
	switch {
	case errors.Is(reason, events.ErrSlowConsumer):
		return websocket.ClosePolicyViolation, "slow consumer"
	case errors.Is(reason, events.ErrHubShutdown):
		return websocket.CloseGoingAway, "server shutting down"
	default:
		return websocket.CloseNormalClosure, ""
	}
}

func encodeError(frame clientFrame, err error) []byte {
	msg := "request failed"
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		msg = appErr.Message
	} else if err != nil {
		msg = err.Error()
	}

	kind := "bad_request"
	switch {
	case apperrors.IsForbidden(err):
		kind = "forbidden"
	case errors.Is(err, events.ErrClientClosed):
		kind = "closed"
	}

	return encode(serverFrame{
		Type:      "error",
		Op:        frame.Op,
		ChannelID: frame.ChannelID,
		Ref:       frame.Ref,
		Error:     kind,
		Message:   msg,
	})
}

func encode(frame serverFrame) []byte {
	data, _ := json.Marshal(frame)
	return data
}
