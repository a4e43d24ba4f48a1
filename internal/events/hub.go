package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	apperrors "github.com/Alexander-D-Karpov/huddle/internal/common/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Authorizer re-checks channel membership when a connection subscribes.
type Authorizer interface {
	IsMember(ctx context.Context, userID, channelID uuid.UUID) bool
}

// Relay forwards locally published frames to other instances. Forward must
// not block.
type Relay interface {
	Forward(ctx context.Context, channelID uuid.UUID, eventType string, frame []byte) error
}

type Recorder interface {
	SetConnections(n int)
	RecordDelivery(eventType string, delivered, dropped int)
}

type subscribers struct {
	mu      sync.Mutex
	clients map[string]*Client
}

// Hub keeps the per-channel subscriber sets. The registry lock guards the
// maps; each channel has its own lock held while a frame is queued to its
// subscribers, so every subscriber of a channel sees that channel's frames in
// the same order. Lock order is registry, then channel.
type Hub struct {
	mu       sync.RWMutex
	channels map[uuid.UUID]*subscribers
	clients  map[string]*Client
	shutdown bool

	auth      Authorizer
	relay     Relay
	recorder  Recorder
	queueSize int
	logger    *zap.Logger
}

func NewHub(auth Authorizer, queueSize int, recorder Recorder, logger *zap.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Hub{
		channels:  make(map[uuid.UUID]*subscribers),
		clients:   make(map[string]*Client),
		auth:      auth,
		recorder:  recorder,
		queueSize: queueSize,
		logger:    logger,
	}
}

// SetRelay enables cross-instance delivery. Call before serving traffic.
func (h *Hub) SetRelay(relay Relay) {
	h.relay = relay
}

func (h *Hub) Logger() *zap.Logger {
	return h.logger
}

// Connect registers a new connection in the Connecting state.
func (h *Hub) Connect(userID uuid.UUID) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.shutdown {
		return nil, ErrHubShutdown
	}

	c := newClient(userID, h.queueSize)
	h.clients[c.ID] = c
	h.observeConnections()

	h.logger.Debug("client connected",
		zap.String("conn_id", c.ID),
		zap.String("user_id", userID.String()),
	)
	return c, nil
}

// Subscribe adds c to the channel's subscriber set after checking that its
// user is still a member.
func (h *Hub) Subscribe(ctx context.Context, c *Client, channelID uuid.UUID) error {
	if c.State() == StateDisconnected {
		return ErrClientClosed
	}

	if !h.auth.IsMember(ctx, c.UserID, channelID) {
		return apperrors.Forbidden("not a member of this channel")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c.ID]; !ok {
		return ErrClientUnknown
	}
	if !c.addChannel(channelID) {
		return ErrClientClosed
	}

	subs, ok := h.channels[channelID]
	if !ok {
		subs = &subscribers{clients: make(map[string]*Client)}
		h.channels[channelID] = subs
	}
	subs.mu.Lock()
	subs.clients[c.ID] = c
	subs.mu.Unlock()

	return nil
}

func (h *Hub) Unsubscribe(c *Client, channelID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c.removeChannel(channelID)
	h.detach(c.ID, channelID)
}

// Disconnect removes c from every channel. It is safe to call any number of
// times and from any goroutine, and does not wait for the transport.
func (h *Hub) Disconnect(c *Client, reason error) {
	channels, first := c.markClosed(reason)
	if !first {
		return
	}

	h.mu.Lock()
	for _, id := range channels {
		h.detach(c.ID, id)
	}
	delete(h.clients, c.ID)
	h.observeConnections()
	h.mu.Unlock()

	fields := []zap.Field{
		zap.String("conn_id", c.ID),
		zap.String("user_id", c.UserID.String()),
		zap.Int("channels", len(channels)),
	}
	if reason != nil {
		h.logger.Info("client disconnected", append(fields, zap.Error(reason))...)
		return
	}
	h.logger.Debug("client disconnected", fields...)
}

// detach must be called with the registry lock held.
func (h *Hub) detach(connID string, channelID uuid.UUID) {
	subs, ok := h.channels[channelID]
	if !ok {
		return
	}
	subs.mu.Lock()
	delete(subs.clients, connID)
	empty := len(subs.clients) == 0
	subs.mu.Unlock()
	if empty {
		delete(h.channels, channelID)
	}
}

// Publish delivers ev to the channel's local subscribers and hands it to the
// relay. Delivery never blocks on a subscriber and never fails the caller;
// problems are logged.
func (h *Hub) Publish(ctx context.Context, ev *Event) {
	frame, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("failed to encode event",
			zap.String("type", string(ev.Type)),
			zap.String("channel_id", ev.ChannelID.String()),
			zap.Error(err),
		)
		return
	}

	h.deliver(ev.ChannelID, string(ev.Type), ev.Origin, ev.Actor, frame)

	if h.relay != nil {
		if err := h.relay.Forward(ctx, ev.ChannelID, string(ev.Type), frame); err != nil {
			h.logger.Warn("failed to relay event",
				zap.String("type", string(ev.Type)),
				zap.String("channel_id", ev.ChannelID.String()),
				zap.Error(err),
			)
		}
	}
}

// DeliverRemote delivers a frame received from another instance.
func (h *Hub) DeliverRemote(channelID uuid.UUID, eventType string, frame []byte) {
	h.deliver(channelID, eventType, "", uuid.Nil, frame)
}

func (h *Hub) deliver(channelID uuid.UUID, eventType, origin string, actor uuid.UUID, frame []byte) {
	h.mu.RLock()
	subs, ok := h.channels[channelID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	var (
		slow      []*Client
		delivered int
	)
	subs.mu.Lock()
	for id, c := range subs.clients {
		if id == origin && c.UserID == actor {
			continue
		}
		if c.enqueue(frame) {
			delivered++
			continue
		}
		slow = append(slow, c)
	}
	subs.mu.Unlock()

	for _, c := range slow {
		h.logger.Warn("dropping slow consumer",
			zap.String("conn_id", c.ID),
			zap.String("user_id", c.UserID.String()),
			zap.String("channel_id", channelID.String()),
		)
		h.Disconnect(c, ErrSlowConsumer)
	}

	if h.recorder != nil {
		h.recorder.RecordDelivery(eventType, delivered, len(slow))
	}
}

func (h *Hub) Subscribers(channelID uuid.UUID) int {
	h.mu.RLock()
	subs, ok := h.channels[channelID]
	h.mu.RUnlock()
	if !ok {
		return 0
	}
	subs.mu.Lock()
	defer subs.mu.Unlock()
	return len(subs.clients)
}

func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// observeConnections must be called with the registry lock held.
func (h *Hub) observeConnections() {
	if h.recorder != nil {
		h.recorder.SetConnections(len(h.clients))
	}
}

// Shutdown refuses new connections and disconnects the existing ones.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.shutdown = true
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	h.logger.Info("shutting down event hub", zap.Int("clients", len(clients)))

	for _, c := range clients {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("hub shutdown: %w", err)
		}
		h.Disconnect(c, ErrHubShutdown)
	}
	return nil
}
