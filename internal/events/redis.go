package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Alexander-D-Karpov/huddle/internal/infra/cache"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type envelope struct {
	Instance  string          `json:"instance"`
	ChannelID uuid.UUID       `json:"channel_id"`
	Type      string          `json:"type"`
	Frame     json.RawMessage `json:"frame"`
}

const (
	relayBacklog   = 1024
	publishTimeout = 2 * time.Second
)

// ErrRelayBacklog is returned by Forward when the outbox is full. The frame
// is dropped for remote instances; local delivery is unaffected.
var ErrRelayBacklog = errors.New("relay backlog full")

// RedisBridge fans frames out to the other API instances over Redis pub/sub
// and feeds frames published elsewhere into the local hub. Outgoing frames
// wait in a bounded outbox drained by Run, so a slow Redis never stalls the
// publisher.
type RedisBridge struct {
	cache      *cache.Cache
	topic      string
	instanceID string
	hub        *Hub
	outbox     chan envelope
	logger     *zap.Logger
}

func NewRedisBridge(c *cache.Cache, topic string, hub *Hub, logger *zap.Logger) *RedisBridge {
	return &RedisBridge{
		cache:      c,
		topic:      topic,
		instanceID: uuid.NewString(),
		hub:        hub,
		outbox:     make(chan envelope, relayBacklog),
		logger:     logger,
	}
}

// Forward queues frame for the other instances without blocking.
func (b *RedisBridge) Forward(_ context.Context, channelID uuid.UUID, eventType string, frame []byte) error {
	env := envelope{
		Instance:  b.instanceID,
		ChannelID: channelID,
		Type:      eventType,
		Frame:     frame,
	}
	select {
	case b.outbox <- env:
		return nil
	default:
		return ErrRelayBacklog
	}
}

func (b *RedisBridge) drain(ctx context.Context) {
	for {
		select {
		case env := <-b.outbox:
			b.send(ctx, env)
		case <-ctx.Done():
			return
		}
	}
}

func (b *RedisBridge) send(ctx context.Context, env envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		b.logger.Error("failed to encode relay message", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := b.cache.Publish(ctx, b.topic, data); err != nil {
		b.logger.Warn("failed to publish relay message",
			zap.String("type", env.Type),
			zap.String("channel_id", env.ChannelID.String()),
			zap.Error(err),
		)
	}
}

// Run drains the outbox and consumes the topic until ctx is cancelled.
func (b *RedisBridge) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.drain(ctx)
	}()
	defer wg.Wait()
	defer cancel()

	sub := b.cache.Subscribe(ctx, b.topic)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.topic, err)
	}

	b.logger.Info("event relay subscribed",
		zap.String("topic", b.topic),
		zap.String("instance_id", b.instanceID),
	)

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.handle([]byte(msg.Payload))
		case <-ctx.Done():
			return nil
		}
	}
}

func (b *RedisBridge) handle(payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		b.logger.Warn("dropping malformed relay message", zap.Error(err))
		return
	}
	if env.Instance == b.instanceID {
		return
	}
	b.hub.DeliverRemote(env.ChannelID, env.Type, env.Frame)
}
