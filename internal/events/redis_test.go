package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Alexander-D-Karpov/huddle/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRedisBridgeHandle(t *testing.T) {
	members := newMemberSet()
	hub, _ := newTestHub(t, members, 8)

	user := uuid.New()
	channel := uuid.New()
	members.add(user, channel)

	c, err := hub.Connect(user)
	require.NoError(t, err)
	require.NoError(t, hub.Subscribe(context.Background(), c, channel))

	bridge := NewRedisBridge(nil, "test", hub, zap.NewNop())
	frame := mustFrame(t, mustEvent(t, MessageCreated, channel, map[string]string{"id": "1"}))

	t.Run("own instance is ignored", func(t *testing.T) {
		bridge.handle(mustEnvelope(t, bridge.instanceID, channel, frame))
		assert.Empty(t, drain(c))
	})

	t.Run("other instance is delivered", func(t *testing.T) {
		bridge.handle(mustEnvelope(t, "other", channel, frame))
		got := drain(c)
		require.Len(t, got, 1)
		assert.Equal(t, MessageCreated, got[0].Type)
	})

	t.Run("malformed payload is dropped", func(t *testing.T) {
		bridge.handle([]byte("{"))
		assert.Empty(t, drain(c))
	})
}

func TestRedisBridgeAcrossInstances(t *testing.T) {
	redis := testutil.GetCache(t)
	topic := "huddle:test:" + uuid.NewString()

	user := uuid.New()
	channel := uuid.New()

	membersA := newMemberSet()
	hubA, _ := newTestHub(t, membersA, 8)
	bridgeA := NewRedisBridge(redis, topic, hubA, zap.NewNop())
	hubA.SetRelay(bridgeA)

	membersB := newMemberSet()
	membersB.add(user, channel)
	hubB, _ := newTestHub(t, membersB, 8)
	bridgeB := NewRedisBridge(redis, topic, hubB, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = bridgeA.Run(ctx) }()
	go func() { _ = bridgeB.Run(ctx) }()

	c, err := hubB.Connect(user)
	require.NoError(t, err)
	require.NoError(t, hubB.Subscribe(ctx, c, channel))

	ev := mustEvent(t, MessageCreated, channel, map[string]string{"id": "7"})

	// The subscriber may not be attached yet; publish until it is.
	require.Eventually(t, func() bool {
		hubA.Publish(ctx, ev)
		return len(drain(c)) > 0
	}, 5*time.Second, 100*time.Millisecond)
}

func TestRedisBridgeForwardDoesNotBlock(t *testing.T) {
	hub, _ := newTestHub(t, newMemberSet(), 4)
	bridge := NewRedisBridge(nil, "test", hub, zap.NewNop())
	bridge.outbox = make(chan envelope, 1)

	channel := uuid.New()
	frame := mustFrame(t, mustEvent(t, ReactionAdded, channel, map[string]string{"emoji": "👍"}))

	require.NoError(t, bridge.Forward(context.Background(), channel, string(ReactionAdded), frame))

	done := make(chan error, 1)
	go func() { done <- bridge.Forward(context.Background(), channel, string(ReactionAdded), frame) }()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrRelayBacklog)
	case <-time.After(time.Second):
		t.Fatal("Forward blocked on a full outbox")
	}

	queued := <-bridge.outbox
	assert.Equal(t, bridge.instanceID, queued.Instance)
	assert.Equal(t, channel, queued.ChannelID)
	assert.Equal(t, string(ReactionAdded), queued.Type)
	assert.JSONEq(t, string(frame), string(queued.Frame))
}

func TestPublishWithStalledRelayStillDeliversLocally(t *testing.T) {
	members := newMemberSet()
	hub, _ := newTestHub(t, members, 8)
	bridge := NewRedisBridge(nil, "test", hub, zap.NewNop())
	bridge.outbox = make(chan envelope)
	hub.SetRelay(bridge)

	user, channel := uuid.New(), uuid.New()
	members.add(user, channel)
	c, err := hub.Connect(user)
	require.NoError(t, err)
	require.NoError(t, hub.Subscribe(context.Background(), c, channel))

	hub.Publish(context.Background(), mustEvent(t, MessageCreated, channel, map[string]string{"id": "3"}))
	assert.Len(t, drain(c), 1)
}

func mustFrame(t *testing.T, ev *Event) []byte {
	t.Helper()
	frame, err := json.Marshal(ev)
	require.NoError(t, err)
	return frame
}

func mustEnvelope(t *testing.T, instance string, channel uuid.UUID, frame []byte) []byte {
	t.Helper()
	data, err := json.Marshal(envelope{
		Instance:  instance,
		ChannelID: channel,
		Type:      string(MessageCreated),
		Frame:     frame,
	})
	require.NoError(t, err)
	return data
}
