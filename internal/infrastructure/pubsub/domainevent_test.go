package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orris-inc/rolloutd/internal/domain/shared/events"
	"github.com/orris-inc/rolloutd/internal/testutil"
)

type testEvent struct {
	events.BaseEvent
	Status string `json:"status"`
}

func setupTestRedis(t *testing.T) (*redis.Client, func()) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return client, func() {
		client.Close()
		mr.Close()
	}
}

func TestRedisDomainEventRelay_CrossInstance(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	sender := NewRedisDomainEventRelay(client, "test:events", testutil.NopLogger())
	receiver := NewRedisDomainEventRelay(client, "test:events", testutil.NopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan DomainEventMessage, 4)
	go func() {
		_ = receiver.Subscribe(ctx, func(msg DomainEventMessage) { received <- msg })
	}()
	go func() {
		_ = sender.Subscribe(ctx, func(msg DomainEventMessage) { received <- msg })
	}()

	occurred := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ev := &testEvent{
		BaseEvent: events.NewBaseEvent("acme", 7, "rollout.updated", occurred),
		Status:    "running",
	}

	// Wait until both subscriptions are registered.
	require.Eventually(t, func() bool {
		n, err := client.PubSubNumSub(ctx, "test:events").Result()
		return err == nil && n["test:events"] == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, sender.Handle(ev))

	select {
	case msg := <-received:
		assert.Equal(t, "rollout.updated", msg.EventType)
		assert.Equal(t, "acme", msg.Tenant)
		assert.Equal(t, "7", msg.AggregateID)
		assert.True(t, occurred.Equal(msg.OccurredAt))

		var payload map[string]any
		require.NoError(t, json.Unmarshal(msg.Payload, &payload))
		assert.Equal(t, "running", payload["status"])
	case <-time.After(2 * time.Second):
		t.Fatal("event was not relayed")
	}

	select {
	case msg := <-received:
		t.Fatalf("event delivered twice, second copy from instance %s", msg.InstanceID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRedisDomainEventRelay_DefaultChannel(t *testing.T) {
	relay := NewRedisDomainEventRelay(nil, "", testutil.NopLogger())
	assert.Equal(t, DefaultDomainEventChannel, relay.channel)
	assert.True(t, relay.CanHandle("anything"))
}
