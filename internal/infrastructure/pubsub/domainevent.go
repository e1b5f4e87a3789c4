// Package pubsub relays domain events between engine instances over Redis Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/orris-inc/rolloutd/internal/domain/shared/events"
	"github.com/orris-inc/rolloutd/internal/shared/goroutine"
	"github.com/orris-inc/rolloutd/internal/shared/logger"
)

const (
	// DefaultDomainEventChannel is used when no channel is configured.
	DefaultDomainEventChannel = "rolloutd:events"

	publishTimeout = 3 * time.Second
)

// DomainEventMessage is the wire form of a relayed domain event.
type DomainEventMessage struct {
	EventType   string          `json:"event_type"`
	Tenant      string          `json:"tenant"`
	AggregateID string          `json:"aggregate_id"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Payload     json.RawMessage `json:"payload"`
	InstanceID  string          `json:"instance_id,omitempty"` // Source instance ID to avoid self-delivery
}

// RedisDomainEventRelay publishes local domain events to Redis and delivers
// events of other instances to a handler.
type RedisDomainEventRelay struct {
	client     *redis.Client
	channel    string
	logger     logger.Interface
	instanceID string
}

// NewRedisDomainEventRelay creates a new relay on the given channel.
func NewRedisDomainEventRelay(client *redis.Client, channel string, logger logger.Interface) *RedisDomainEventRelay {
	if channel == "" {
		channel = DefaultDomainEventChannel
	}
	return &RedisDomainEventRelay{
		client:     client,
		channel:    channel,
		logger:     logger,
		instanceID: uuid.NewString(),
	}
}

// CanHandle accepts every event type so the relay can be registered as a wildcard handler.
func (r *RedisDomainEventRelay) CanHandle(string) bool {
	return true
}

// Handle publishes the event. It is called from the dispatcher goroutine.
func (r *RedisDomainEventRelay) Handle(event events.DomainEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return r.Publish(ctx, event)
}

// Publish sends one domain event to the channel.
func (r *RedisDomainEventRelay) Publish(ctx context.Context, event events.DomainEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal domain event payload: %w", err)
	}
	msg := DomainEventMessage{
		EventType:   event.GetEventType(),
		Tenant:      event.GetTenant(),
		AggregateID: event.GetAggregateID(),
		OccurredAt:  event.GetOccurredAt(),
		Payload:     payload,
		InstanceID:  r.instanceID,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal domain event: %w", err)
	}

	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		r.logger.Errorw("failed to publish domain event",
			"event_type", msg.EventType,
			"aggregate_id", msg.AggregateID,
			"error", err,
		)
		return fmt.Errorf("failed to publish domain event: %w", err)
	}

	r.logger.Debugw("domain event published to Redis",
		"event_type", msg.EventType,
		"tenant", msg.Tenant,
		"aggregate_id", msg.AggregateID,
	)
	return nil
}

// Subscribe delivers events published by other instances until ctx is done.
func (r *RedisDomainEventRelay) Subscribe(ctx context.Context, handler func(msg DomainEventMessage)) error {
	return r.subscribeWithReconnect(ctx, func(payload string) {
		var msg DomainEventMessage
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			r.logger.Warnw("failed to unmarshal domain event",
				"payload", payload,
				"error", err,
			)
			return
		}

		if msg.InstanceID == r.instanceID {
			return
		}

		handler(msg)
	})
}

// subscribeWithReconnect wraps subscribe with automatic reconnection and exponential backoff.
func (r *RedisDomainEventRelay) subscribeWithReconnect(ctx context.Context, handler func(payload string)) error {
	backoff := time.Second
	maxBackoff := 30 * time.Second

	for {
		err := r.subscribe(ctx, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		r.logger.Warnw("domain event subscription disconnected, reconnecting",
			"channel", r.channel,
			"error", err,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff = min(backoff*2, maxBackoff)
	}
}

func (r *RedisDomainEventRelay) subscribe(ctx context.Context, handler func(payload string)) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to channel %s: %w", r.channel, err)
	}

	r.logger.Infow("subscribed to domain event channel",
		"channel", r.channel,
	)

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			r.logger.Infow("domain event subscriber stopped",
				"channel", r.channel,
				"reason", ctx.Err(),
			)
			return ctx.Err()

		case msg, ok := <-ch:
			if !ok {
				r.logger.Warnw("domain event channel closed",
					"channel", r.channel,
				)
				return nil
			}

			goroutine.SafeGo(r.logger, "domain-event-handler", func() {
				handler(msg.Payload)
			})
		}
	}
}
