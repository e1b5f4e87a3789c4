package events

import (
	"strconv"
	"time"
)

// DomainEvent represents a domain event interface
type DomainEvent interface {
	// GetAggregateID returns the ID of the aggregate that generated the event
	GetAggregateID() string

	// GetEventType returns the type/name of the event
	GetEventType() string

	// GetOccurredAt returns when the event occurred
	GetOccurredAt() time.Time

	// GetVersion returns the event version for schema evolution
	GetVersion() int

	// GetTenant returns the tenant the aggregate belongs to
	GetTenant() string
}

// BaseEvent provides common fields for all domain events
type BaseEvent struct {
	Tenant      string    `json:"tenant"`
	AggregateID string    `json:"aggregate_id"`
	EventType   string    `json:"event_type"`
	OccurredAt  time.Time `json:"occurred_at"`
	Version     int       `json:"version"`
}

// NewBaseEvent builds the common envelope for an aggregate identified by a numeric ID.
func NewBaseEvent(tenant string, aggregateID uint, eventType string, occurredAt time.Time) BaseEvent {
	return BaseEvent{
		Tenant:      tenant,
		AggregateID: strconv.FormatUint(uint64(aggregateID), 10),
		EventType:   eventType,
		OccurredAt:  occurredAt,
		Version:     1,
	}
}

// GetAggregateID returns the aggregate ID
func (e BaseEvent) GetAggregateID() string {
	return e.AggregateID
}

// GetEventType returns the event type
func (e BaseEvent) GetEventType() string {
	return e.EventType
}

// GetOccurredAt returns when the event occurred
func (e BaseEvent) GetOccurredAt() time.Time {
	return e.OccurredAt
}

// GetVersion returns the event version
func (e BaseEvent) GetVersion() int {
	return e.Version
}

// GetTenant returns the owning tenant
func (e BaseEvent) GetTenant() string {
	return e.Tenant
}

// EventHandler represents a handler for domain events
type EventHandler interface {
	// Handle processes a domain event
	Handle(event DomainEvent) error

	// CanHandle checks if this handler can handle the given event type
	CanHandle(eventType string) bool
}

// EventPublisher publishes domain events
type EventPublisher interface {
	// Publish publishes a single event
	Publish(event DomainEvent) error

	// PublishAll publishes multiple events
	PublishAll(events []DomainEvent) error
}

// EventSubscriber subscribes to domain events
type EventSubscriber interface {
	// Subscribe registers a handler for specific event types
	Subscribe(eventType string, handler EventHandler) error

	// Unsubscribe removes a handler for specific event types
	Unsubscribe(eventType string, handler EventHandler) error
}

// EventDispatcher combines publisher and subscriber functionality
type EventDispatcher interface {
	EventPublisher
	EventSubscriber

	// Start starts the event dispatcher
	Start() error

	// Stop stops the event dispatcher
	Stop() error
}

// Recorder accumulates events raised by an aggregate until they are drained after commit.
type Recorder struct {
	pending []DomainEvent
}

// Record appends an event.
func (r *Recorder) Record(event DomainEvent) {
	r.pending = append(r.pending, event)
}

// PullEvents returns and clears the recorded events.
func (r *Recorder) PullEvents() []DomainEvent {
	out := r.pending
	r.pending = nil
	return out
}

// NopPublisher drops every event. Useful where fan-out is not wired.
type NopPublisher struct{}

func (NopPublisher) Publish(DomainEvent) error      { return nil }
func (NopPublisher) PublishAll([]DomainEvent) error { return nil }
