package bus

import "time"

// EventBus is a thread-safe, in-process pub/sub bus.
//
// - Handlers subscribe by Event.Type() within a topic.
// - Delivery is synchronous, in the publisher's goroutine, in subscription order.
// - Handler errors are joined and returned from PublishToTopic.
type EventBus interface {
	PublishToTopic(topic string, event Event) error
	SubscribeTopic(topic, eventType string, handler EventHandler) (Subscription, error)
	GetMetrics() Metrics
}

// Event is an immutable message carried by the bus.
type Event interface {
	Type() string
	Source() string
	Timestamp() time.Time
	Data() any
}

type EventHandler func(event Event) error

// Subscription is the handle returned by SubscribeTopic. Cancel is idempotent.
type Subscription interface {
	ID() string
	Topic() string
	EventType() string
	IsActive() bool
	Cancel() error
}

type Metrics struct {
	Published         uint64 `json:"published"`
	DeliveredHandlers uint64 `json:"delivered_handlers"`
	Errors            uint64 `json:"errors"`
	SubscribersActive uint64 `json:"subscribers_active"`
	Topics            uint64 `json:"topics"`
}
