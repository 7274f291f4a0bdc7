package bus

import "time"

// EventBus is an in-process pub/sub bus keyed by Event.Type(). Delivery is
// synchronous, in the publisher's goroutine, and follows subscription order.
// Handler errors are joined and returned to the publisher. Subscribing or
// cancelling from inside a handler takes effect on the next Publish.
// Observers are registered for the bus's lifetime.
type EventBus interface {
	Publish(event Event) error
	Subscribe(eventType string, handler EventHandler) (Subscription, error)

	AddObserver(obs EventBusObserver)
	// GetMetrics only counts while at least one observer is registered.
	GetMetrics() EventBusMetrics
}

// Event values are read-only once published.
type Event interface {
	Type() string
	Source() string
	Timestamp() time.Time
	Data() any
}

type EventHandler func(event Event) error

type Subscription interface {
	ID() string
	EventType() string
	IsActive() bool
	// Cancel is idempotent.
	Cancel() error
}

// EventBusObserver sees every publish and the outcome of its delivery. It is
// called inline, so it must not block.
type EventBusObserver interface {
	OnPublish(eventType string, event Event)
	OnDelivered(eventType string, handlers int, err error, durationMicros int64)
}

type EventBusMetrics struct {
	Published         uint64
	DeliveredHandlers uint64
	Errors            uint64
	SubscribersActive uint64
}
