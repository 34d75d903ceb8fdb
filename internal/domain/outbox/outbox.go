package outbox

import "context"

// Event is a named domain event carried over the bus.
type Event interface {
	EventName() string
}

// Handler processes one delivered event. Handlers must be idempotent: the
// bus delivers at least once and duplicate deliveries are expected.
type Handler func(ctx context.Context, e Event) error

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type Subscriber interface {
	Subscribe(eventName string, h Handler)
}

// Bus combines both sides for wiring convenience.
type Bus interface {
	Publisher
	Subscriber
}
