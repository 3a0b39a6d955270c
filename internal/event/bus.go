package event

import "context"

// Publisher hands events to the message bus.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Handler processes one delivered event. Returning an error asks the bus
// to redeliver it.
type Handler func(ctx context.Context, e Event) error

// Subscriber delivers events to a handler until ctx is done. Delivery is
// at-least-once with no ordering guarantee.
type Subscriber interface {
	Subscribe(ctx context.Context, h Handler) error
}
