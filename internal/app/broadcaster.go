package app

import (
	"context"
	"errors"

	"livequiz-service/internal/domain"
)

// EventPublisher pushes session events to a transport.
type EventPublisher interface {
	Publish(ctx context.Context, code string, ev domain.Event) error
}

// Broadcaster fans session events out to subscribers of the session channel.
// Delivery is best effort; subscribers recover missed state through the pull operations.
type Broadcaster interface {
	EventPublisher
	// Subscribe joins the channel for code. The caller must invoke the returned cancel function to leave it.
	Subscribe(ctx context.Context, code string) (<-chan domain.Event, func(), error)
}

// MultiBroadcaster publishes to a primary broadcaster and any number of mirrors.
// Subscriptions are served by the primary only.
type MultiBroadcaster struct {
	primary Broadcaster
	mirrors []EventPublisher
}

func NewMultiBroadcaster(primary Broadcaster, mirrors ...EventPublisher) *MultiBroadcaster {
	return &MultiBroadcaster{primary: primary, mirrors: mirrors}
}

func (m *MultiBroadcaster) Publish(ctx context.Context, code string, ev domain.Event) error {
	errs := []error{m.primary.Publish(ctx, code, ev)}
	for _, mirror := range m.mirrors {
		errs = append(errs, mirror.Publish(ctx, code, ev))
	}
	return errors.Join(errs...)
}

func (m *MultiBroadcaster) Subscribe(ctx context.Context, code string) (<-chan domain.Event, func(), error) {
	return m.primary.Subscribe(ctx, code)
}
