package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"livequiz-service/internal/domain"
	"livequiz-service/internal/logger"
	"livequiz-service/internal/metrics"

	"github.com/redis/go-redis/v9"
)

const subscriberBuffer = 32

// Broadcaster fans session events out through Redis pub/sub so every instance serving a
// session's websockets sees them. Channel: quiz:events:{code}.
type Broadcaster struct {
	client *redis.Client
	now    func() time.Time
}

func NewBroadcaster(client *redis.Client) *Broadcaster {
	return &Broadcaster{client: client, now: time.Now}
}

func (b *Broadcaster) Publish(ctx context.Context, code string, ev domain.Event) error {
	env, err := domain.NewEnvelope(code, ev, b.now())
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := b.client.Publish(ctx, eventsChannel(code), data).Err(); err != nil {
		metrics.BroadcastFailures.WithLabelValues("redis").Inc()
		return fmt.Errorf("publish %s: %w", ev.Type(), err)
	}
	return nil
}

func (b *Broadcaster) Subscribe(ctx context.Context, code string) (<-chan domain.Event, func(), error) {
	pubsub := b.client.Subscribe(ctx, eventsChannel(code))
	// Wait for the subscription to be confirmed so no event published afterwards is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", code, err)
	}

	out := make(chan domain.Event, subscriberBuffer)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			_, ev, err := domain.DecodeEnvelope([]byte(msg.Payload))
			if err != nil {
				logger.Warn("drop malformed event", "code", code, "error", err)
				continue
			}
			deliver(out, ev)
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() { _ = pubsub.Close() })
	}
	return out, cancel, nil
}

func deliver(ch chan domain.Event, ev domain.Event) {
	select {
	case ch <- ev:
		return
	default:
	}
	select {
	case <-ch:
		metrics.BroadcastDropped.Inc()
	default:
	}
	select {
	case ch <- ev:
	default:
		metrics.BroadcastDropped.Inc()
	}
}

func eventsChannel(code string) string {
	return "quiz:events:" + code
}
