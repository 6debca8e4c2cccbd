package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"livequiz-service/internal/domain"
	"livequiz-service/internal/metrics"

	"github.com/streadway/amqp"
)

// Channel is the subset of *amqp.Channel the publisher needs.
type Channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher mirrors session events to a topic exchange for consumers outside the quiz service
// (results import, notifications). Routing key: quiz.{event type}.
type Publisher struct {
	conn     *amqp.Connection
	mu       sync.Mutex // amqp channels are not safe for concurrent publishing
	channel  Channel
	exchange string
	now      func() time.Time
}

func Dial(url, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	p := NewPublisher(ch, exchange)
	p.conn = conn
	return p, nil
}

// NewPublisher wraps an already configured channel.
func NewPublisher(ch Channel, exchange string) *Publisher {
	return &Publisher{channel: ch, exchange: exchange, now: time.Now}
}

func (p *Publisher) Publish(_ context.Context, code string, ev domain.Event) error {
	env, err := domain.NewEnvelope(code, ev, p.now())
	if err != nil {
		return err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.Publish(
		p.exchange,
		RoutingKey(ev.Type()),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    env.At,
			Type:         string(ev.Type()),
			Body:         body,
		},
	)
	if err != nil {
		metrics.BroadcastFailures.WithLabelValues("amqp").Inc()
		return fmt.Errorf("amqp publish %s: %w", ev.Type(), err)
	}
	return nil
}

func RoutingKey(t domain.EventType) string {
	return "quiz." + string(t)
}

func (p *Publisher) Close() {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}
