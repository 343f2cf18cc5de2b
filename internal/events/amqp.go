// README: AMQP sink; publishes ride events to a topic exchange for notification consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RoutingKey is the topic routing key of an event, e.g. "ride.status-changed".
func RoutingKey(t Type) string {
	return "ride." + string(t)
}

// AMQPSink publishes every event as a persistent JSON message.
// driver:location samples are not forwarded; they only live on the tracking channel.
type AMQPSink struct {
	mu       sync.Mutex
	ch       *amqp.Channel
	exchange string
	log      *slog.Logger
}

func NewAMQPSink(conn *amqp.Connection, exchange string, log *slog.Logger) (*AMQPSink, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPSink{ch: ch, exchange: exchange, log: log}, nil
}

type wireEvent struct {
	ID         string `json:"id"`
	Type       Type   `json:"type"`
	RideID     string `json:"ride_id"`
	Audience   string `json:"audience"`
	Data       any    `json:"data"`
	OccurredAt string `json:"occurred_at"`
}

func (s *AMQPSink) Publish(ctx context.Context, ev Event) error {
	if ev.Type == TypeDriverLocation {
		return nil
	}
	body, err := json.Marshal(wireEvent{
		ID:         ev.ID.String(),
		Type:       ev.Type,
		RideID:     ev.RideID.String(),
		Audience:   string(ev.Audience),
		Data:       ev.Payload,
		OccurredAt: ev.OccurredAt.Format("2006-01-02T15:04:05.000Z07:00"),
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	err = s.ch.PublishWithContext(ctx, s.exchange, RoutingKey(ev.Type), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID.String(),
		Timestamp:    ev.OccurredAt,
		Type:         string(ev.Type),
		Body:         body,
	})
	if err != nil {
		s.log.Error("amqp publish failed", "ride_id", ev.RideID, "type", ev.Type, "err", err)
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

func (s *AMQPSink) Close() error {
	return s.ch.Close()
}
