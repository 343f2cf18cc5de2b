// README: RabbitMQ connection with bounded retry for the domain event exchange.
package infra

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	amqpMaxAttempts = 10
	amqpMaxDelay    = 30 * time.Second
)

// NewRabbitMQ dials url, backing off between attempts until ctx is done.
func NewRabbitMQ(ctx context.Context, url string, log *slog.Logger) (*amqp.Connection, error) {
	delay := time.Second
	var lastErr error
	for attempt := 1; attempt <= amqpMaxAttempts; attempt++ {
		conn, err := amqp.Dial(url)
		if err == nil {
			log.Info("rabbitmq connected", "attempt", attempt)
			return conn, nil
		}
		lastErr = err
		log.Warn("rabbitmq connection attempt failed", "attempt", attempt, "retry_in", delay, "err", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay = min(time.Duration(float64(delay)*1.5), amqpMaxDelay)
	}
	return nil, fmt.Errorf("rabbitmq: failed after %d attempts: %w", amqpMaxAttempts, lastErr)
}
