// README: RabbitMQ connection with retry and a topic exchange for order events.
package infra

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type Broker struct {
	url string
	log *zap.Logger

	mu   sync.RWMutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewBroker dials with backoff, up to maxRetries attempts, and declares exchange as a durable topic.
func NewBroker(ctx context.Context, url, exchange string, log *zap.Logger) (*Broker, error) {
	b := &Broker{url: url, log: log}

	const maxRetries = 10
	delay := time.Second
	for attempt := 1; ; attempt++ {
		err := b.connect()
		if err == nil {
			break
		}
		log.Warn("rabbitmq connect failed", zap.Int("attempt", attempt), zap.Error(err))
		if attempt == maxRetries {
			return nil, fmt.Errorf("connect rabbitmq after %d attempts: %w", maxRetries, err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*3/2, 30*time.Second)
	}

	if err := b.Channel().ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	log.Info("rabbitmq connected", zap.String("exchange", exchange))
	return b, nil
}

func (b *Broker) connect() error {
	conn, err := amqp.Dial(b.url)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	b.mu.Lock()
	b.conn = conn
	b.ch = ch
	b.mu.Unlock()
	return nil
}

func (b *Broker) Channel() *amqp.Channel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ch
}

// Publish sends a persistent JSON message.
func (b *Broker) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	ch := b.Channel()
	if ch == nil {
		return fmt.Errorf("rabbitmq channel not available")
	}
	publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return ch.PublishWithContext(publishCtx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	})
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ch != nil {
		_ = b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
