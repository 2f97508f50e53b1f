// README: Publishes order transitions to a topic exchange for downstream consumers.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"tgtaxi/internal/modules/order"
)

type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte) error
}

// OrderEvent is the JSON body published for each transition.
type OrderEvent struct {
	OrderID   string    `json:"orderId"`
	Type      string    `json:"type"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	ClientID  string    `json:"clientId"`
	DriverID  string    `json:"driverId,omitempty"`
	Price     int64     `json:"price"`
	Currency  string    `json:"currency"`
	Actor     string    `json:"actor"`
	ActorID   string    `json:"actorId,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Version   int       `json:"version"`
	Timestamp time.Time `json:"ts"`
}

func NewOrderEvent(c order.Change, at time.Time) OrderEvent {
	e := OrderEvent{
		OrderID:   c.Order.ID.String(),
		Type:      string(c.Order.Type),
		From:      string(c.From),
		To:        string(c.Order.Status),
		ClientID:  c.Order.ClientID.String(),
		Price:     c.Order.Price.Amount,
		Currency:  c.Order.Price.Currency,
		Actor:     string(c.Actor.Type),
		ActorID:   c.Actor.ID.String(),
		Reason:    c.Reason,
		Version:   c.Order.StatusVersion,
		Timestamp: at,
	}
	if c.Order.DriverID != nil {
		e.DriverID = c.Order.DriverID.String()
	}
	return e
}

// RoutingKey is order.<status>, e.g. order.accepted.
func (e OrderEvent) RoutingKey() string {
	return "order." + e.To
}

// EventPublisher buffers events and publishes them from one goroutine so observers never wait on
// the broker.
type EventPublisher struct {
	pub      Publisher
	exchange string
	events   chan OrderEvent
	log      *zap.Logger
}

func NewEventPublisher(pub Publisher, exchange string, buffer int, log *zap.Logger) *EventPublisher {
	if buffer <= 0 {
		buffer = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &EventPublisher{pub: pub, exchange: exchange, events: make(chan OrderEvent, buffer), log: log}
}

func (p *EventPublisher) OrderChanged(_ context.Context, c order.Change) {
	select {
	case p.events <- NewOrderEvent(c, time.Now().UTC()):
	default:
		p.log.Warn("order event buffer full, dropping", zap.String("order_id", c.Order.ID.String()))
	}
}

// Run publishes until ctx is done.
func (p *EventPublisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-p.events:
			body, err := json.Marshal(e)
			if err != nil {
				p.log.Error("marshal order event", zap.Error(err))
				continue
			}
			if err := p.pub.Publish(ctx, p.exchange, e.RoutingKey(), body); err != nil {
				p.log.Warn("publish order event", zap.String("order_id", e.OrderID), zap.Error(err))
			}
		}
	}
}
