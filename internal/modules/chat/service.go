// README: Chat service validates senders and relays messages to the other participant.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tgtaxi/internal/modules/notify"
	"tgtaxi/internal/modules/order"
	"tgtaxi/internal/types"
)

type Orders interface {
	Get(ctx context.Context, id types.ID) (*order.Order, error)
	List(ctx context.Context, f order.Filter) ([]*order.Order, error)
}

type Notifier interface {
	Notify(m notify.Message) bool
}

type Service struct {
	store    Store
	orders   Orders
	notifier Notifier
	log      *zap.Logger
	now      func() time.Time
}

// NewService builds the chat service. notifier may be nil.
func NewService(store Store, orders Orders, notifier Notifier, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, orders: orders, notifier: notifier, log: log, now: time.Now}
}

type PostCommand struct {
	OrderID  types.ID
	SenderID types.ID
	Text     string
	// Admin lets support staff write into any open order chat.
	Admin bool
}

func (s *Service) Post(ctx context.Context, cmd PostCommand) (*Message, error) {
	text := strings.TrimSpace(cmd.Text)
	if cmd.OrderID == "" || cmd.SenderID == "" || text == "" || utf8.RuneCountInString(text) > MaxMessageLen {
		return nil, ErrBadRequest
	}
	o, err := s.orders.Get(ctx, cmd.OrderID)
	if errors.Is(err, order.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !cmd.Admin && !o.Participant(cmd.SenderID) {
		return nil, ErrForbidden
	}
	if o.Terminal() {
		return nil, ErrClosed
	}

	m := &Message{
		ID:        types.ID(uuid.NewString()),
		OrderID:   o.ID,
		SenderID:  cmd.SenderID,
		Text:      text,
		CreatedAt: s.now(),
	}
	if err := s.store.Append(ctx, m); err != nil {
		return nil, fmt.Errorf("append chat message: %w", err)
	}
	s.relay(o, m)
	return m, nil
}

func (s *Service) List(ctx context.Context, orderID types.ID) ([]*Message, error) {
	return s.store.List(ctx, orderID)
}

func (s *Service) Purge(ctx context.Context, orderID types.ID) (int, error) {
	return s.store.Purge(ctx, orderID)
}

// PurgeCompletedBefore clears chats of orders completed before cutoff and returns the number of
// messages removed.
func (s *Service) PurgeCompletedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	orders, err := s.orders.List(ctx, order.Filter{
		Statuses:        []order.Status{order.StatusCompleted},
		CompletedBefore: &cutoff,
	})
	if err != nil {
		return 0, err
	}
	total := 0
	for _, o := range orders {
		n, err := s.store.Purge(ctx, o.ID)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (s *Service) relay(o *order.Order, m *Message) {
	if s.notifier == nil {
		return
	}
	var to []types.ID
	if m.SenderID != o.ClientID {
		to = append(to, o.ClientID)
	}
	if o.DriverID != nil && *o.DriverID != m.SenderID {
		to = append(to, *o.DriverID)
	}
	for _, r := range to {
		s.notifier.Notify(notify.Message{
			Recipient: r,
			Text:      fmt.Sprintf("💬 Order %s: %s", o.ID.Short(), m.Text),
			OpenApp:   true,
		})
	}
}

// Purger clears an order's chat as soon as it completes.
type Purger struct {
	store Store
	log   *zap.Logger
}

func NewPurger(store Store, log *zap.Logger) *Purger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Purger{store: store, log: log}
}

func (p *Purger) OrderChanged(ctx context.Context, c order.Change) {
	if c.Order.Status != order.StatusCompleted {
		return
	}
	if _, err := p.store.Purge(ctx, c.Order.ID); err != nil {
		p.log.Warn("purge chat", zap.String("order_id", c.Order.ID.String()), zap.Error(err))
	}
}
