// README: Announcer tells drivers about orders waiting in the pool, in two waves.
package matching

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tgtaxi/internal/config"
	"tgtaxi/internal/modules/notify"
	"tgtaxi/internal/modules/order"
	"tgtaxi/internal/modules/user"
	"tgtaxi/internal/types"
)

type Orders interface {
	Get(ctx context.Context, id types.ID) (*order.Order, error)
	ListActive(ctx context.Context) ([]*order.Order, error)
}

type Drivers interface {
	List(ctx context.Context, role user.Role) ([]*user.User, error)
}

type Notifier interface {
	Notify(m notify.Message) bool
}

// Service announces each waiting order to a random first wave of drivers, then to every other
// eligible driver once the broadcast delay passes without a claim. A driver hears about a given
// order at most once.
type Service struct {
	store    Store
	orders   Orders
	drivers  Drivers
	notifier Notifier
	cfg      config.MatchingConfig
	pending  chan types.ID
	log      *zap.Logger
	now      func() time.Time
}

func NewService(store Store, orders Orders, drivers Drivers, notifier Notifier, cfg config.MatchingConfig, log *zap.Logger) *Service {
	if cfg.InitialWave == 0 {
		cfg.InitialWave = defaultInitialWave
	}
	if cfg.BroadcastDelay <= 0 {
		cfg.BroadcastDelay = defaultBroadcastDelay
	}
	if cfg.Tick <= 0 {
		cfg.Tick = defaultTick
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:    store,
		orders:   orders,
		drivers:  drivers,
		notifier: notifier,
		cfg:      cfg,
		pending:  make(chan types.ID, 256),
		log:      log,
		now:      time.Now,
	}
}

// OrderChanged queues orders that entered the pool.
func (s *Service) OrderChanged(_ context.Context, c order.Change) {
	if c.Order.Status != order.StatusNew || c.From == order.StatusNew {
		return
	}
	select {
	case s.pending <- c.Order.ID:
	default:
		s.log.Warn("announce queue full; order will be picked up by the broadcast tick", zap.String("order_id", c.Order.ID.String()))
	}
}

// RunScheduler dispatches queued orders and runs the broadcast tick until ctx is done.
func (s *Service) RunScheduler(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case id := <-s.pending:
			if err := s.dispatch(ctx, id); err != nil {
				s.log.Warn("dispatch order", zap.String("order_id", id.String()), zap.Error(err))
			}
		case <-ticker.C:
			s.tickBroadcast(ctx)
		}
	}
}

// dispatch sends the first wave, or, for an order already dispatched and back in the pool, tells
// the drivers who have not heard of it yet.
func (s *Service) dispatch(ctx context.Context, id types.ID) error {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return err
	}
	if o.Status != order.StatusNew {
		return nil
	}
	pool, err := s.eligible(ctx, o)
	if err != nil {
		return err
	}
	_, dispatched, err := s.store.GetDispatchedAt(ctx, id)
	if err != nil {
		return err
	}

	wave := pool
	if !dispatched && s.cfg.InitialWave > 0 {
		wave = PickRandomDrivers(pool, s.cfg.InitialWave)
	}
	if err := s.store.RecordDispatch(ctx, id, s.now()); err != nil {
		return err
	}
	return s.announce(ctx, o, wave)
}

// tickBroadcast opens orders that waited past the broadcast delay to all eligible drivers.
func (s *Service) tickBroadcast(ctx context.Context) {
	active, err := s.orders.ListActive(ctx)
	if err != nil {
		s.log.Warn("list active orders", zap.Error(err))
		return
	}
	now := s.now()
	for _, o := range active {
		at, ok, err := s.store.GetDispatchedAt(ctx, o.ID)
		if err != nil {
			s.log.Warn("read dispatch time", zap.String("order_id", o.ID.String()), zap.Error(err))
			continue
		}
		if !ok {
			// missed by the event queue
			if err := s.dispatch(ctx, o.ID); err != nil {
				s.log.Warn("dispatch order", zap.String("order_id", o.ID.String()), zap.Error(err))
			}
			continue
		}
		if now.Sub(at) < s.cfg.BroadcastDelay {
			continue
		}
		first, err := s.store.MarkOrderBroadcast(ctx, o.ID)
		if err != nil || !first {
			continue
		}
		pool, err := s.eligible(ctx, o)
		if err != nil {
			s.log.Warn("list drivers", zap.Error(err))
			continue
		}
		if err := s.announce(ctx, o, pool); err != nil {
			s.log.Warn("broadcast order", zap.String("order_id", o.ID.String()), zap.Error(err))
		}
	}
}

func (s *Service) eligible(ctx context.Context, o *order.Order) ([]types.ID, error) {
	drivers, err := s.drivers.List(ctx, user.RoleDriver)
	if err != nil {
		return nil, err
	}
	out := make([]types.ID, 0, len(drivers))
	for _, d := range drivers {
		if !d.CanDrive() || d.ID == o.ClientID || o.Attempted(d.ID) {
			continue
		}
		out = append(out, d.ID)
	}
	return out, nil
}

func (s *Service) announce(ctx context.Context, o *order.Order, drivers []types.ID) error {
	fresh, err := s.store.MarkNotified(ctx, o.ID, drivers)
	if err != nil {
		return err
	}
	text := Announcement(o)
	for _, d := range fresh {
		s.notifier.Notify(notify.Message{Recipient: d, Text: text, OpenApp: true})
	}
	if len(fresh) > 0 {
		s.log.Debug("order announced", zap.String("order_id", o.ID.String()), zap.Int("drivers", len(fresh)))
	}
	return nil
}

func Announcement(o *order.Order) string {
	text := fmt.Sprintf("🆕 New %s order %s\n%s → %s", o.Type, o.ID.Short(), o.From, o.To)
	if !o.Price.IsZero() {
		text += "\nPrice: " + o.Price.String()
	}
	if o.RequiredDetail != "" {
		text += "\nNeeds: " + o.RequiredDetail
	}
	return text
}
