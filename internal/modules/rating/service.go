// README: Rating service records ratings and aggregates driver and admin stats on demand.
package rating

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tgtaxi/internal/config"
	"tgtaxi/internal/modules/order"
	"tgtaxi/internal/modules/user"
	"tgtaxi/internal/types"
)

type Orders interface {
	Get(ctx context.Context, id types.ID) (*order.Order, error)
	Count(ctx context.Context, f order.Filter) (int, error)
}

type Users interface {
	List(ctx context.Context, role user.Role) ([]*user.User, error)
}

type Service struct {
	store    Store
	orders   Orders
	users    Users
	cache    Cache
	cacheTTL time.Duration
	log      *zap.Logger
	now      func() time.Time
}

// NewService wires the aggregator. cache may be nil; ttl is capped at config.MaxStatsCacheTTL.
func NewService(store Store, orders Orders, users Users, cache Cache, ttl time.Duration, log *zap.Logger) *Service {
	if ttl > config.MaxStatsCacheTTL {
		ttl = config.MaxStatsCacheTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, orders: orders, users: users, cache: cache, cacheTTL: ttl, log: log, now: time.Now}
}

type RateCommand struct {
	OrderID types.ID
	// ClientID, when set, must own the order.
	ClientID types.ID
	Stars    int
	Comment  string
}

// RateOrder attaches the single rating a completed order may carry.
func (s *Service) RateOrder(ctx context.Context, cmd RateCommand) (*Rating, error) {
	o, err := s.orders.Get(ctx, cmd.OrderID)
	if errors.Is(err, order.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if o.Status != order.StatusCompleted || o.DriverID == nil {
		return nil, ErrNotRateable
	}
	if cmd.ClientID != "" && o.ClientID != cmd.ClientID {
		return nil, ErrForbidden
	}

	comment := truncateRunes(strings.TrimSpace(cmd.Comment), MaxCommentLen)
	r := &Rating{
		ID:        types.ID(uuid.NewString()),
		OrderID:   o.ID,
		DriverID:  *o.DriverID,
		Stars:     clampStars(cmd.Stars),
		Comment:   comment,
		CreatedAt: s.now(),
	}
	if err := s.store.Insert(ctx, r); err != nil {
		return nil, err
	}
	s.log.Info("order rated", zap.String("order_id", o.ID.String()), zap.Int("stars", r.Stars))
	return r, nil
}

// DriverStats is computed from orders and ratings on every call.
func (s *Service) DriverStats(ctx context.Context, driverID types.ID) (DriverStats, error) {
	completed, err := s.orders.Count(ctx, order.Filter{
		Statuses: []order.Status{order.StatusCompleted},
		DriverID: driverID,
	})
	if err != nil {
		return DriverStats{}, err
	}
	count, sum, err := s.store.Summary(ctx, driverID)
	if err != nil {
		return DriverStats{}, err
	}
	return DriverStats{
		DriverID:        driverID,
		CompletedOrders: completed,
		TotalRatings:    count,
		AverageRating:   average(sum, count),
	}, nil
}

func (s *Service) DriverBadge(ctx context.Context, driverID types.ID) (Badge, error) {
	st, err := s.DriverStats(ctx, driverID)
	if err != nil {
		return BadgeNone, err
	}
	return BadgeFor(st), nil
}

func (s *Service) DriverRatings(ctx context.Context, driverID types.ID) ([]*Rating, error) {
	return s.store.ListByDriver(ctx, driverID)
}

// AdminStats serves from the cache when a fresh value is present. Display only.
func (s *Service) AdminStats(ctx context.Context) (AdminStats, error) {
	if s.cache != nil && s.cacheTTL > 0 {
		if st, ok := s.cache.Get(ctx); ok {
			return st, nil
		}
	}
	return s.RefreshAdminStats(ctx)
}

// RefreshAdminStats recomputes the aggregate and stores it in the cache.
func (s *Service) RefreshAdminStats(ctx context.Context) (AdminStats, error) {
	var st AdminStats
	var err error
	if st.TotalOrders, err = s.orders.Count(ctx, order.Filter{}); err != nil {
		return AdminStats{}, err
	}
	if st.CompletedOrders, err = s.orders.Count(ctx, order.Filter{Statuses: []order.Status{order.StatusCompleted}}); err != nil {
		return AdminStats{}, err
	}
	if st.PendingOrders, err = s.orders.Count(ctx, order.Filter{Statuses: []order.Status{order.StatusNew}}); err != nil {
		return AdminStats{}, err
	}
	drivers, err := s.users.List(ctx, user.RoleDriver)
	if err != nil {
		return AdminStats{}, err
	}
	for _, d := range drivers {
		if !d.IsBlocked {
			st.ActiveDrivers++
		}
	}
	count, sum, err := s.store.Summary(ctx, "")
	if err != nil {
		return AdminStats{}, err
	}
	st.AverageRating = average(sum, count)
	st.ComputedAt = s.now()

	if s.cache != nil && s.cacheTTL > 0 {
		s.cache.Set(ctx, st, s.cacheTTL)
	}
	return st, nil
}

// truncateRunes cuts s to at most n runes without splitting a multibyte character.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
