package rating

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tgtaxi/internal/modules/order"
	"tgtaxi/internal/modules/user"
	"tgtaxi/internal/types"
)

type fixture struct {
	orders *order.Service
	users  *user.Service
	svc    *Service
	cache  *MemoryCache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	users := user.NewService(user.NewMemoryStore(), nil)
	orders := order.NewService(order.NewMemoryStore(), nil, users, order.Options{Policy: order.PolicyFixed, Currency: "RUB"}, nil)
	cache := NewMemoryCache()
	ctx := context.Background()
	for _, id := range []types.ID{"d1", "d2"} {
		_, err := users.BecomeDriver(ctx, id, "Driver "+id.String(), "+1")
		require.NoError(t, err)
	}
	return &fixture{
		orders: orders,
		users:  users,
		svc:    NewService(NewMemoryStore(), orders, users, cache, 30*time.Second, nil),
		cache:  cache,
	}
}

func (f *fixture) completedOrder(t *testing.T, client, driver types.ID) *order.Order {
	t.Helper()
	ctx := context.Background()
	o, err := f.orders.Create(ctx, order.CreateCommand{ClientID: client, Type: order.TypeTaxi, From: "A", To: "B"})
	require.NoError(t, err)
	_, err = f.orders.Accept(ctx, order.AcceptCommand{OrderID: o.ID, DriverID: driver})
	require.NoError(t, err)
	done, err := f.orders.Complete(ctx, order.CompleteCommand{OrderID: o.ID, Actor: order.Actor{Type: order.ActorDriver, ID: driver}})
	require.NoError(t, err)
	return done
}

func TestStatsConsistency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, stars := range []int{5, 4, 3} {
		o := f.completedOrder(t, "c1", "d1")
		_, err := f.svc.RateOrder(ctx, RateCommand{OrderID: o.ID, Stars: stars})
		require.NoError(t, err)
	}

	st, err := f.svc.DriverStats(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, DriverStats{DriverID: "d1", CompletedOrders: 3, TotalRatings: 3, AverageRating: 4.0}, st)

	other, err := f.svc.DriverStats(ctx, "d2")
	require.NoError(t, err)
	assert.Zero(t, other.CompletedOrders)
	assert.Zero(t, other.AverageRating)
}

func TestRateOrderIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.completedOrder(t, "c1", "d1")

	first, err := f.svc.RateOrder(ctx, RateCommand{OrderID: o.ID, Stars: 9, Comment: "  great  "})
	require.NoError(t, err)
	assert.Equal(t, 5, first.Stars)
	assert.Equal(t, "great", first.Comment)

	_, err = f.svc.RateOrder(ctx, RateCommand{OrderID: o.ID, Stars: 1})
	assert.ErrorIs(t, err, ErrAlreadyRated)

	stored, err := f.svc.store.GetByOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stored.Stars)
}

func TestRateOrderTruncatesCommentByRunes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.completedOrder(t, "c1", "d1")

	long := "a" + strings.Repeat("ж", 600)
	r, err := f.svc.RateOrder(ctx, RateCommand{OrderID: o.ID, Stars: 4, Comment: long})
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(r.Comment))
	assert.Equal(t, MaxCommentLen, utf8.RuneCountInString(r.Comment))
	assert.Equal(t, "a"+strings.Repeat("ж", MaxCommentLen-1), r.Comment)

	short := f.completedOrder(t, "c2", "d2")
	r, err = f.svc.RateOrder(ctx, RateCommand{OrderID: short.ID, Stars: 4, Comment: strings.Repeat("ж", 300)})
	require.NoError(t, err)
	assert.Equal(t, 300, utf8.RuneCountInString(r.Comment), "600 bytes but only 300 runes stays whole")
}

func TestRateOrderConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.completedOrder(t, "c1", "d1")

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(stars int) {
			defer wg.Done()
			_, err := f.svc.RateOrder(ctx, RateCommand{OrderID: o.ID, Stars: stars})
			errs <- err
		}(i%5 + 1)
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrAlreadyRated)
	}
	assert.Equal(t, 1, ok)
}

func TestRateOrderPreconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RateOrder(ctx, RateCommand{OrderID: "nope", Stars: 5})
	assert.ErrorIs(t, err, ErrNotFound)

	open, err := f.orders.Create(ctx, order.CreateCommand{ClientID: "c1", Type: order.TypeTaxi, From: "A", To: "B"})
	require.NoError(t, err)
	_, err = f.svc.RateOrder(ctx, RateCommand{OrderID: open.ID, Stars: 5})
	assert.ErrorIs(t, err, ErrNotRateable)

	_, err = f.orders.Cancel(ctx, order.CancelCommand{OrderID: open.ID, Actor: order.Actor{Type: order.ActorClient, ID: "c1"}})
	require.NoError(t, err)
	_, err = f.svc.RateOrder(ctx, RateCommand{OrderID: open.ID, Stars: 5})
	assert.ErrorIs(t, err, ErrNotRateable)

	done := f.completedOrder(t, "c1", "d1")
	_, err = f.svc.RateOrder(ctx, RateCommand{OrderID: done.ID, ClientID: "c2", Stars: 5})
	assert.ErrorIs(t, err, ErrForbidden)

	r, err := f.svc.RateOrder(ctx, RateCommand{OrderID: done.ID, ClientID: "c1", Stars: -3})
	require.NoError(t, err)
	assert.Equal(t, MinStars, r.Stars)
}

func TestBadgeFor(t *testing.T) {
	cases := []struct {
		name string
		in   DriverStats
		want Badge
	}{
		{"new driver", DriverStats{}, BadgeNone},
		{"experienced", DriverStats{CompletedOrders: 10, TotalRatings: 2, AverageRating: 3.5}, BadgeExperienced},
		{"top driver", DriverStats{CompletedOrders: 12, TotalRatings: 5, AverageRating: 4.8}, BadgeTopDriver},
		{"too few ratings", DriverStats{CompletedOrders: 4, TotalRatings: 4, AverageRating: 5}, BadgeNone},
		{"legend wins", DriverStats{CompletedOrders: 100, TotalRatings: 50, AverageRating: 4.9}, BadgeLegend},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, BadgeFor(tc.in))
		})
	}
}

func TestAdminStatsCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	f.cache.now = func() time.Time { return now }

	o := f.completedOrder(t, "c1", "d1")
	_, err := f.svc.RateOrder(ctx, RateCommand{OrderID: o.ID, Stars: 4})
	require.NoError(t, err)
	_, err = f.orders.Create(ctx, order.CreateCommand{ClientID: "c2", Type: order.TypeCargo, From: "A", To: "B"})
	require.NoError(t, err)

	st, err := f.svc.AdminStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.TotalOrders)
	assert.Equal(t, 1, st.CompletedOrders)
	assert.Equal(t, 1, st.PendingOrders)
	assert.Equal(t, 2, st.ActiveDrivers)
	assert.Equal(t, 4.0, st.AverageRating)

	_, err = f.orders.Create(ctx, order.CreateCommand{ClientID: "c3", Type: order.TypeCargo, From: "A", To: "B"})
	require.NoError(t, err)

	cached, err := f.svc.AdminStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, cached.TotalOrders)

	now = now.Add(31 * time.Second)
	fresh, err := f.svc.AdminStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, fresh.TotalOrders)
}

func TestCacheTTLIsCapped(t *testing.T) {
	svc := NewService(NewMemoryStore(), nil, nil, NewMemoryCache(), time.Hour, nil)
	assert.Equal(t, 30*time.Second, svc.cacheTTL)
}
