package housekeeping

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tgtaxi/internal/modules/rating"
)

type countingPruner struct{ calls int }

func (p *countingPruner) Prune() int { p.calls++; return 1 }

type chatPurger struct{ cutoff time.Time }

func (p *chatPurger) PurgeCompletedBefore(_ context.Context, cutoff time.Time) (int, error) {
	p.cutoff = cutoff
	return 3, nil
}

type refresher struct{}

func (refresher) RefreshAdminStats(context.Context) (rating.AdminStats, error) {
	return rating.AdminStats{}, nil
}

func TestRegisterJobs(t *testing.T) {
	s := NewScheduler(nil)
	require.NoError(t, s.PruneLimiter(&countingPruner{}))
	require.NoError(t, s.PurgeChats(&chatPurger{}, 24*time.Hour))
	require.NoError(t, s.WarmStats(refresher{}, 20*time.Second))
	assert.Equal(t, 3, s.Jobs())

	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestPurgeChatsUsesRetention(t *testing.T) {
	now := time.Date(2026, 5, 2, 12, 0, 0, 0, time.UTC)
	s := NewScheduler(nil)
	s.now = func() time.Time { return now }
	p := &chatPurger{}
	require.NoError(t, s.PurgeChats(p, 24*time.Hour))

	entries := s.cron.Entries()
	require.Len(t, entries, 1)
	entries[0].Job.Run()
	assert.Equal(t, now.Add(-24*time.Hour), p.cutoff)
}

func TestBadSpecIsRejected(t *testing.T) {
	s := NewScheduler(nil)
	assert.Error(t, s.add("every now and then", "bad", func(context.Context) error { return nil }))
}
