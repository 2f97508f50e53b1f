// README: Periodic maintenance jobs run with robfig/cron.
package housekeeping

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"tgtaxi/internal/modules/rating"
)

type Pruner interface {
	Prune() int
}

type ChatPurger interface {
	PurgeCompletedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

type StatsRefresher interface {
	RefreshAdminStats(ctx context.Context) (rating.AdminStats, error)
}

// Scheduler owns the cron runner. Jobs are registered before Start.
type Scheduler struct {
	cron *cron.Cron
	log  *zap.Logger
	now  func() time.Time
}

func NewScheduler(log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		cron: cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		log:  log,
		now:  time.Now,
	}
}

// PruneLimiter drops idle rate-limiter keys every minute.
func (s *Scheduler) PruneLimiter(p Pruner) error {
	return s.add("@every 1m", "prune_limiter", func(context.Context) error {
		if n := p.Prune(); n > 0 {
			s.log.Debug("pruned limiter keys", zap.Int("keys", n))
		}
		return nil
	})
}

// PurgeChats removes chats of orders completed more than retention ago, hourly.
func (s *Scheduler) PurgeChats(p ChatPurger, retention time.Duration) error {
	return s.add("@hourly", "purge_chats", func(ctx context.Context) error {
		n, err := p.PurgeCompletedBefore(ctx, s.now().Add(-retention))
		if err == nil && n > 0 {
			s.log.Info("purged chat messages", zap.Int("messages", n))
		}
		return err
	})
}

// WarmStats keeps the admin stats cache filled.
func (s *Scheduler) WarmStats(r StatsRefresher, every time.Duration) error {
	return s.add("@every "+every.String(), "warm_stats", func(ctx context.Context) error {
		_, err := r.RefreshAdminStats(ctx)
		return err
	})
}

func (s *Scheduler) add(spec, name string, job func(context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := job(ctx); err != nil {
			s.log.Warn("housekeeping job failed", zap.String("job", name), zap.Error(err))
		}
	})
	return err
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop waits for running jobs to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// Jobs returns the number of registered jobs.
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}
