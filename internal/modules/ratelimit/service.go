// README: Guard applies the limiter to order creation with admin and internal bypass.
package ratelimit

import (
	"context"

	"go.uber.org/zap"

	"tgtaxi/internal/metrics"
)

// Subject identifies who is creating an order. Key is the user id, or the client IP when the
// caller is anonymous.
type Subject struct {
	Key      string
	Admin    bool
	Internal bool
}

type Guard struct {
	limiter Limiter
	log     *zap.Logger
}

func NewGuard(limiter Limiter, log *zap.Logger) *Guard {
	if log == nil {
		log = zap.NewNop()
	}
	return &Guard{limiter: limiter, log: log}
}

// Check admits or denies one order creation. Limiter backend errors fail open.
func (g *Guard) Check(ctx context.Context, s Subject) Decision {
	if s.Admin || s.Internal {
		return Decision{Allowed: true}
	}
	d, err := g.limiter.Allow(ctx, s.Key)
	if err != nil {
		g.log.Warn("rate limiter unavailable", zap.String("key", s.Key), zap.Error(err))
		return Decision{Allowed: true}
	}
	if !d.Allowed {
		metrics.RecordRateLimited()
		g.log.Info("order creation rate limited", zap.String("key", s.Key), zap.Duration("retry_after", d.RetryAfter))
	}
	return d
}
