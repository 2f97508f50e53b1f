// README: Announcement bookkeeping in Redis sets, with an in-memory twin.
package matching

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"tgtaxi/internal/types"
)

type Store interface {
	// RecordDispatch stores the first dispatch time; later calls keep the original.
	RecordDispatch(ctx context.Context, orderID types.ID, at time.Time) error
	// GetDispatchedAt returns when the order was first dispatched, and whether it has been dispatched.
	GetDispatchedAt(ctx context.Context, orderID types.ID) (time.Time, bool, error)
	// MarkNotified adds drivers to the order's notified set and returns the ones that were new.
	MarkNotified(ctx context.Context, orderID types.ID, drivers []types.ID) ([]types.ID, error)
	// MarkOrderBroadcast reports true only for the first caller.
	MarkOrderBroadcast(ctx context.Context, orderID types.ID) (bool, error)
}

const (
	dispatchKeyPrefix  = "matching:order:%s:dispatched_at"
	broadcastKeyPrefix = "matching:order:%s:broadcast"
	notifiedKeyPrefix  = "matching:order:%s:notified"
)

type RedisStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultKeyTTL
	}
	return &RedisStore{redis: rdb, ttl: ttl}
}

func (s *RedisStore) RecordDispatch(ctx context.Context, orderID types.ID, at time.Time) error {
	return s.redis.SetNX(ctx, key(dispatchKeyPrefix, orderID), at.UTC().Format(time.RFC3339Nano), s.ttl).Err()
}

func (s *RedisStore) GetDispatchedAt(ctx context.Context, orderID types.ID) (time.Time, bool, error) {
	val, err := s.redis.Get(ctx, key(dispatchKeyPrefix, orderID)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

func (s *RedisStore) MarkNotified(ctx context.Context, orderID types.ID, drivers []types.ID) ([]types.ID, error) {
	if len(drivers) == 0 {
		return nil, nil
	}
	k := key(notifiedKeyPrefix, orderID)
	pipe := s.redis.TxPipeline()
	cmds := make([]*redis.IntCmd, len(drivers))
	for i, d := range drivers {
		cmds[i] = pipe.SAdd(ctx, k, string(d))
	}
	pipe.Expire(ctx, k, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	var fresh []types.ID
	for i, c := range cmds {
		if c.Val() == 1 {
			fresh = append(fresh, drivers[i])
		}
	}
	return fresh, nil
}

func (s *RedisStore) MarkOrderBroadcast(ctx context.Context, orderID types.ID) (bool, error) {
	return s.redis.SetNX(ctx, key(broadcastKeyPrefix, orderID), "1", s.ttl).Result()
}

func key(prefix string, orderID types.ID) string {
	return fmt.Sprintf(prefix, string(orderID))
}

type memoryEntry struct {
	dispatchedAt time.Time
	broadcast    bool
	notified     map[types.ID]struct{}
}

// MemoryStore keeps bookkeeping for a single process. Entries are never expired.
type MemoryStore struct {
	mu     sync.Mutex
	orders map[types.ID]*memoryEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[types.ID]*memoryEntry)}
}

func (s *MemoryStore) entry(id types.ID) *memoryEntry {
	e, ok := s.orders[id]
	if !ok {
		e = &memoryEntry{notified: make(map[types.ID]struct{})}
		s.orders[id] = e
	}
	return e
}

func (s *MemoryStore) RecordDispatch(_ context.Context, orderID types.ID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(orderID)
	if e.dispatchedAt.IsZero() {
		e.dispatchedAt = at
	}
	return nil
}

func (s *MemoryStore) GetDispatchedAt(_ context.Context, orderID types.ID) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.orders[orderID]
	if !ok || e.dispatchedAt.IsZero() {
		return time.Time{}, false, nil
	}
	return e.dispatchedAt, true, nil
}

func (s *MemoryStore) MarkNotified(_ context.Context, orderID types.ID, drivers []types.ID) ([]types.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(orderID)
	var fresh []types.ID
	for _, d := range drivers {
		if _, ok := e.notified[d]; ok {
			continue
		}
		e.notified[d] = struct{}{}
		fresh = append(fresh, d)
	}
	return fresh, nil
}

func (s *MemoryStore) MarkOrderBroadcast(_ context.Context, orderID types.ID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(orderID)
	if e.broadcast {
		return false, nil
	}
	e.broadcast = true
	return true, nil
}
