// README: In-memory order store; versions are checked under one mutex so Update is a true CAS.
package order

import (
	"context"
	"sort"
	"sync"

	"tgtaxi/internal/types"
)

type MemoryStore struct {
	mu      sync.Mutex
	orders  map[types.ID]*Order
	events  map[types.ID][]*Event
	eventID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[types.ID]*Order),
		events: make(map[types.ID][]*Event),
	}
}

func (s *MemoryStore) Create(_ context.Context, o *Order, maxActive int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; ok {
		return ErrConflict
	}
	if maxActive > 0 {
		active := Filter{ClientID: o.ClientID, Statuses: ActiveStatuses}
		n := 0
		for _, cur := range s.orders {
			if active.matches(cur) {
				n++
			}
		}
		if n >= maxActive {
			return ErrActiveOrder
		}
	}
	s.orders[o.ID] = o.clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id types.ID) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o.clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, o *Order, expectedVersion int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.orders[o.ID]
	if !ok {
		return false, ErrNotFound
	}
	if cur.StatusVersion != expectedVersion {
		return false, nil
	}
	s.orders[o.ID] = o.clone()
	return true, nil
}

func (s *MemoryStore) List(_ context.Context, f Filter) ([]*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Order
	for _, o := range s.orders {
		if f.matches(o) {
			out = append(out, o.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Count(_ context.Context, f Filter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, o := range s.orders {
		if f.matches(o) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventID++
	cp := *e
	cp.ID = s.eventID
	s.events[e.OrderID] = append(s.events[e.OrderID], &cp)
	return nil
}

func (s *MemoryStore) ListEvents(_ context.Context, orderID types.ID) ([]*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.events[orderID]
	out := make([]*Event, len(src))
	for i, e := range src {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}
