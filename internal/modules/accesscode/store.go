// README: Access code store contract and in-memory implementation.
package accesscode

import (
	"context"
	"sort"
	"sync"
	"time"

	"tgtaxi/internal/types"
)

type Store interface {
	Insert(ctx context.Context, c *AccessCode) error
	Get(ctx context.Context, code string) (*AccessCode, error)
	// MarkUsed flips isUsed from false to true. It reports false when the code is missing or
	// already used; only one concurrent caller can ever observe true.
	MarkUsed(ctx context.Context, code string, userID types.ID, at time.Time) (bool, error)
	// List returns codes issued by issuedBy, or all codes when empty, newest first.
	List(ctx context.Context, issuedBy types.ID) ([]*AccessCode, error)
}

type MemoryStore struct {
	mu    sync.Mutex
	codes map[string]*AccessCode
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{codes: make(map[string]*AccessCode)}
}

func (s *MemoryStore) Insert(_ context.Context, c *AccessCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.codes[c.Code]; ok {
		return ErrExists
	}
	cp := *c
	s.codes[c.Code] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, code string) (*AccessCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[code]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) MarkUsed(_ context.Context, code string, userID types.ID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[code]
	if !ok || c.IsUsed {
		return false, nil
	}
	c.IsUsed = true
	c.UsedBy = &userID
	c.UsedAt = &at
	return true, nil
}

func (s *MemoryStore) List(_ context.Context, issuedBy types.ID) ([]*AccessCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*AccessCode, 0, len(s.codes))
	for _, c := range s.codes {
		if issuedBy != "" && c.IssuedBy != issuedBy {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
