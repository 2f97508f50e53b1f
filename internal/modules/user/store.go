// README: User store contract plus the in-memory implementation used by tests and memory mode.
package user

import (
	"context"
	"sort"
	"sync"

	"tgtaxi/internal/types"
)

type Store interface {
	Get(ctx context.Context, id types.ID) (*User, error)
	// Insert fails with ErrExists when the id is taken.
	Insert(ctx context.Context, u *User) error
	// Update loads the user, applies fn and persists the result as one atomic step.
	// If fn returns an error nothing is written.
	Update(ctx context.Context, id types.ID, fn func(*User) error) (*User, error)
	// List returns users with the given role, or all users when role is empty.
	List(ctx context.Context, role Role) ([]*User, error)
}

type MemoryStore struct {
	mu    sync.Mutex
	users map[types.ID]*User
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[types.ID]*User)}
}

func (s *MemoryStore) Get(_ context.Context, id types.ID) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return u.clone(), nil
}

func (s *MemoryStore) Insert(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; ok {
		return ErrExists
	}
	s.users[u.ID] = u.clone()
	return nil
}

func (s *MemoryStore) Update(_ context.Context, id types.ID, fn func(*User) error) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := cur.clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	s.users[id] = next
	return next.clone(), nil
}

func (s *MemoryStore) List(_ context.Context, role Role) ([]*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*User, 0, len(s.users))
	for _, u := range s.users {
		if role != "" && u.Role != role {
			continue
		}
		out = append(out, u.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
