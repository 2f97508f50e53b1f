// README: Chat store contract, in-memory and PostgreSQL implementations.
package chat

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"tgtaxi/internal/types"
)

type Store interface {
	Append(ctx context.Context, m *Message) error
	// List returns the order's messages oldest first.
	List(ctx context.Context, orderID types.ID) ([]*Message, error)
	Purge(ctx context.Context, orderID types.ID) (int, error)
}

type MemoryStore struct {
	mu       sync.Mutex
	messages map[types.ID][]*Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{messages: make(map[types.ID][]*Message)}
}

func (s *MemoryStore) Append(_ context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.messages[m.OrderID] = append(s.messages[m.OrderID], &cp)
	return nil
}

func (s *MemoryStore) List(_ context.Context, orderID types.ID) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.messages[orderID]
	out := make([]*Message, len(src))
	for i, m := range src {
		cp := *m
		out[i] = &cp
	}
	return out, nil
}

func (s *MemoryStore) Purge(_ context.Context, orderID types.ID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.messages[orderID])
	delete(s.messages, orderID)
	return n, nil
}

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Append(ctx context.Context, m *Message) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO chat_messages (id, order_id, sender_id, message, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		string(m.ID), string(m.OrderID), string(m.SenderID), m.Text, m.CreatedAt,
	)
	return err
}

func (s *PGStore) List(ctx context.Context, orderID types.ID) ([]*Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, order_id, sender_id, message, created_at
		FROM chat_messages WHERE order_id = $1
		ORDER BY created_at, id`, string(orderID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.OrderID, &m.SenderID, &m.Text, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *PGStore) Purge(ctx context.Context, orderID types.ID) (int, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM chat_messages WHERE order_id = $1`, string(orderID))
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
