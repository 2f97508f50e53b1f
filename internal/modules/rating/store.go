// README: Rating store contract, in-memory and PostgreSQL implementations.
package rating

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tgtaxi/internal/types"
)

type Store interface {
	// Insert stores r unless its order already has a rating, in which case it returns
	// ErrAlreadyRated and leaves the stored rating alone.
	Insert(ctx context.Context, r *Rating) error
	GetByOrder(ctx context.Context, orderID types.ID) (*Rating, error)
	// Summary returns the count and star sum for a driver, or for everyone when driverID is empty.
	Summary(ctx context.Context, driverID types.ID) (count, sum int, err error)
	ListByDriver(ctx context.Context, driverID types.ID) ([]*Rating, error)
}

type MemoryStore struct {
	mu      sync.Mutex
	byOrder map[types.ID]*Rating
	order   []types.ID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byOrder: make(map[types.ID]*Rating)}
}

func (s *MemoryStore) Insert(_ context.Context, r *Rating) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byOrder[r.OrderID]; ok {
		return ErrAlreadyRated
	}
	cp := *r
	s.byOrder[r.OrderID] = &cp
	s.order = append(s.order, r.OrderID)
	return nil
}

func (s *MemoryStore) GetByOrder(_ context.Context, orderID types.ID) (*Rating, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byOrder[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) Summary(_ context.Context, driverID types.ID) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count, sum := 0, 0
	for _, r := range s.byOrder {
		if driverID != "" && r.DriverID != driverID {
			continue
		}
		count++
		sum += r.Stars
	}
	return count, sum, nil
}

func (s *MemoryStore) ListByDriver(_ context.Context, driverID types.ID) ([]*Rating, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Rating
	for i := len(s.order) - 1; i >= 0; i-- {
		r := s.byOrder[s.order[i]]
		if r.DriverID == driverID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Insert(ctx context.Context, r *Rating) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO ratings (id, order_id, driver_id, stars, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		string(r.ID), string(r.OrderID), string(r.DriverID), r.Stars, r.Comment, r.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrAlreadyRated
	}
	return err
}

func (s *PGStore) GetByOrder(ctx context.Context, orderID types.ID) (*Rating, error) {
	var r Rating
	err := s.db.QueryRow(ctx, `
		SELECT id, order_id, driver_id, stars, comment, created_at
		FROM ratings WHERE order_id = $1`, string(orderID),
	).Scan(&r.ID, &r.OrderID, &r.DriverID, &r.Stars, &r.Comment, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PGStore) Summary(ctx context.Context, driverID types.ID) (int, int, error) {
	var count, sum int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(stars), 0)
		FROM ratings
		WHERE $1 = '' OR driver_id = $1`, string(driverID),
	).Scan(&count, &sum)
	return count, sum, err
}

func (s *PGStore) ListByDriver(ctx context.Context, driverID types.ID) ([]*Rating, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, order_id, driver_id, stars, comment, created_at
		FROM ratings WHERE driver_id = $1
		ORDER BY created_at DESC`, string(driverID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Rating
	for rows.Next() {
		var r Rating
		if err := rows.Scan(&r.ID, &r.OrderID, &r.DriverID, &r.Stars, &r.Comment, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
