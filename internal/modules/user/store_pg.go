// README: User store backed by PostgreSQL.
package user

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tgtaxi/internal/types"
)

const userColumns = `id, role, name, phone, is_blocked, warnings, bonuses, balance, created_at, updated_at`

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*User, error) {
	row := s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, string(id))
	return scanUser(row)
}

func (s *PGStore) Insert(ctx context.Context, u *User) error {
	warnings, bonuses, err := encodeLists(u)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		string(u.ID), string(u.Role), u.Name, u.Phone, u.IsBlocked,
		warnings, bonuses, u.Balance, u.CreatedAt, u.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrExists
	}
	return err
}

func (s *PGStore) Update(ctx context.Context, id types.ID, fn func(*User) error) (*User, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	u, err := scanUser(tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, string(id)))
	if err != nil {
		return nil, err
	}
	if err := fn(u); err != nil {
		return nil, err
	}
	warnings, bonuses, err := encodeLists(u)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx, `
		UPDATE users
		SET role = $2, name = $3, phone = $4, is_blocked = $5,
		    warnings = $6, bonuses = $7, balance = $8, updated_at = $9
		WHERE id = $1`,
		string(u.ID), string(u.Role), u.Name, u.Phone, u.IsBlocked,
		warnings, bonuses, u.Balance, u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *PGStore) List(ctx context.Context, role Role) ([]*User, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE $1 = '' OR role = $1
		ORDER BY created_at`, string(role))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var role string
	var warnings, bonuses []byte
	err := row.Scan(&u.ID, &role, &u.Name, &u.Phone, &u.IsBlocked,
		&warnings, &bonuses, &u.Balance, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Role = Role(role)
	if len(warnings) > 0 {
		if err := json.Unmarshal(warnings, &u.Warnings); err != nil {
			return nil, fmt.Errorf("decode warnings: %w", err)
		}
	}
	if len(bonuses) > 0 {
		if err := json.Unmarshal(bonuses, &u.Bonuses); err != nil {
			return nil, fmt.Errorf("decode bonuses: %w", err)
		}
	}
	return &u, nil
}

func encodeLists(u *User) ([]byte, []byte, error) {
	warnings := u.Warnings
	if warnings == nil {
		warnings = []Warning{}
	}
	bonuses := u.Bonuses
	if bonuses == nil {
		bonuses = []Bonus{}
	}
	w, err := json.Marshal(warnings)
	if err != nil {
		return nil, nil, err
	}
	b, err := json.Marshal(bonuses)
	if err != nil {
		return nil, nil, err
	}
	return w, b, nil
}
