// README: Access code store backed by PostgreSQL.
package accesscode

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tgtaxi/internal/types"
)

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Insert(ctx context.Context, c *AccessCode) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO access_codes (code, issued_by, is_used, used_by, created_at, used_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		c.Code, string(c.IssuedBy), c.IsUsed, idPtr(c.UsedBy), c.CreatedAt, c.UsedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrExists
	}
	return err
}

func (s *PGStore) Get(ctx context.Context, code string) (*AccessCode, error) {
	row := s.db.QueryRow(ctx, `
		SELECT code, issued_by, is_used, used_by, created_at, used_at
		FROM access_codes WHERE code = $1`, code)
	return scanCode(row)
}

func (s *PGStore) MarkUsed(ctx context.Context, code string, userID types.ID, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE access_codes
		SET is_used = TRUE, used_by = $2, used_at = $3
		WHERE code = $1 AND is_used = FALSE`,
		code, string(userID), at,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) List(ctx context.Context, issuedBy types.ID) ([]*AccessCode, error) {
	rows, err := s.db.Query(ctx, `
		SELECT code, issued_by, is_used, used_by, created_at, used_at
		FROM access_codes
		WHERE $1 = '' OR issued_by = $1
		ORDER BY created_at DESC`, string(issuedBy))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*AccessCode
	for rows.Next() {
		c, err := scanCode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCode(row pgx.Row) (*AccessCode, error) {
	var c AccessCode
	var usedBy *string
	err := row.Scan(&c.Code, &c.IssuedBy, &c.IsUsed, &usedBy, &c.CreatedAt, &c.UsedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if usedBy != nil {
		id := types.ID(*usedBy)
		c.UsedBy = &id
	}
	return &c, nil
}

func idPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
