// README: Order store contract and the PostgreSQL implementation.
package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tgtaxi/internal/types"
)

type Store interface {
	// Create inserts o. When maxActive > 0 the count of the client's active orders and the insert
	// happen atomically, and ErrActiveOrder is returned once the client already holds maxActive.
	Create(ctx context.Context, o *Order, maxActive int) error
	Get(ctx context.Context, id types.ID) (*Order, error)
	// Update replaces the stored order with o only while the stored status_version still equals
	// expectedVersion. It reports false when another writer got there first.
	Update(ctx context.Context, o *Order, expectedVersion int) (bool, error)
	List(ctx context.Context, f Filter) ([]*Order, error)
	Count(ctx context.Context, f Filter) (int, error)
	AppendEvent(ctx context.Context, e *Event) error
	ListEvents(ctx context.Context, orderID types.ID) ([]*Event, error)
}

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

const orderColumns = `id, order_type, client_id, driver_id, from_address, to_address, comment, required_detail,
	status, status_version, price, currency, driver_bid_price, distance_km, proposal_attempts,
	created_at, accepted_at, arrived_at, completed_at, cancelled_at, cancellation_reason`

func (s *PGStore) Create(ctx context.Context, o *Order, maxActive int) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if maxActive > 0 {
		// Serializes creates per client until commit.
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "orders:"+string(o.ClientID)); err != nil {
			return fmt.Errorf("lock client orders: %w", err)
		}
		where, args := filterSQL(Filter{ClientID: o.ClientID, Statuses: ActiveStatuses})
		var n int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM orders`+where, args...).Scan(&n); err != nil {
			return err
		}
		if n >= maxActive {
			return ErrActiveOrder
		}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		        $16, $17, $18, $19, $20, $21)`,
		orderArgs(o)...,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Order, error) {
	row := s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, string(id))
	return scanOrder(row)
}

func (s *PGStore) Update(ctx context.Context, o *Order, expectedVersion int) (bool, error) {
	args := orderArgs(o)
	args = append(args, expectedVersion)
	tag, err := s.db.Exec(ctx, `
		UPDATE orders
		SET order_type = $2, client_id = $3, driver_id = $4, from_address = $5, to_address = $6,
		    comment = $7, required_detail = $8, status = $9, status_version = $10, price = $11,
		    currency = $12, driver_bid_price = $13, distance_km = $14, proposal_attempts = $15,
		    created_at = $16, accepted_at = $17, arrived_at = $18, completed_at = $19,
		    cancelled_at = $20, cancellation_reason = $21
		WHERE id = $1 AND status_version = $22`,
		args...,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) List(ctx context.Context, f Filter) ([]*Order, error) {
	where, args := filterSQL(f)
	rows, err := s.db.Query(ctx, `SELECT `+orderColumns+` FROM orders`+where+` ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *PGStore) Count(ctx context.Context, f Filter) (int, error) {
	where, args := filterSQL(f)
	var n int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM orders`+where, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *PGStore) AppendEvent(ctx context.Context, e *Event) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO order_state_events (
			order_id, from_status, to_status, actor_type, actor_id, reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(e.OrderID),
		string(e.FromStatus),
		string(e.ToStatus),
		string(e.ActorType),
		toStringPtr(e.ActorID),
		e.Reason,
		e.CreatedAt,
	)
	return err
}

func (s *PGStore) ListEvents(ctx context.Context, orderID types.ID) ([]*Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, order_id, from_status, to_status, actor_type, actor_id, reason, created_at
		FROM order_state_events
		WHERE order_id = $1
		ORDER BY id`, string(orderID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		var e Event
		var actorID *string
		if err := rows.Scan(&e.ID, &e.OrderID, &e.FromStatus, &e.ToStatus, &e.ActorType, &actorID, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		if actorID != nil {
			id := types.ID(*actorID)
			e.ActorID = &id
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func filterSQL(f Filter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		add("status = ANY($%d)", statuses)
	}
	if f.ClientID != "" {
		add("client_id = $%d", string(f.ClientID))
	}
	if f.DriverID != "" {
		add("driver_id = $%d", string(f.DriverID))
	}
	if f.CompletedBefore != nil {
		add("completed_at < $%d", *f.CompletedBefore)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func orderArgs(o *Order) []any {
	var bid *int64
	if o.DriverBidPrice != nil {
		v := o.DriverBidPrice.Amount
		bid = &v
	}
	attempts := make([]string, len(o.ProposalAttempts))
	for i, a := range o.ProposalAttempts {
		attempts[i] = string(a)
	}
	return []any{
		string(o.ID),
		string(o.Type),
		string(o.ClientID),
		toStringPtr(o.DriverID),
		o.From,
		o.To,
		o.Comment,
		o.RequiredDetail,
		string(o.Status),
		o.StatusVersion,
		o.Price.Amount,
		o.Price.Currency,
		bid,
		o.DistanceKm,
		attempts,
		o.CreatedAt,
		o.AcceptedAt,
		o.ArrivedAt,
		o.CompletedAt,
		o.CancelledAt,
		o.CancelReason,
	}
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var orderType, status string
	var driverID *string
	var bid *int64
	var attempts []string

	err := row.Scan(
		&o.ID, &orderType, &o.ClientID, &driverID, &o.From, &o.To, &o.Comment, &o.RequiredDetail,
		&status, &o.StatusVersion, &o.Price.Amount, &o.Price.Currency, &bid, &o.DistanceKm, &attempts,
		&o.CreatedAt, &o.AcceptedAt, &o.ArrivedAt, &o.CompletedAt, &o.CancelledAt, &o.CancelReason,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	o.Type = Type(orderType)
	o.Status = Status(status)
	if driverID != nil {
		d := types.ID(*driverID)
		o.DriverID = &d
	}
	if bid != nil {
		o.DriverBidPrice = &types.Money{Amount: *bid, Currency: o.Price.Currency}
	}
	for _, a := range attempts {
		o.ProposalAttempts = append(o.ProposalAttempts, types.ID(a))
	}
	return &o, nil
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func toTimePtr(t time.Time) *time.Time {
	return &t
}
