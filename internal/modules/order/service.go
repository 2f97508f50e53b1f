// README: Order service implements the lifecycle state machine, matching and bidding.
package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"tgtaxi/internal/modules/user"
	"tgtaxi/internal/types"
)

type Pricing interface {
	Estimate(ctx context.Context, distanceKm float64, orderType string) (types.Money, error)
}

type Drivers interface {
	Get(ctx context.Context, id types.ID) (*user.User, error)
}

// Change describes one committed transition. From is StatusNone for a freshly created order.
type Change struct {
	Order  *Order
	From   Status
	Actor  Actor
	Reason string
}

// Observer is told about every committed transition. Implementations must not block.
type Observer interface {
	OrderChanged(ctx context.Context, c Change)
}

type Options struct {
	Policy             Policy
	BidMin             int64
	BidMax             int64
	Currency           string
	MaxActivePerClient int
}

type Service struct {
	store     Store
	pricing   Pricing
	drivers   Drivers
	opts      Options
	observers []Observer
	validate  *validator.Validate
	log       *zap.Logger
	now       func() time.Time
}

func NewService(store Store, pricing Pricing, drivers Drivers, opts Options, log *zap.Logger) *Service {
	if opts.Policy == "" {
		opts.Policy = PolicyFixed
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:    store,
		pricing:  pricing,
		drivers:  drivers,
		opts:     opts,
		validate: validator.New(),
		log:      log,
		now:      time.Now,
	}
}

// Observe registers observers. Call before serving traffic.
func (s *Service) Observe(obs ...Observer) {
	s.observers = append(s.observers, obs...)
}

func (s *Service) Policy() Policy {
	return s.opts.Policy
}

var (
	ErrInvalidState  = errors.New("invalid state transition")
	ErrNotFound      = errors.New("order not found")
	ErrConflict      = errors.New("order state conflict")
	ErrActiveOrder   = errors.New("client has too many active orders")
	ErrBadRequest    = errors.New("bad request")
	ErrNotAcceptable = errors.New("order not acceptable")
	ErrForbidden     = errors.New("not a participant of this order")
	ErrBidOutOfRange = errors.New("bid outside allowed range")
)

type CreateCommand struct {
	ClientID       types.ID `validate:"required"`
	Type           Type     `validate:"required,oneof=taxi cargo courier towing"`
	From           string   `validate:"required,max=300"`
	To             string   `validate:"required,max=300"`
	Comment        string   `validate:"max=1000"`
	RequiredDetail string   `validate:"max=300"`
	DistanceKm     *float64 `validate:"omitempty,gte=0,lte=5000"`
	// Price overrides the tariff when set.
	Price *int64 `validate:"omitempty,gte=0"`
}

type AcceptCommand struct {
	OrderID  types.ID
	DriverID types.ID
	// DistanceKm, when set, re-prices the order from the tariff.
	DistanceKm *float64
}

type ReleaseCommand struct {
	OrderID types.ID
	// DriverID must match the holder; empty means an admin release.
	DriverID types.ID
}

type ArriveCommand struct {
	OrderID  types.ID
	DriverID types.ID
}

type CompleteCommand struct {
	OrderID types.ID
	Actor   Actor
}

type CancelCommand struct {
	OrderID types.ID
	Actor   Actor
	Reason  string
}

type BidCommand struct {
	OrderID  types.ID
	DriverID types.ID
	Price    int64
}

type RespondCommand struct {
	OrderID  types.ID
	ClientID types.ID
	Accepted bool
}

type EditCommand struct {
	OrderID types.ID
	// ClientID must own the order; empty means an admin edit.
	ClientID       types.ID
	From           *string  `validate:"omitempty,min=1,max=300"`
	To             *string  `validate:"omitempty,min=1,max=300"`
	Comment        *string  `validate:"omitempty,max=1000"`
	RequiredDetail *string  `validate:"omitempty,max=300"`
	DistanceKm     *float64 `validate:"omitempty,gte=0,lte=5000"`
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Order, error) {
	cmd.From = strings.TrimSpace(cmd.From)
	cmd.To = strings.TrimSpace(cmd.To)
	if err := s.validate.Struct(cmd); err != nil {
		return nil, ErrBadRequest
	}

	price := types.Money{Currency: s.opts.Currency}
	switch {
	case cmd.Price != nil:
		price.Amount = *cmd.Price
	case cmd.DistanceKm != nil && s.pricing != nil:
		m, err := s.pricing.Estimate(ctx, *cmd.DistanceKm, string(cmd.Type))
		if err != nil {
			return nil, fmt.Errorf("estimate price: %w", err)
		}
		price = m
	}

	o := &Order{
		ID:             newID(),
		Type:           cmd.Type,
		ClientID:       cmd.ClientID,
		From:           cmd.From,
		To:             cmd.To,
		Comment:        strings.TrimSpace(cmd.Comment),
		RequiredDetail: strings.TrimSpace(cmd.RequiredDetail),
		Status:         StatusNew,
		StatusVersion:  0,
		Price:          price,
		DistanceKm:     cmd.DistanceKm,
		CreatedAt:      s.now(),
	}
	if err := s.store.Create(ctx, o, s.opts.MaxActivePerClient); err != nil {
		return nil, err
	}
	s.record(ctx, Change{Order: o, From: StatusNone, Actor: Actor{Type: ActorClient, ID: cmd.ClientID}})
	return o, nil
}

// Accept lets a driver claim a new order. Under the fixed policy the order becomes accepted, under
// the bidding policy it moves to bidding. Of several drivers racing for the same order exactly one
// succeeds; the rest get ErrNotAcceptable.
func (s *Service) Accept(ctx context.Context, cmd AcceptCommand) (*Order, error) {
	if cmd.OrderID == "" || cmd.DriverID == "" {
		return nil, ErrBadRequest
	}
	if cmd.DistanceKm != nil && *cmd.DistanceKm < 0 {
		return nil, ErrBadRequest
	}
	if err := s.checkDriver(ctx, cmd.DriverID); err != nil {
		return nil, err
	}

	to := StatusAccepted
	if s.opts.Policy == PolicyBidding {
		to = StatusBidding
	}
	driverID := cmd.DriverID
	o, err := s.apply(ctx, cmd.OrderID, to, Actor{Type: ActorDriver, ID: driverID}, "", func(o *Order, now time.Time) error {
		if o.Status != StatusNew || o.ClientID == driverID || o.Attempted(driverID) {
			return ErrNotAcceptable
		}
		if cmd.DistanceKm != nil {
			km := *cmd.DistanceKm
			o.DistanceKm = &km
			if s.pricing != nil {
				m, err := s.pricing.Estimate(ctx, km, string(o.Type))
				if err != nil {
					return fmt.Errorf("estimate price: %w", err)
				}
				o.Price = m
			}
		}
		o.DriverID = &driverID
		if to == StatusAccepted {
			o.AcceptedAt = toTimePtr(now)
		}
		return nil
	})
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidState) || errors.Is(err, ErrConflict) {
		return nil, ErrNotAcceptable
	}
	return o, err
}

// Release hands a claimed order back to the pool.
func (s *Service) Release(ctx context.Context, cmd ReleaseCommand) (*Order, error) {
	actor := Actor{Type: ActorAdmin}
	if cmd.DriverID != "" {
		actor = Actor{Type: ActorDriver, ID: cmd.DriverID}
	}
	return s.apply(ctx, cmd.OrderID, StatusNew, actor, "released", func(o *Order, _ time.Time) error {
		if o.Status != StatusAccepted && o.Status != StatusBidding {
			return ErrInvalidState
		}
		if cmd.DriverID != "" && !o.HasDriver(cmd.DriverID) {
			return ErrForbidden
		}
		o.DriverID = nil
		o.DriverBidPrice = nil
		o.AcceptedAt = nil
		return nil
	})
}

// MarkArrived records that the driver is at the pickup point.
func (s *Service) MarkArrived(ctx context.Context, cmd ArriveCommand) (*Order, error) {
	return s.apply(ctx, cmd.OrderID, StatusInProgress, Actor{Type: ActorDriver, ID: cmd.DriverID}, "", func(o *Order, now time.Time) error {
		if o.Status != StatusAccepted {
			return ErrInvalidState
		}
		if cmd.DriverID != "" && !o.HasDriver(cmd.DriverID) {
			return ErrForbidden
		}
		o.ArrivedAt = toTimePtr(now)
		return nil
	})
}

func (s *Service) Complete(ctx context.Context, cmd CompleteCommand) (*Order, error) {
	return s.apply(ctx, cmd.OrderID, StatusCompleted, cmd.Actor, "", func(o *Order, now time.Time) error {
		if o.Status != StatusAccepted && o.Status != StatusInProgress {
			return ErrInvalidState
		}
		if cmd.Actor.Type == ActorDriver && !o.HasDriver(cmd.Actor.ID) {
			return ErrForbidden
		}
		if cmd.Actor.Type == ActorClient && o.ClientID != cmd.Actor.ID {
			return ErrForbidden
		}
		o.CompletedAt = toTimePtr(now)
		return nil
	})
}

// Cancel retains the order with status cancelled. Clients may cancel their own orders; admins and
// the system may cancel any non-completed order.
func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (*Order, error) {
	return s.apply(ctx, cmd.OrderID, StatusCancelled, cmd.Actor, cmd.Reason, func(o *Order, now time.Time) error {
		switch cmd.Actor.Type {
		case ActorClient:
			if o.ClientID != cmd.Actor.ID {
				return ErrForbidden
			}
		case ActorAdmin, ActorSystem:
		default:
			return ErrForbidden
		}
		o.CancelledAt = toTimePtr(now)
		if r := strings.TrimSpace(cmd.Reason); r != "" {
			o.CancelReason = &r
		}
		return nil
	})
}

// ProposeBid records the holding driver's price. Out-of-band bids change nothing.
func (s *Service) ProposeBid(ctx context.Context, cmd BidCommand) (*Order, error) {
	if cmd.Price < s.opts.BidMin || cmd.Price > s.opts.BidMax {
		return nil, ErrBidOutOfRange
	}
	return s.apply(ctx, cmd.OrderID, StatusBidding, Actor{Type: ActorDriver, ID: cmd.DriverID}, "", func(o *Order, _ time.Time) error {
		if o.Status != StatusBidding {
			return ErrInvalidState
		}
		if !o.HasDriver(cmd.DriverID) {
			return ErrForbidden
		}
		o.DriverBidPrice = &types.Money{Amount: cmd.Price, Currency: o.Price.Currency}
		return nil
	})
}

// RespondToBid accepts or rejects the current bid. A rejected driver is remembered and cannot claim
// the order again.
func (s *Service) RespondToBid(ctx context.Context, cmd RespondCommand) (*Order, error) {
	actor := Actor{Type: ActorClient, ID: cmd.ClientID}
	check := func(o *Order) error {
		if o.Status != StatusBidding {
			return ErrInvalidState
		}
		if o.ClientID != cmd.ClientID {
			return ErrForbidden
		}
		return nil
	}
	if cmd.Accepted {
		return s.apply(ctx, cmd.OrderID, StatusAccepted, actor, "", func(o *Order, now time.Time) error {
			if err := check(o); err != nil {
				return err
			}
			if o.DriverBidPrice == nil {
				return ErrInvalidState
			}
			o.Price = *o.DriverBidPrice
			o.AcceptedAt = toTimePtr(now)
			return nil
		})
	}
	return s.apply(ctx, cmd.OrderID, StatusNew, actor, ReasonRejectedByClient, func(o *Order, _ time.Time) error {
		if err := check(o); err != nil {
			return err
		}
		if o.DriverID != nil && !o.Attempted(*o.DriverID) {
			o.ProposalAttempts = append(o.ProposalAttempts, *o.DriverID)
		}
		o.DriverID = nil
		o.DriverBidPrice = nil
		return nil
	})
}

// Edit changes the route or notes of an order nobody has claimed yet.
func (s *Service) Edit(ctx context.Context, cmd EditCommand) (*Order, error) {
	if err := s.validate.Struct(cmd); err != nil {
		return nil, ErrBadRequest
	}
	actor := Actor{Type: ActorAdmin}
	if cmd.ClientID != "" {
		actor = Actor{Type: ActorClient, ID: cmd.ClientID}
	}
	return s.apply(ctx, cmd.OrderID, StatusNew, actor, "edited", func(o *Order, _ time.Time) error {
		if o.Status != StatusNew {
			return ErrInvalidState
		}
		if cmd.ClientID != "" && o.ClientID != cmd.ClientID {
			return ErrForbidden
		}
		if cmd.From != nil {
			o.From = strings.TrimSpace(*cmd.From)
		}
		if cmd.To != nil {
			o.To = strings.TrimSpace(*cmd.To)
		}
		if cmd.Comment != nil {
			o.Comment = strings.TrimSpace(*cmd.Comment)
		}
		if cmd.RequiredDetail != nil {
			o.RequiredDetail = strings.TrimSpace(*cmd.RequiredDetail)
		}
		if cmd.DistanceKm != nil {
			km := *cmd.DistanceKm
			o.DistanceKm = &km
			if s.pricing != nil {
				m, err := s.pricing.Estimate(ctx, km, string(o.Type))
				if err != nil {
					return fmt.Errorf("estimate price: %w", err)
				}
				o.Price = m
			}
		}
		return nil
	})
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Order, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter) ([]*Order, error) {
	return s.store.List(ctx, f)
}

func (s *Service) Count(ctx context.Context, f Filter) (int, error) {
	return s.store.Count(ctx, f)
}

// ListActive returns orders waiting for a driver.
func (s *Service) ListActive(ctx context.Context) ([]*Order, error) {
	return s.store.List(ctx, Filter{Statuses: []Status{StatusNew}})
}

// AvailableFor returns the waiting orders this driver may still claim.
func (s *Service) AvailableFor(ctx context.Context, driverID types.ID) ([]*Order, error) {
	all, err := s.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Order, 0, len(all))
	for _, o := range all {
		if o.ClientID == driverID || o.Attempted(driverID) {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (s *Service) ListByClient(ctx context.Context, clientID types.ID) ([]*Order, error) {
	return s.store.List(ctx, Filter{ClientID: clientID})
}

func (s *Service) ListByDriver(ctx context.Context, driverID types.ID) ([]*Order, error) {
	return s.store.List(ctx, Filter{DriverID: driverID})
}

func (s *Service) Events(ctx context.Context, id types.ID) ([]*Event, error) {
	return s.store.ListEvents(ctx, id)
}

func (s *Service) checkDriver(ctx context.Context, id types.ID) error {
	if s.drivers == nil {
		return nil
	}
	u, err := s.drivers.Get(ctx, id)
	if errors.Is(err, user.ErrNotFound) {
		return ErrNotAcceptable
	}
	if err != nil {
		return err
	}
	if !u.CanDrive() {
		return ErrNotAcceptable
	}
	return nil
}

// apply loads the order, lets mutate edit a copy and writes it back with a version check. Either
// the whole mutation lands or nothing does.
func (s *Service) apply(ctx context.Context, id types.ID, to Status, actor Actor, reason string, mutate func(*Order, time.Time) error) (*Order, error) {
	if id == "" {
		return nil, ErrBadRequest
	}
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	from := o.Status
	// Terminal orders never change again, not even into their own status.
	if o.Terminal() || (to != from && !CanTransition(from, to)) {
		return nil, ErrInvalidState
	}

	next := o.clone()
	if err := mutate(next, s.now()); err != nil {
		return nil, err
	}
	next.Status = to
	next.StatusVersion = o.StatusVersion + 1

	ok, err := s.store.Update(ctx, next, o.StatusVersion)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}
	s.record(ctx, Change{Order: next, From: from, Actor: actor, Reason: reason})
	return next, nil
}

// record writes the audit event and fans the change out to observers. Neither can undo the
// transition that already committed.
func (s *Service) record(ctx context.Context, c Change) {
	var actorID *types.ID
	if c.Actor.ID != "" {
		id := c.Actor.ID
		actorID = &id
	}
	actorType := c.Actor.Type
	if actorType == "" {
		actorType = ActorSystem
	}
	if err := s.store.AppendEvent(ctx, &Event{
		OrderID:    c.Order.ID,
		FromStatus: c.From,
		ToStatus:   c.Order.Status,
		ActorType:  actorType,
		ActorID:    actorID,
		Reason:     c.Reason,
		CreatedAt:  s.now(),
	}); err != nil {
		s.log.Warn("append order event", zap.String("order_id", c.Order.ID.String()), zap.Error(err))
	}
	s.log.Info("order transition",
		zap.String("order_id", c.Order.ID.String()),
		zap.String("from", string(c.From)),
		zap.String("to", string(c.Order.Status)),
		zap.String("actor", string(actorType)),
	)
	for _, obs := range s.observers {
		obs.OrderChanged(ctx, Change{Order: c.Order.clone(), From: c.From, Actor: c.Actor, Reason: c.Reason})
	}
}

func newID() types.ID {
	return types.ID(strings.ReplaceAll(uuid.NewString(), "-", ""))
}
