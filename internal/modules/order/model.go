// README: Order aggregate and status definitions.
package order

import (
	"time"

	"tgtaxi/internal/types"
)

type Status string

const (
	StatusNone       Status = "none"
	StatusNew        Status = "new"
	StatusBidding    Status = "bidding"
	StatusAccepted   Status = "accepted"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// ReasonRejectedByClient marks the bidding -> new edge taken when a client declines a bid.
const ReasonRejectedByClient = "rejected_by_client"

type Type string

const (
	TypeTaxi    Type = "taxi"
	TypeCargo   Type = "cargo"
	TypeCourier Type = "courier"
	TypeTowing  Type = "towing"
)

func (t Type) Valid() bool {
	switch t {
	case TypeTaxi, TypeCargo, TypeCourier, TypeTowing:
		return true
	}
	return false
}

type Policy string

const (
	PolicyFixed   Policy = "fixed"
	PolicyBidding Policy = "bidding"
)

type ActorType string

const (
	ActorClient ActorType = "client"
	ActorDriver ActorType = "driver"
	ActorAdmin  ActorType = "admin"
	ActorSystem ActorType = "system"
)

type Actor struct {
	Type ActorType
	ID   types.ID
}

type Order struct {
	ID               types.ID
	Type             Type
	ClientID         types.ID
	DriverID         *types.ID
	From             string
	To               string
	Comment          string
	RequiredDetail   string
	Status           Status
	StatusVersion    int
	Price            types.Money
	DriverBidPrice   *types.Money
	DistanceKm       *float64
	ProposalAttempts []types.ID
	CreatedAt        time.Time
	AcceptedAt       *time.Time
	ArrivedAt        *time.Time
	CompletedAt      *time.Time
	CancelledAt      *time.Time
	CancelReason     *string
}

// HasDriver reports whether id currently holds the order.
func (o *Order) HasDriver(id types.ID) bool {
	return o.DriverID != nil && *o.DriverID == id
}

// Attempted reports whether the driver already had a bid rejected on this order.
func (o *Order) Attempted(id types.ID) bool {
	for _, a := range o.ProposalAttempts {
		if a == id {
			return true
		}
	}
	return false
}

// Participant reports whether id is the client or the assigned driver.
func (o *Order) Participant(id types.ID) bool {
	return o.ClientID == id || o.HasDriver(id)
}

func (o *Order) Terminal() bool {
	return o.Status == StatusCompleted || o.Status == StatusCancelled
}

func (o *Order) clone() *Order {
	cp := *o
	cp.ProposalAttempts = append([]types.ID(nil), o.ProposalAttempts...)
	return &cp
}

type Event struct {
	ID         int64
	OrderID    types.ID
	FromStatus Status
	ToStatus   Status
	ActorType  ActorType
	ActorID    *types.ID
	Reason     string
	CreatedAt  time.Time
}

// Filter selects orders in List and Count. Zero fields match everything.
type Filter struct {
	Statuses []Status
	ClientID types.ID
	DriverID types.ID
	// CompletedBefore limits to orders completed strictly before the instant.
	CompletedBefore *time.Time
}

func (f Filter) matches(o *Order) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if o.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.ClientID != "" && o.ClientID != f.ClientID {
		return false
	}
	if f.DriverID != "" && !o.HasDriver(f.DriverID) {
		return false
	}
	if f.CompletedBefore != nil && (o.CompletedAt == nil || !o.CompletedAt.Before(*f.CompletedBefore)) {
		return false
	}
	return true
}

// ActiveStatuses are the non-terminal states.
var ActiveStatuses = []Status{StatusNew, StatusBidding, StatusAccepted, StatusInProgress}

// AllowedTransitions represents the order state flow (diagram) as code.
var AllowedTransitions = map[Status][]Status{
	StatusNew:        {StatusBidding, StatusAccepted, StatusCancelled},
	StatusBidding:    {StatusBidding, StatusAccepted, StatusNew, StatusCancelled},
	StatusAccepted:   {StatusInProgress, StatusCompleted, StatusNew, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}
