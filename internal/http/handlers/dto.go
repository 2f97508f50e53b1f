// README: JSON views of module aggregates.
package handlers

import (
	"time"

	"tgtaxi/internal/modules/accesscode"
	"tgtaxi/internal/modules/order"
	"tgtaxi/internal/modules/rating"
	"tgtaxi/internal/modules/user"
	"tgtaxi/internal/types"
)

type orderView struct {
	ID               types.ID     `json:"id"`
	Type             order.Type   `json:"type"`
	ClientID         types.ID     `json:"clientId"`
	DriverID         *types.ID    `json:"driverId"`
	From             string       `json:"from"`
	To               string       `json:"to"`
	Comment          string       `json:"comment,omitempty"`
	RequiredDetail   string       `json:"requiredDetail,omitempty"`
	Status           order.Status `json:"status"`
	StatusVersion    int          `json:"statusVersion"`
	Price            int64        `json:"price"`
	Currency         string       `json:"currency"`
	DriverBidPrice   *int64       `json:"driverBidPrice,omitempty"`
	DistanceKm       *float64     `json:"distanceKm,omitempty"`
	ProposalAttempts []types.ID   `json:"proposalAttempts,omitempty"`
	CreatedAt        time.Time    `json:"createdAt"`
	AcceptedAt       *time.Time   `json:"acceptedAt,omitempty"`
	ArrivedAt        *time.Time   `json:"arrivedAt,omitempty"`
	CompletedAt      *time.Time   `json:"completedAt,omitempty"`
	CancelledAt      *time.Time   `json:"cancelledAt,omitempty"`
	CancelReason     *string      `json:"cancelReason,omitempty"`
}

func toOrderView(o *order.Order) orderView {
	v := orderView{
		ID:               o.ID,
		Type:             o.Type,
		ClientID:         o.ClientID,
		DriverID:         o.DriverID,
		From:             o.From,
		To:               o.To,
		Comment:          o.Comment,
		RequiredDetail:   o.RequiredDetail,
		Status:           o.Status,
		StatusVersion:    o.StatusVersion,
		Price:            o.Price.Amount,
		Currency:         o.Price.Currency,
		DistanceKm:       o.DistanceKm,
		ProposalAttempts: o.ProposalAttempts,
		CreatedAt:        o.CreatedAt,
		AcceptedAt:       o.AcceptedAt,
		ArrivedAt:        o.ArrivedAt,
		CompletedAt:      o.CompletedAt,
		CancelledAt:      o.CancelledAt,
		CancelReason:     o.CancelReason,
	}
	if o.DriverBidPrice != nil {
		bid := o.DriverBidPrice.Amount
		v.DriverBidPrice = &bid
	}
	return v
}

func toOrderViews(in []*order.Order) []orderView {
	out := make([]orderView, 0, len(in))
	for _, o := range in {
		out = append(out, toOrderView(o))
	}
	return out
}

type eventView struct {
	From      order.Status    `json:"from"`
	To        order.Status    `json:"to"`
	ActorType order.ActorType `json:"actorType"`
	ActorID   *types.ID       `json:"actorId,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

func toEventViews(in []*order.Event) []eventView {
	out := make([]eventView, 0, len(in))
	for _, e := range in {
		out = append(out, eventView{
			From:      e.FromStatus,
			To:        e.ToStatus,
			ActorType: e.ActorType,
			ActorID:   e.ActorID,
			Reason:    e.Reason,
			CreatedAt: e.CreatedAt,
		})
	}
	return out
}

type userView struct {
	ID        types.ID       `json:"id"`
	Role      user.Role      `json:"role"`
	Name      string         `json:"name"`
	Phone     string         `json:"phone,omitempty"`
	IsBlocked bool           `json:"isBlocked"`
	Warnings  []user.Warning `json:"warnings"`
	Bonuses   []user.Bonus   `json:"bonuses"`
	Balance   int64          `json:"balance"`
	CreatedAt time.Time      `json:"createdAt"`
}

func toUserView(u *user.User) userView {
	v := userView{
		ID:        u.ID,
		Role:      u.Role,
		Name:      u.Name,
		Phone:     u.Phone,
		IsBlocked: u.IsBlocked,
		Warnings:  u.Warnings,
		Bonuses:   u.Bonuses,
		Balance:   u.Balance,
		CreatedAt: u.CreatedAt,
	}
	if v.Warnings == nil {
		v.Warnings = []user.Warning{}
	}
	if v.Bonuses == nil {
		v.Bonuses = []user.Bonus{}
	}
	return v
}

type codeView struct {
	Code      string     `json:"code"`
	IssuedBy  types.ID   `json:"issuedBy"`
	IsUsed    bool       `json:"isUsed"`
	UsedBy    *types.ID  `json:"usedBy,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UsedAt    *time.Time `json:"usedAt,omitempty"`
}

func toCodeView(c *accesscode.AccessCode) codeView {
	return codeView{
		Code:      c.Code,
		IssuedBy:  c.IssuedBy,
		IsUsed:    c.IsUsed,
		UsedBy:    c.UsedBy,
		CreatedAt: c.CreatedAt,
		UsedAt:    c.UsedAt,
	}
}

type ratingView struct {
	OrderID   types.ID  `json:"orderId"`
	Stars     int       `json:"stars"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func toRatingViews(in []*rating.Rating) []ratingView {
	out := make([]ratingView, 0, len(in))
	for _, r := range in {
		out = append(out, ratingView{OrderID: r.OrderID, Stars: r.Stars, Comment: r.Comment, CreatedAt: r.CreatedAt})
	}
	return out
}
