// README: Order handlers for the lifecycle (create, accept, bid, arrive, complete, cancel) and queries.
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"tgtaxi/internal/http/middleware"
	"tgtaxi/internal/modules/order"
	"tgtaxi/internal/modules/ratelimit"
	"tgtaxi/internal/modules/rating"
	"tgtaxi/internal/types"
)

type OrderHandler struct {
	order  *order.Service
	rating *rating.Service
	guard  *ratelimit.Guard
}

func NewOrderHandler(orders *order.Service, ratings *rating.Service, guard *ratelimit.Guard) *OrderHandler {
	return &OrderHandler{order: orders, rating: ratings, guard: guard}
}

type createOrderReq struct {
	Type           string   `json:"type"`
	ClientID       string   `json:"clientId"`
	From           string   `json:"from"`
	To             string   `json:"to"`
	Comment        string   `json:"comment"`
	RequiredDetail string   `json:"requiredDetail"`
	DistanceKm     *float64 `json:"distanceKm"`
	Price          *int64   `json:"price"`
}

func (h *OrderHandler) Create(c *gin.Context) {
	var req createOrderReq
	if !bind(c, &req) {
		return
	}
	clientID, ok := actingAs(c, req.ClientID)
	if !ok {
		return
	}
	if req.Price != nil && !middleware.Privileged(c) {
		writeError(c, http.StatusForbidden, "forbidden: price override requires admin")
		return
	}

	if h.guard != nil {
		d := h.guard.Check(c.Request.Context(), ratelimit.Subject{
			Key:      clientID.String(),
			Admin:    middleware.CallerRole(c) == "admin",
			Internal: middleware.CallerRole(c) == middleware.RoleInternal,
		})
		if !d.Allowed {
			if secs := int(d.RetryAfter.Seconds()); secs > 0 {
				c.Header("Retry-After", strconv.Itoa(secs))
			}
			writeError(c, http.StatusTooManyRequests, d.Message())
			return
		}
	}

	o, err := h.order.Create(c.Request.Context(), order.CreateCommand{
		ClientID:       clientID,
		Type:           order.Type(req.Type),
		From:           req.From,
		To:             req.To,
		Comment:        req.Comment,
		RequiredDetail: req.RequiredDetail,
		DistanceKm:     req.DistanceKm,
		Price:          req.Price,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, toOrderView(o))
}

func (h *OrderHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	o, err := h.order.Get(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toOrderView(o))
}

// Active lists orders waiting for a driver.
func (h *OrderHandler) Active(c *gin.Context) {
	list, err := h.order.ListActive(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toOrderViews(list))
}

// Available lists the open orders the calling driver may still take.
func (h *OrderHandler) Available(c *gin.Context) {
	driverID, ok := actingAs(c, c.Query("driverId"))
	if !ok {
		return
	}
	list, err := h.order.AvailableFor(c.Request.Context(), driverID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toOrderViews(list))
}

func (h *OrderHandler) ByClient(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if _, ok := actingAs(c, id.String()); !ok {
		return
	}
	list, err := h.order.ListByClient(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toOrderViews(list))
}

func (h *OrderHandler) ByDriver(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if _, ok := actingAs(c, id.String()); !ok {
		return
	}
	list, err := h.order.ListByDriver(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toOrderViews(list))
}

func (h *OrderHandler) Events(c *gin.Context) {
	o, ok := h.participantOrder(c)
	if !ok {
		return
	}
	events, err := h.order.Events(c.Request.Context(), o.ID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toEventViews(events))
}

type acceptReq struct {
	DriverID   string   `json:"driverId"`
	DistanceKm *float64 `json:"distanceKm"`
}

func (h *OrderHandler) Accept(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req acceptReq
	if c.Request.ContentLength > 0 && !bind(c, &req) {
		return
	}
	driverID, ok := actingAs(c, req.DriverID)
	if !ok {
		return
	}
	o, err := h.order.Accept(c.Request.Context(), order.AcceptCommand{OrderID: id, DriverID: driverID, DistanceKm: req.DistanceKm})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toOrderView(o))
}

type bidReq struct {
	DriverID string `json:"driverId"`
	Price    int64  `json:"price"`
}

func (h *OrderHandler) Bid(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req bidReq
	if !bind(c, &req) {
		return
	}
	driverID, ok := actingAs(c, req.DriverID)
	if !ok {
		return
	}
	o, err := h.order.ProposeBid(c.Request.Context(), order.BidCommand{OrderID: id, DriverID: driverID, Price: req.Price})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toOrderView(o))
}

type respondReq struct {
	ClientID string `json:"clientId"`
	Accepted bool   `json:"accepted"`
}

func (h *OrderHandler) Respond(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req respondReq
	if !bind(c, &req) {
		return
	}
	clientID, ok := actingAs(c, req.ClientID)
	if !ok {
		return
	}
	o, err := h.order.RespondToBid(c.Request.Context(), order.RespondCommand{OrderID: id, ClientID: clientID, Accepted: req.Accepted})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toOrderView(o))
}

func (h *OrderHandler) Arrive(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	cmd := order.ArriveCommand{OrderID: id}
	if !middleware.Privileged(c) {
		cmd.DriverID = types.ID(middleware.CallerUID(c))
	}
	o, err := h.order.MarkArrived(c.Request.Context(), cmd)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toOrderView(o))
}

// Release hands an accepted order back to the pool.
func (h *OrderHandler) Release(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	cmd := order.ReleaseCommand{OrderID: id}
	if !middleware.Privileged(c) {
		cmd.DriverID = types.ID(middleware.CallerUID(c))
	}
	o, err := h.order.Release(c.Request.Context(), cmd)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toOrderView(o))
}

func (h *OrderHandler) Complete(c *gin.Context) {
	o, ok := h.participantOrder(c)
	if !ok {
		return
	}
	done, err := h.order.Complete(c.Request.Context(), order.CompleteCommand{OrderID: o.ID, Actor: actorFor(c, o)})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toOrderView(done))
}

type cancelReq struct {
	Reason string `json:"reason"`
}

func (h *OrderHandler) Cancel(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req cancelReq
	if c.Request.ContentLength > 0 && !bind(c, &req) {
		return
	}
	actor := order.Actor{Type: order.ActorClient, ID: types.ID(middleware.CallerUID(c))}
	if middleware.Privileged(c) {
		actor = order.Actor{Type: order.ActorAdmin, ID: types.ID(middleware.CallerUID(c))}
	}
	reason := req.Reason
	if reason == "" {
		reason = string(actor.Type) + "_cancel"
	}
	o, err := h.order.Cancel(c.Request.Context(), order.CancelCommand{OrderID: id, Actor: actor, Reason: reason})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toOrderView(o))
}

type editReq struct {
	ClientID       string   `json:"clientId"`
	From           *string  `json:"from"`
	To             *string  `json:"to"`
	Comment        *string  `json:"comment"`
	RequiredDetail *string  `json:"requiredDetail"`
	DistanceKm     *float64 `json:"distanceKm"`
}

func (h *OrderHandler) Edit(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req editReq
	if !bind(c, &req) {
		return
	}
	clientID, ok := actingAs(c, req.ClientID)
	if !ok {
		return
	}
	o, err := h.order.Edit(c.Request.Context(), order.EditCommand{
		OrderID:        id,
		ClientID:       clientID,
		From:           req.From,
		To:             req.To,
		Comment:        req.Comment,
		RequiredDetail: req.RequiredDetail,
		DistanceKm:     req.DistanceKm,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toOrderView(o))
}

type rateReq struct {
	Stars   int    `json:"stars"`
	Comment string `json:"comment"`
}

func (h *OrderHandler) Rate(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req rateReq
	if !bind(c, &req) {
		return
	}
	cmd := rating.RateCommand{OrderID: id, Stars: req.Stars, Comment: req.Comment}
	if !middleware.Privileged(c) {
		cmd.ClientID = types.ID(middleware.CallerUID(c))
	}
	if _, err := h.rating.RateOrder(c.Request.Context(), cmd); err != nil {
		if errors.Is(err, rating.ErrAlreadyRated) || errors.Is(err, rating.ErrNotRateable) {
			writeJSON(c, http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"success": true})
}

// participantOrder loads the :id order and checks the caller takes part in it.
func (h *OrderHandler) participantOrder(c *gin.Context) (*order.Order, bool) {
	id, ok := pathID(c, "id")
	if !ok {
		return nil, false
	}
	o, err := h.order.Get(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return nil, false
	}
	if !middleware.Privileged(c) && !o.Participant(types.ID(middleware.CallerUID(c))) {
		writeError(c, http.StatusForbidden, "forbidden: not a participant of this order")
		return nil, false
	}
	return o, true
}

func actorFor(c *gin.Context, o *order.Order) order.Actor {
	uid := types.ID(middleware.CallerUID(c))
	switch {
	case middleware.Privileged(c):
		return order.Actor{Type: order.ActorAdmin, ID: uid}
	case o.HasDriver(uid):
		return order.Actor{Type: order.ActorDriver, ID: uid}
	default:
		return order.Actor{Type: order.ActorClient, ID: uid}
	}
}
