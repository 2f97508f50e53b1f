// README: Order chat handlers.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tgtaxi/internal/http/middleware"
	"tgtaxi/internal/modules/chat"
	"tgtaxi/internal/modules/order"
	"tgtaxi/internal/types"
)

type ChatHandler struct {
	chat  *chat.Service
	order *order.Service
}

func NewChatHandler(chats *chat.Service, orders *order.Service) *ChatHandler {
	return &ChatHandler{chat: chats, order: orders}
}

func (h *ChatHandler) List(c *gin.Context) {
	id, ok := pathID(c, "orderId")
	if !ok {
		return
	}
	o, err := h.order.Get(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if !middleware.Privileged(c) && !o.Participant(types.ID(middleware.CallerUID(c))) {
		writeError(c, http.StatusForbidden, "forbidden: not a participant of this order")
		return
	}
	msgs, err := h.chat.List(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if msgs == nil {
		msgs = []*chat.Message{}
	}
	writeJSON(c, http.StatusOK, msgs)
}

type postMessageReq struct {
	OrderID  string `json:"orderId"`
	SenderID string `json:"senderId"`
	Message  string `json:"message"`
}

func (h *ChatHandler) Post(c *gin.Context) {
	var req postMessageReq
	if !bind(c, &req) {
		return
	}
	if !isValidID(req.OrderID) {
		writeError(c, http.StatusBadRequest, "invalid orderId")
		return
	}
	sender, ok := actingAs(c, req.SenderID)
	if !ok {
		return
	}
	m, err := h.chat.Post(c.Request.Context(), chat.PostCommand{
		OrderID:  types.ID(req.OrderID),
		SenderID: sender,
		Text:     req.Message,
		Admin:    middleware.Privileged(c),
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, m)
}
