// README: User profile handlers and driver registration by access code.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tgtaxi/internal/modules/accesscode"
	"tgtaxi/internal/modules/user"
)

type UserHandler struct {
	users *user.Service
	codes *accesscode.Service
}

func NewUserHandler(users *user.Service, codes *accesscode.Service) *UserHandler {
	return &UserHandler{users: users, codes: codes}
}

func (h *UserHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if _, ok := actingAs(c, id.String()); !ok {
		return
	}
	u, err := h.users.Get(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toUserView(u))
}

type createUserReq struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// Create registers a client profile for the caller (or anyone, for privileged callers).
func (h *UserHandler) Create(c *gin.Context) {
	var req createUserReq
	if !bind(c, &req) {
		return
	}
	id, ok := actingAs(c, req.ID)
	if !ok {
		return
	}
	u, err := h.users.Create(c.Request.Context(), user.CreateCommand{ID: id, Name: req.Name, Phone: req.Phone})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, toUserView(u))
}

type updateUserReq struct {
	Name  *string `json:"name"`
	Phone *string `json:"phone"`
}

func (h *UserHandler) Update(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if _, ok := actingAs(c, id.String()); !ok {
		return
	}
	var req updateUserReq
	if !bind(c, &req) {
		return
	}
	u, err := h.users.Update(c.Request.Context(), id, user.UpdateCommand{Name: req.Name, Phone: req.Phone})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toUserView(u))
}

type registerDriverReq struct {
	UserID string `json:"userId"`
	Code   string `json:"code"`
	Name   string `json:"name"`
	Phone  string `json:"phone"`
}

func (h *UserHandler) RegisterDriver(c *gin.Context) {
	var req registerDriverReq
	if !bind(c, &req) {
		return
	}
	id, ok := actingAs(c, req.UserID)
	if !ok {
		return
	}
	u, err := h.codes.RegisterDriverWithCode(c.Request.Context(), id, req.Code, req.Name, req.Phone)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toUserView(u))
}
