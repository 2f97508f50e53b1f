// README: Admin handlers (drivers, access codes, moderation, stats, broadcast).
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tgtaxi/internal/http/middleware"
	"tgtaxi/internal/modules/accesscode"
	"tgtaxi/internal/modules/rating"
	"tgtaxi/internal/modules/user"
	"tgtaxi/internal/types"
)

// Broadcaster queues a text for many recipients without waiting for delivery.
type Broadcaster interface {
	Broadcast(recipients []types.ID, text string) int
}

type AdminHandler struct {
	users       *user.Service
	codes       *accesscode.Service
	rating      *rating.Service
	broadcaster Broadcaster
}

func NewAdminHandler(users *user.Service, codes *accesscode.Service, ratings *rating.Service, b Broadcaster) *AdminHandler {
	return &AdminHandler{users: users, codes: codes, rating: ratings, broadcaster: b}
}

func (h *AdminHandler) Drivers(c *gin.Context) {
	list, err := h.users.List(c.Request.Context(), user.RoleDriver)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	out := make([]userView, 0, len(list))
	for _, u := range list {
		out = append(out, toUserView(u))
	}
	writeJSON(c, http.StatusOK, out)
}

type generateCodeReq struct {
	AdminID string `json:"adminId"`
}

func (h *AdminHandler) GenerateCode(c *gin.Context) {
	var req generateCodeReq
	if c.Request.ContentLength > 0 && !bind(c, &req) {
		return
	}
	issuer := types.ID(middleware.CallerUID(c))
	if req.AdminID != "" {
		issuer = types.ID(req.AdminID)
	}
	code, err := h.codes.Generate(c.Request.Context(), issuer)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, toCodeView(code))
}

func (h *AdminHandler) Codes(c *gin.Context) {
	list, err := h.codes.List(c.Request.Context(), types.ID(c.Query("issuedBy")))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	out := make([]codeView, 0, len(list))
	for _, code := range list {
		out = append(out, toCodeView(code))
	}
	writeJSON(c, http.StatusOK, out)
}

type blockReq struct {
	Blocked *bool `json:"blocked"`
}

func (h *AdminHandler) Block(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req blockReq
	if c.Request.ContentLength > 0 && !bind(c, &req) {
		return
	}
	blocked := true
	if req.Blocked != nil {
		blocked = *req.Blocked
	}
	u, err := h.users.Block(c.Request.Context(), id, blocked)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toUserView(u))
}

type warningReq struct {
	Text string `json:"text"`
}

func (h *AdminHandler) Warning(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req warningReq
	if !bind(c, &req) {
		return
	}
	u, err := h.users.AddWarning(c.Request.Context(), id, req.Text)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toUserView(u))
}

type bonusReq struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

func (h *AdminHandler) Bonus(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req bonusReq
	if !bind(c, &req) {
		return
	}
	u, err := h.users.AddBonus(c.Request.Context(), id, req.Amount, req.Reason)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toUserView(u))
}

type roleReq struct {
	Role string `json:"role"`
}

func (h *AdminHandler) SetRole(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req roleReq
	if !bind(c, &req) {
		return
	}
	role, err := user.ParseRole(req.Role)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	u, err := h.users.SetRole(c.Request.Context(), id, role)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toUserView(u))
}

func (h *AdminHandler) Stats(c *gin.Context) {
	st, err := h.rating.AdminStats(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, st)
}

type broadcastReq struct {
	Text string `json:"text" binding:"required"`
	Role string `json:"role"`
}

// Broadcast queues the text for every user (optionally one role) and returns immediately.
func (h *AdminHandler) Broadcast(c *gin.Context) {
	var req broadcastReq
	if !bind(c, &req) {
		return
	}
	var role user.Role
	if req.Role != "" {
		r, err := user.ParseRole(req.Role)
		if err != nil {
			writeServiceError(c, err)
			return
		}
		role = r
	}
	list, err := h.users.List(c.Request.Context(), role)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	ids := make([]types.ID, 0, len(list))
	for _, u := range list {
		ids = append(ids, u.ID)
	}
	queued := 0
	if h.broadcaster != nil {
		queued = h.broadcaster.Broadcast(ids, req.Text)
	}
	writeJSON(c, http.StatusAccepted, gin.H{"recipients": len(ids), "queued": queued})
}
