// README: Telegram Mini App sign-in; exchanges verified init data for a session token.
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"tgtaxi/internal/infra"
	"tgtaxi/internal/modules/user"
	"tgtaxi/internal/types"
)

type TokenIssuer interface {
	Issue(uid, role string) (string, error)
}

type AuthHandler struct {
	users    *user.Service
	issuer   TokenIssuer
	botToken string
	maxAge   time.Duration
	now      func() time.Time
}

func NewAuthHandler(users *user.Service, issuer TokenIssuer, botToken string, maxAge time.Duration) *AuthHandler {
	return &AuthHandler{users: users, issuer: issuer, botToken: botToken, maxAge: maxAge, now: time.Now}
}

type telegramAuthReq struct {
	InitData string `json:"initData" binding:"required"`
}

func (h *AuthHandler) Telegram(c *gin.Context) {
	var req telegramAuthReq
	if !bind(c, &req) {
		return
	}
	tgUser, err := infra.VerifyInitData(req.InitData, h.botToken, h.maxAge, h.now())
	if errors.Is(err, infra.ErrInitDataExpired) {
		writeError(c, http.StatusUnauthorized, err.Error())
		return
	}
	if err != nil {
		writeError(c, http.StatusUnauthorized, "invalid init data")
		return
	}

	u, err := h.users.Ensure(c.Request.Context(), types.ID(strconv.FormatInt(tgUser.ID, 10)), tgUser.DisplayName())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	token, err := h.issuer.Issue(u.ID.String(), string(u.Role))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"token": token, "user": toUserView(u)})
}
