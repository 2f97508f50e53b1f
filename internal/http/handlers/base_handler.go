// README: Base handler utilities (JSON helpers, caller checks, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tgtaxi/internal/http/middleware"
	"tgtaxi/internal/modules/accesscode"
	"tgtaxi/internal/modules/chat"
	"tgtaxi/internal/modules/order"
	"tgtaxi/internal/modules/ratelimit"
	"tgtaxi/internal/modules/rating"
	"tgtaxi/internal/modules/user"
	"tgtaxi/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

// isValidID accepts Telegram numeric ids and the hex ids the order module generates.
func isValidID(v string) bool {
	if v == "" || len(v) > 64 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// pathID reads and validates a path parameter; it writes 400 and returns false when invalid.
func pathID(c *gin.Context, name string) (types.ID, bool) {
	v := c.Param(name)
	if !isValidID(v) {
		writeError(c, http.StatusBadRequest, "invalid "+name)
		return "", false
	}
	return types.ID(v), true
}

// bind decodes the JSON body into v; it writes 400 and returns false on failure.
func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

// actingAs resolves whose behalf the request is made on. An empty claimed id means the caller;
// only privileged callers may name someone else.
func actingAs(c *gin.Context, claimed string) (types.ID, bool) {
	uid := middleware.CallerUID(c)
	if claimed == "" || claimed == uid {
		if uid == "" {
			writeError(c, http.StatusBadRequest, "missing user id")
			return "", false
		}
		return types.ID(uid), true
	}
	if !middleware.Privileged(c) {
		writeError(c, http.StatusForbidden, "forbidden: id does not match authenticated user")
		return "", false
	}
	return types.ID(claimed), true
}

// writeServiceError maps module sentinels to HTTP statuses.
func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, order.ErrBadRequest),
		errors.Is(err, user.ErrBadRequest),
		errors.Is(err, chat.ErrBadRequest),
		errors.Is(err, order.ErrNotAcceptable),
		errors.Is(err, order.ErrBidOutOfRange),
		errors.Is(err, accesscode.ErrInvalidCode),
		errors.Is(err, rating.ErrAlreadyRated),
		errors.Is(err, rating.ErrNotRateable):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, order.ErrForbidden),
		errors.Is(err, chat.ErrForbidden),
		errors.Is(err, rating.ErrForbidden):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, user.ErrNotFound),
		errors.Is(err, chat.ErrNotFound),
		errors.Is(err, rating.ErrNotFound),
		errors.Is(err, accesscode.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, order.ErrInvalidState),
		errors.Is(err, order.ErrActiveOrder),
		errors.Is(err, order.ErrConflict),
		errors.Is(err, user.ErrExists),
		errors.Is(err, chat.ErrClosed):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, ratelimit.ErrRateLimited):
		writeError(c, http.StatusTooManyRequests, err.Error())
	default:
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
