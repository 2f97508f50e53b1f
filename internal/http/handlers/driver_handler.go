// README: Driver-facing read handlers (stats, badge, ratings).
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tgtaxi/internal/modules/rating"
)

type DriverHandler struct {
	rating *rating.Service
}

func NewDriverHandler(ratings *rating.Service) *DriverHandler {
	return &DriverHandler{rating: ratings}
}

type driverStatsView struct {
	rating.DriverStats
	Badge      rating.Badge `json:"badge,omitempty"`
	BadgeLabel string       `json:"badgeLabel,omitempty"`
}

func (h *DriverHandler) Stats(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	st, err := h.rating.DriverStats(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	badge := rating.BadgeFor(st)
	writeJSON(c, http.StatusOK, driverStatsView{DriverStats: st, Badge: badge, BadgeLabel: badge.Label()})
}

func (h *DriverHandler) Ratings(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	list, err := h.rating.DriverRatings(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toRatingViews(list))
}
