// README: Ratings, driver stats and derived badges.
package rating

import (
	"errors"
	"math"
	"time"

	"tgtaxi/internal/types"
)

var (
	ErrNotFound     = errors.New("order not found")
	ErrNotRateable  = errors.New("order cannot be rated")
	ErrAlreadyRated = errors.New("order already rated")
	ErrForbidden    = errors.New("only the order's client may rate it")
)

const (
	MinStars = 1
	MaxStars = 5
	// MaxCommentLen is counted in runes.
	MaxCommentLen = 500
)

type Rating struct {
	ID        types.ID
	OrderID   types.ID
	DriverID  types.ID
	Stars     int
	Comment   string
	CreatedAt time.Time
}

type DriverStats struct {
	DriverID        types.ID `json:"driverId"`
	CompletedOrders int      `json:"completedOrders"`
	TotalRatings    int      `json:"totalRatings"`
	AverageRating   float64  `json:"averageRating"`
}

type AdminStats struct {
	TotalOrders     int       `json:"totalOrders"`
	CompletedOrders int       `json:"completedOrders"`
	ActiveDrivers   int       `json:"activeDrivers"`
	PendingOrders   int       `json:"pendingOrders"`
	AverageRating   float64   `json:"averageRating"`
	ComputedAt      time.Time `json:"computedAt"`
}

type Badge string

const (
	BadgeNone        Badge = ""
	BadgeLegend      Badge = "legend"
	BadgeTopDriver   Badge = "top_driver"
	BadgeExperienced Badge = "experienced"
)

// Label is the text shown next to the driver name.
func (b Badge) Label() string {
	switch b {
	case BadgeLegend:
		return "Legend"
	case BadgeTopDriver:
		return "Top driver"
	case BadgeExperienced:
		return "Experienced"
	}
	return ""
}

// BadgeFor picks the highest badge the stats qualify for.
func BadgeFor(s DriverStats) Badge {
	switch {
	case s.CompletedOrders >= 100:
		return BadgeLegend
	case s.TotalRatings >= 5 && s.AverageRating >= 4.8:
		return BadgeTopDriver
	case s.CompletedOrders >= 10:
		return BadgeExperienced
	}
	return BadgeNone
}

func clampStars(n int) int {
	if n < MinStars {
		return MinStars
	}
	if n > MaxStars {
		return MaxStars
	}
	return n
}

// average rounds to one decimal; zero ratings give zero.
func average(sum, count int) float64 {
	if count == 0 {
		return 0
	}
	return math.Round(float64(sum)/float64(count)*10) / 10
}
