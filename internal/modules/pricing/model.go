// README: Pricing rate definition for each order type.
package pricing

import "errors"

var ErrUnknownType = errors.New("unknown order type")

// Rate is one tariff row: price = BaseFare + ceil(PerKm * distanceKm).
type Rate struct {
	OrderType string
	BaseFare  int64
	PerKm     float64
}
