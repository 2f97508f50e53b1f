// README: Pricing service computes fare estimates from the tariff table.
package pricing

import (
	"context"
	"math"
	"sync"

	"tgtaxi/internal/config"
	"tgtaxi/internal/types"
)

type RateSource interface {
	ListRates(ctx context.Context) ([]Rate, error)
}

type Service struct {
	mu       sync.RWMutex
	rates    map[string]Rate
	currency string
	source   RateSource
}

// NewService seeds the table from config. source may be nil.
func NewService(tariffs config.TariffsConfig, currency string, source RateSource) *Service {
	s := &Service{rates: make(map[string]Rate), currency: currency, source: source}
	for name, t := range map[string]config.Tariff{
		"taxi":    tariffs.Taxi,
		"cargo":   tariffs.Cargo,
		"courier": tariffs.Courier,
		"towing":  tariffs.Towing,
	} {
		s.rates[name] = Rate{OrderType: name, BaseFare: t.Base, PerKm: t.PerKm}
	}
	return s
}

// Reload overlays rates stored in the source on top of the configured table.
func (s *Service) Reload(ctx context.Context) error {
	if s.source == nil {
		return nil
	}
	rates, err := s.source.ListRates(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rates {
		s.rates[r.OrderType] = r
	}
	return nil
}

func (s *Service) Rate(orderType string) (Rate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rates[orderType]
	return r, ok
}

func (s *Service) Estimate(_ context.Context, distanceKm float64, orderType string) (types.Money, error) {
	r, ok := s.Rate(orderType)
	if !ok {
		return types.Money{}, ErrUnknownType
	}
	return types.Money{Amount: Fare(r, distanceKm), Currency: s.currency}, nil
}

func Fare(r Rate, distanceKm float64) int64 {
	if distanceKm < 0 {
		distanceKm = 0
	}
	return r.BaseFare + int64(math.Ceil(r.PerKm*distanceKm))
}
