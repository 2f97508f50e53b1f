package pricing

import (
	"context"
	"errors"
	"testing"

	"tgtaxi/internal/config"
)

type staticSource []Rate

func (s staticSource) ListRates(context.Context) ([]Rate, error) { return s, nil }

func TestService_Estimate(t *testing.T) {
	s := NewService(config.DefaultTariffs, "RUB", nil)

	tests := []struct {
		name      string
		orderType string
		km        float64
		wantFare  int64
	}{
		{name: "taxi 10km", orderType: "taxi", km: 10, wantFare: 100 + 250},
		{name: "taxi zero distance", orderType: "taxi", km: 0, wantFare: 100},
		// 25 * 1.01 = 25.25 -> 26
		{name: "taxi rounds up", orderType: "taxi", km: 1.01, wantFare: 126},
		{name: "negative distance clamps", orderType: "taxi", km: -3, wantFare: 100},
		{name: "cargo", orderType: "cargo", km: 2.5, wantFare: 300 + 100},
		{name: "courier", orderType: "courier", km: 3, wantFare: 150 + 60},
		{name: "towing", orderType: "towing", km: 1, wantFare: 560},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Estimate(context.Background(), tt.km, tt.orderType)
			if err != nil {
				t.Fatalf("Estimate() error = %v", err)
			}
			if got.Amount != tt.wantFare {
				t.Errorf("Estimate() = %d, want %d", got.Amount, tt.wantFare)
			}
			if got.Currency != "RUB" {
				t.Errorf("currency = %q", got.Currency)
			}
		})
	}
}

func TestService_UnknownType(t *testing.T) {
	s := NewService(config.DefaultTariffs, "RUB", nil)
	if _, err := s.Estimate(context.Background(), 1, "helicopter"); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestService_ReloadOverridesConfig(t *testing.T) {
	s := NewService(config.DefaultTariffs, "RUB", staticSource{{OrderType: "taxi", BaseFare: 90, PerKm: 30.5}})
	if err := s.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	got, err := s.Estimate(context.Background(), 2, "taxi")
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if got.Amount != 90+61 {
		t.Fatalf("got %d, want %d", got.Amount, 151)
	}
}
