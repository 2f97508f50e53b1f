package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TGTAXI_CONFIG", "")
	t.Setenv("TGTAXI_ADMIN_IDS", "10,20")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, PolicyFixed, cfg.Order.Policy)
	assert.Equal(t, "RUB", cfg.Order.Currency)
	assert.Equal(t, 5, cfg.RateLimit.Limit)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, 30*time.Second, cfg.Stats.CacheTTL)
	assert.Equal(t, DefaultTariffs, cfg.Tariffs)
	assert.Equal(t, []string{"10", "20"}, cfg.Telegram.AdminIDs)
	assert.Empty(t, cfg.DB.DSN)
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
order:
  policy: bidding
  bid_min: 100
  bid_max: 900
tariffs:
  cargo:
    base: 1000
    per_km: 10
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("TGTAXI_CONFIG", path)
	t.Setenv("TGTAXI_BID_MAX", "5000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, PolicyBidding, cfg.Order.Policy)
	assert.Equal(t, int64(100), cfg.Order.BidMin)
	assert.Equal(t, int64(5000), cfg.Order.BidMax)
	assert.Equal(t, Tariff{Base: 1000, PerKm: 10}, cfg.Tariffs.Cargo)
	assert.Equal(t, DefaultTariffs.Taxi, cfg.Tariffs.Taxi)
}

func TestLoadRejectsUnknownPolicy(t *testing.T) {
	t.Setenv("TGTAXI_CONFIG", "")
	t.Setenv("TGTAXI_ORDER_POLICY", "auction")
	_, err := Load()
	assert.ErrorContains(t, err, "unknown order policy")
}

func validConfig() Config {
	return Config{
		Order:     OrderConfig{Policy: PolicyFixed, BidMin: 50, BidMax: 1000},
		Stats:     StatsConfig{CacheTTL: 10 * time.Second},
		RateLimit: RateLimitConfig{Window: time.Minute, Limit: 5},
		Notify:    NotifyConfig{Workers: 1, QueueSize: 8},
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	cases := map[string]func(*Config){
		"inverted bid band": func(c *Config) { c.Order.BidMin = 2000 },
		"negative bid min":  func(c *Config) { c.Order.BidMin = -1 },
		"stale stats":       func(c *Config) { c.Stats.CacheTTL = time.Minute },
		"zero limit":        func(c *Config) { c.RateLimit.Limit = 0 },
		"zero window":       func(c *Config) { c.RateLimit.Window = 0 },
		"no workers":        func(c *Config) { c.Notify.Workers = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := validConfig()
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestIsAdmin(t *testing.T) {
	c := Config{Telegram: TelegramConfig{AdminIDs: []string{"42"}}}
	assert.True(t, c.IsAdmin("42"))
	assert.False(t, c.IsAdmin("43"))
	assert.False(t, Config{}.IsAdmin(""))
}
