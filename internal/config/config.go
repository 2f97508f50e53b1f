// README: Config loader with env defaults for HTTP, DB, Redis, Telegram, orders and rate limiting.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const (
	PolicyFixed   = "fixed"
	PolicyBidding = "bidding"

	// MaxStatsCacheTTL bounds how stale admin stats may be.
	MaxStatsCacheTTL = 30 * time.Second
)

type HTTPConfig struct {
	Addr          string  `yaml:"addr" env:"TGTAXI_HTTP_ADDR" env-default:":8080"`
	ThrottleRPS   float64 `yaml:"throttle_rps" env:"TGTAXI_HTTP_THROTTLE_RPS" env-default:"20"`
	ThrottleBurst int     `yaml:"throttle_burst" env:"TGTAXI_HTTP_THROTTLE_BURST" env-default:"40"`
	InternalToken string  `yaml:"internal_token" env:"TGTAXI_INTERNAL_TOKEN"`
}

type DBConfig struct {
	// DSN empty means in-memory stores.
	DSN            string `yaml:"dsn" env:"TGTAXI_DB_DSN"`
	MigrationsPath string `yaml:"migrations_path" env:"TGTAXI_MIGRATIONS_PATH" env-default:"file://migrations"`
}

type RedisConfig struct {
	Addr string `yaml:"addr" env:"TGTAXI_REDIS_ADDR"`
}

type TelegramConfig struct {
	BotToken  string   `yaml:"bot_token" env:"TGTAXI_TELEGRAM_TOKEN"`
	WebAppURL string   `yaml:"web_app_url" env:"TGTAXI_WEBAPP_URL"`
	AdminIDs  []string `yaml:"admin_ids" env:"TGTAXI_ADMIN_IDS" env-separator:","`
	Polling   bool     `yaml:"polling" env:"TGTAXI_TELEGRAM_POLLING" env-default:"true"`
}

type AMQPConfig struct {
	URL      string `yaml:"url" env:"TGTAXI_AMQP_URL"`
	Exchange string `yaml:"exchange" env:"TGTAXI_AMQP_EXCHANGE" env-default:"order_topic"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" env:"TGTAXI_JWT_SECRET" env-default:"dev-secret"`
	TokenTTL  time.Duration `yaml:"token_ttl" env:"TGTAXI_JWT_TTL" env-default:"24h"`
	// InitDataMaxAge rejects Telegram init data older than this.
	InitDataMaxAge time.Duration `yaml:"init_data_max_age" env:"TGTAXI_INITDATA_MAX_AGE" env-default:"24h"`
}

type OrderConfig struct {
	Policy              string `yaml:"policy" env:"TGTAXI_ORDER_POLICY" env-default:"fixed"`
	BidMin              int64  `yaml:"bid_min" env:"TGTAXI_BID_MIN" env-default:"50"`
	BidMax              int64  `yaml:"bid_max" env:"TGTAXI_BID_MAX" env-default:"100000"`
	Currency            string `yaml:"currency" env:"TGTAXI_CURRENCY" env-default:"RUB"`
	MaxActivePerClient  int    `yaml:"max_active_per_client" env:"TGTAXI_MAX_ACTIVE_PER_CLIENT" env-default:"3"`
	PurgeChatOnComplete bool   `yaml:"purge_chat_on_complete" env:"TGTAXI_PURGE_CHAT" env-default:"false"`
}

type Tariff struct {
	Base  int64   `yaml:"base"`
	PerKm float64 `yaml:"per_km"`
}

type TariffsConfig struct {
	Taxi    Tariff `yaml:"taxi"`
	Cargo   Tariff `yaml:"cargo"`
	Courier Tariff `yaml:"courier"`
	Towing  Tariff `yaml:"towing"`
}

type RateLimitConfig struct {
	Window time.Duration `yaml:"window" env:"TGTAXI_RATE_WINDOW" env-default:"60s"`
	Limit  int           `yaml:"limit" env:"TGTAXI_RATE_LIMIT" env-default:"5"`
}

type StatsConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl" env:"TGTAXI_STATS_CACHE_TTL" env-default:"30s"`
}

type NotifyConfig struct {
	QueueSize  int           `yaml:"queue_size" env:"TGTAXI_NOTIFY_QUEUE" env-default:"1024"`
	Workers    int           `yaml:"workers" env:"TGTAXI_NOTIFY_WORKERS" env-default:"4"`
	RetryDelay time.Duration `yaml:"retry_delay" env:"TGTAXI_NOTIFY_RETRY_DELAY" env-default:"3s"`
}

type MatchingConfig struct {
	// AnnounceTTL is how long an order remembers which drivers were already notified.
	AnnounceTTL time.Duration `yaml:"announce_ttl" env:"TGTAXI_ANNOUNCE_TTL" env-default:"24h"`
	// InitialWave drivers hear about a new order at once; a negative value announces to everyone.
	InitialWave    int           `yaml:"initial_wave" env:"TGTAXI_ANNOUNCE_INITIAL_WAVE" env-default:"5"`
	BroadcastDelay time.Duration `yaml:"broadcast_delay" env:"TGTAXI_ANNOUNCE_BROADCAST_DELAY" env-default:"30s"`
	Tick           time.Duration `yaml:"tick" env:"TGTAXI_ANNOUNCE_TICK" env-default:"5s"`
}

type Config struct {
	Env       string          `yaml:"env" env:"TGTAXI_ENV" env-default:"production"`
	HTTP      HTTPConfig      `yaml:"http"`
	DB        DBConfig        `yaml:"db"`
	Redis     RedisConfig     `yaml:"redis"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	AMQP      AMQPConfig      `yaml:"amqp"`
	Auth      AuthConfig      `yaml:"auth"`
	Order     OrderConfig     `yaml:"order"`
	Tariffs   TariffsConfig   `yaml:"tariffs"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Stats     StatsConfig     `yaml:"stats"`
	Notify    NotifyConfig    `yaml:"notify"`
	Matching  MatchingConfig  `yaml:"matching"`
}

// DefaultTariffs is used for every service type the config leaves at zero.
var DefaultTariffs = TariffsConfig{
	Taxi:    Tariff{Base: 100, PerKm: 25},
	Cargo:   Tariff{Base: 300, PerKm: 40},
	Courier: Tariff{Base: 150, PerKm: 20},
	Towing:  Tariff{Base: 500, PerKm: 60},
}

// Load reads an optional .env file, then an optional YAML file named by TGTAXI_CONFIG, then the
// environment. Environment variables win over the YAML file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	var err error
	if path := os.Getenv("TGTAXI_CONFIG"); path != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg.Tariffs = cfg.Tariffs.withDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Order.Policy {
	case PolicyFixed, PolicyBidding:
	default:
		return fmt.Errorf("config: unknown order policy %q", c.Order.Policy)
	}
	if c.Order.BidMin < 0 || c.Order.BidMin > c.Order.BidMax {
		return fmt.Errorf("config: bid band [%d,%d] is invalid", c.Order.BidMin, c.Order.BidMax)
	}
	if c.Stats.CacheTTL < 0 || c.Stats.CacheTTL > MaxStatsCacheTTL {
		return fmt.Errorf("config: stats cache ttl %s exceeds %s", c.Stats.CacheTTL, MaxStatsCacheTTL)
	}
	if c.RateLimit.Limit <= 0 || c.RateLimit.Window <= 0 {
		return errors.New("config: rate limit window and limit must be positive")
	}
	if c.Notify.Workers <= 0 || c.Notify.QueueSize <= 0 {
		return errors.New("config: notify workers and queue size must be positive")
	}
	return nil
}

// IsAdmin reports whether a Telegram user id is configured as an administrator.
func (c Config) IsAdmin(id string) bool {
	for _, a := range c.Telegram.AdminIDs {
		if a == id {
			return true
		}
	}
	return false
}

func (t TariffsConfig) withDefaults() TariffsConfig {
	fill := func(v, def Tariff) Tariff {
		if v.Base == 0 && v.PerKm == 0 {
			return def
		}
		return v
	}
	return TariffsConfig{
		Taxi:    fill(t.Taxi, DefaultTariffs.Taxi),
		Cargo:   fill(t.Cargo, DefaultTariffs.Cargo),
		Courier: fill(t.Courier, DefaultTariffs.Courier),
		Towing:  fill(t.Towing, DefaultTariffs.Towing),
	}
}
