package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"TierTrader/internal/logger"
)

// Config holds all application configuration. It is loaded once and then
// only read; components receive the section they need.
type Config struct {
	Log       logger.Config `yaml:"log"`
	Exchange  Exchange      `yaml:"exchange"`
	Sources   Sources       `yaml:"sources"`
	Reference Reference     `yaml:"reference"`
	Signals   Signals       `yaml:"signals"`
	Trading   Trading       `yaml:"trading"`
	Guard     Guard         `yaml:"guard"`
	Executor  Executor      `yaml:"executor"`
	Retry     Retry         `yaml:"retry"`
	Lease     Lease         `yaml:"lease"`
	Database  Database      `yaml:"database"`
	Redis     Redis         `yaml:"redis"`
	Kafka     Kafka         `yaml:"kafka"`
	Telegram  Telegram      `yaml:"telegram"`
	Admin     Admin         `yaml:"admin"`
	Schedule  Schedule      `yaml:"schedule"`
	Proxy     string        `yaml:"proxy"`
}

// Exchange is the custodial exchange account.
type Exchange struct {
	BaseURL   string        `yaml:"base_url" default:"https://api.strike.me/v1" validate:"required,url"`
	APIKey    string        `yaml:"api_key" validate:"required"`
	Timeout   time.Duration `yaml:"timeout" default:"30s" validate:"gt=0"`
	RateLimit float64       `yaml:"rate_limit" default:"5" validate:"gt=0"`
	Burst     int           `yaml:"burst" default:"5" validate:"gte=1"`
}

// Sources configures the price consensus.
type Sources struct {
	Timeout        time.Duration     `yaml:"timeout" default:"10s" validate:"gt=0"`
	MinSources     int               `yaml:"min_sources" default:"2" validate:"gte=2"`
	MinPrice       float64           `yaml:"min_price" default:"10000" validate:"gt=0"`
	MaxPrice       float64           `yaml:"max_price" default:"100000" validate:"gtfield=MinPrice"`
	Fallback       string            `yaml:"fallback" default:"coinbase" validate:"required"`
	Disabled       []string          `yaml:"disabled"`
	Endpoints      map[string]string `yaml:"endpoints"`
	BinanceBaseURL string            `yaml:"binance_base_url" default:"https://data-api.binance.vision"`
	UserAgent      string            `yaml:"user_agent" default:"Mozilla/5.0 (compatible; TradingBot/1.0)"`
}

// Reference selects how the six-month extremum is obtained.
type Reference struct {
	Mode       string  `yaml:"mode" default:"approx" validate:"oneof=approx klines"`
	HighFactor float64 `yaml:"high_factor" default:"1.3" validate:"gt=1"`
	LowFactor  float64 `yaml:"low_factor" default:"0.7" validate:"gt=0,lt=1"`
	Days       int     `yaml:"days" default:"180" validate:"gte=1,lte=1000"`
}

// Signals selects how RSI and ATR are obtained.
type Signals struct {
	Mode       string  `yaml:"mode" default:"static" validate:"oneof=static klines"`
	ATRRatio   float64 `yaml:"atr_ratio" default:"0.02" validate:"gt=0"`
	DefaultRSI float64 `yaml:"default_rsi" default:"50" validate:"gte=0,lte=100"`
	Period     int     `yaml:"period" default:"14" validate:"gte=2"`
	Days       int     `yaml:"days" default:"60" validate:"gtefield=Period"`
}

// Trading holds the sizing bounds.
type Trading struct {
	MinCapitalPct    float64 `yaml:"min_capital_pct" default:"5" validate:"gt=0"`
	MaxCapitalPct    float64 `yaml:"max_capital_pct" default:"70" validate:"gtfield=MinCapitalPct,lte=100"`
	MinTakeProfitPct float64 `yaml:"min_take_profit_pct" default:"5" validate:"gt=0"`
	MaxTakeProfitPct float64 `yaml:"max_take_profit_pct" default:"200" validate:"gtfield=MinTakeProfitPct"`
	MaxRSI           float64 `yaml:"max_rsi" default:"80" validate:"gte=0,lte=100"`
	MinBuy           float64 `yaml:"min_buy" default:"0.01" validate:"gt=0"`
	MaxBuy           float64 `yaml:"max_buy" default:"5000" validate:"gtfield=MinBuy"`
	ForceBuyMax      float64 `yaml:"force_buy_max" default:"10" validate:"gt=0"`
	ForceBuyPct      float64 `yaml:"force_buy_pct" default:"10" validate:"gt=0,lte=100"`
}

// Guard configures duplicate-buy prevention.
type Guard struct {
	Timezone         string        `yaml:"timezone" default:"Europe/Paris" validate:"required"`
	CheckSameDay     bool          `yaml:"check_same_day" default:"true"`
	Cooldown         time.Duration `yaml:"cooldown" default:"24h" validate:"gte=0"`
	FailOpen         bool          `yaml:"fail_open" default:"true"`
	FallbackLookback time.Duration `yaml:"fallback_lookback" default:"12h" validate:"gt=0"`
	FallbackLimit    int           `yaml:"fallback_limit" default:"50" validate:"gte=1"`
}

// Executor configures the quote state machine.
type Executor struct {
	PollInterval   time.Duration `yaml:"poll_interval" default:"2s" validate:"gt=0"`
	PollTimeout    time.Duration `yaml:"poll_timeout" default:"30s" validate:"gtfield=PollInterval"`
	RequestTimeout time.Duration `yaml:"request_timeout" default:"5s" validate:"gt=0"`
	SellPause      time.Duration `yaml:"sell_pause" default:"3s" validate:"gte=0"`
	Issuer         string        `yaml:"issuer" default:"TRADING_BOT"`
}

// Retry configures the whole-operation retry wrapper per call site.
type Retry struct {
	CollectAttempts  int           `yaml:"collect_attempts" default:"2" validate:"gte=1"`
	CollectDelay     time.Duration `yaml:"collect_delay" default:"3s"`
	EvaluateAttempts int           `yaml:"evaluate_attempts" default:"2" validate:"gte=1"`
	EvaluateDelay    time.Duration `yaml:"evaluate_delay" default:"2s"`
	OrderAttempts    int           `yaml:"order_attempts" default:"2" validate:"gte=1"`
	OrderDelay       time.Duration `yaml:"order_delay" default:"3s"`
}

// Lease guarantees at most one running cycle.
type Lease struct {
	Backend string        `yaml:"backend" default:"local" validate:"oneof=local redis"`
	Key     string        `yaml:"key" default:"tiertrader:cycle-lease"`
	TTL     time.Duration `yaml:"ttl" default:"9m" validate:"gt=0"`
}

type Database struct {
	SQLitePath string `yaml:"sqlite_path" default:"data/tiertrader.db" validate:"required"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type Kafka struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic" default:"trade-events"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
}

type Telegram struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// Admin is the secret-gated HTTP surface.
type Admin struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Listen  string `yaml:"listen" default:":8080"`
	Secret  string `yaml:"secret"`
}

// Schedule holds cron expressions (with seconds).
type Schedule struct {
	Timezone          string        `yaml:"timezone" default:"Europe/Paris" validate:"required"`
	CycleCron         string        `yaml:"cycle_cron" default:"0 */5 * * * *"`
	SnapshotCron      string        `yaml:"snapshot_cron" default:"0 0 * * * *"`
	ReportCron        string        `yaml:"report_cron" default:"0 0 9 * * *"`
	PruneCron         string        `yaml:"prune_cron" default:"0 0 2 * * *"`
	SnapshotRetention time.Duration `yaml:"snapshot_retention" default:"720h"`
}

// Load reads config from a YAML file over the defaults, then applies
// environment variable overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("set defaults: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("STRIKE_API_KEY"); v != "" {
		cfg.Exchange.APIKey = v
	}
	if v := os.Getenv("STRIKE_BASE_URL"); v != "" {
		cfg.Exchange.BaseURL = v
	}
	if v := os.Getenv("API_SECRET"); v != "" {
		cfg.Admin.Secret = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Lease.Backend = "redis"
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("GUARD_FAIL_OPEN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Guard.FailOpen = b
		}
	}
}

// Validate checks field constraints and cross-section requirements.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := time.LoadLocation(c.Guard.Timezone); err != nil {
		return fmt.Errorf("guard.timezone: %w", err)
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return fmt.Errorf("schedule.timezone: %w", err)
	}
	if c.Lease.Backend == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when lease.backend is redis")
	}
	if c.Admin.Enabled && c.Admin.Secret == "" {
		return fmt.Errorf("admin.secret is required when the admin API is enabled")
	}
	if c.Telegram.BotToken != "" && c.Telegram.ChatID == "" {
		return fmt.Errorf("telegram.chat_id is required with telegram.bot_token")
	}
	return nil
}
