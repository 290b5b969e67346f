package infra

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"statarb/internal/domain"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath = "configs/config.yaml"

	mainnetRestURL = "https://fapi.binance.com"
	mainnetWSURL   = "wss://fstream.binance.com/ws"
	testnetRestURL = "https://testnet.binancefuture.com"
	testnetWSURL   = "wss://stream.binancefuture.com/ws"
)

// Config holds every engine setting. Secrets come from the environment,
// see overrideWithEnv.
type Config struct {
	App struct {
		Name string `yaml:"name"`
	} `yaml:"app"`

	Exchange struct {
		Testnet           bool    `yaml:"testnet"`
		RestURL           string  `yaml:"rest_url"`
		WSURL             string  `yaml:"ws_url"`
		APIKey            string  `yaml:"api_key"`
		APISecret         string  `yaml:"api_secret"`
		RecvWindowMS      int64   `yaml:"recv_window_ms"`
		TimestampLagMS    int64   `yaml:"timestamp_lag_ms"`
		TimeoutSec        int     `yaml:"timeout_sec"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Paper             bool    `yaml:"paper"`
	} `yaml:"exchange"`

	Feed struct {
		Mode           string `yaml:"mode"`       // stream | poll
		PriceMode      string `yaml:"price_mode"` // micro | mid
		PollIntervalMS int    `yaml:"poll_interval_ms"`
	} `yaml:"feed"`

	Strategy struct {
		File              string          `yaml:"file"`
		TickIntervalMS    int             `yaml:"tick_interval_ms"`
		TicksPerMinute    int             `yaml:"ticks_per_minute"`
		MinSamples        int             `yaml:"min_samples"`
		BetSize           decimal.Decimal `yaml:"bet_size"`
		MaxSafeZ          float64         `yaml:"max_safe_z"`
		OBIShortThreshold float64         `yaml:"obi_short_threshold"`
		OBILongThreshold  float64         `yaml:"obi_long_threshold"`
		RefitOnStart      bool            `yaml:"refit_on_start"`
		RefitCandles      int             `yaml:"refit_candles"`
	} `yaml:"strategy"`

	Execution struct {
		Workers       int `yaml:"workers"`
		QueueCapacity int `yaml:"queue_capacity"`
	} `yaml:"execution"`

	Risk struct {
		IntervalMS      int             `yaml:"interval_ms"`
		PerPositionLoss decimal.Decimal `yaml:"per_position_loss"`
		GlobalLoss      decimal.Decimal `yaml:"global_loss"`
	} `yaml:"risk"`

	Clock struct {
		ResyncIntervalSec int `yaml:"resync_interval_sec"`
	} `yaml:"clock"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the config file, applies defaults and
// environment overrides, then validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &ConfigPathError{Path: path, Err: domain.ErrConfigNotFound}
		}
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig is LoadConfig without the file system.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &domain.ConfigError{Field: "yaml", Err: err}
	}

	cfg.applyDefaults()
	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ConfigPathError reports a missing config file together with its path.
type ConfigPathError struct {
	Path string
	Err  error
}

func (e *ConfigPathError) Error() string { return e.Path + ": " + e.Err.Error() }
func (e *ConfigPathError) Unwrap() error { return e.Err }

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "statarb"
	}
	if c.Exchange.RecvWindowMS == 0 {
		c.Exchange.RecvWindowMS = 60000
	}
	if c.Exchange.TimestampLagMS == 0 {
		c.Exchange.TimestampLagMS = 1000
	}
	if c.Exchange.TimeoutSec == 0 {
		c.Exchange.TimeoutSec = 10
	}
	if c.Exchange.RequestsPerSecond == 0 {
		c.Exchange.RequestsPerSecond = 10
	}
	if c.Feed.Mode == "" {
		c.Feed.Mode = "stream"
	}
	if c.Feed.PriceMode == "" {
		c.Feed.PriceMode = "micro"
	}
	if c.Feed.PollIntervalMS == 0 {
		c.Feed.PollIntervalMS = 1000
	}
	if c.Strategy.File == "" {
		c.Strategy.File = "strategies.json"
	}
	if c.Strategy.TickIntervalMS == 0 {
		c.Strategy.TickIntervalMS = 2000
	}
	if c.Strategy.TicksPerMinute == 0 {
		c.Strategy.TicksPerMinute = 30
	}
	if c.Strategy.MinSamples == 0 {
		c.Strategy.MinSamples = 20
	}
	if c.Strategy.BetSize.IsZero() {
		c.Strategy.BetSize = decimal.NewFromInt(20)
	}
	if c.Strategy.RefitCandles == 0 {
		c.Strategy.RefitCandles = 200
	}
	if c.Strategy.MaxSafeZ == 0 {
		c.Strategy.MaxSafeZ = 10
	}
	if c.Execution.Workers == 0 {
		c.Execution.Workers = 2
	}
	if c.Execution.QueueCapacity == 0 {
		c.Execution.QueueCapacity = 256
	}
	if c.Risk.IntervalMS == 0 {
		c.Risk.IntervalMS = 1000
	}
	if c.Risk.PerPositionLoss.IsZero() {
		c.Risk.PerPositionLoss = decimal.NewFromInt(-20)
	}
	if c.Risk.GlobalLoss.IsZero() {
		c.Risk.GlobalLoss = decimal.NewFromInt(-100)
	}
	if c.Clock.ResyncIntervalSec == 0 {
		c.Clock.ResyncIntervalSec = 600
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "data/statarb.db"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = "localhost:6060"
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = "logs"
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	switch c.Feed.Mode {
	case "stream", "poll":
	default:
		return &domain.ConfigError{Field: "feed.mode", Err: fmt.Errorf("unknown mode %q", c.Feed.Mode)}
	}
	switch c.Feed.PriceMode {
	case "micro", "mid":
	default:
		return &domain.ConfigError{Field: "feed.price_mode", Err: fmt.Errorf("unknown price mode %q", c.Feed.PriceMode)}
	}
	if ws := c.WSBaseURL(); !strings.HasPrefix(ws, "ws://") && !strings.HasPrefix(ws, "wss://") {
		return &domain.ConfigError{Field: "exchange.ws_url", Err: fmt.Errorf("invalid websocket url %q", ws)}
	}
	if !c.Strategy.BetSize.IsPositive() {
		return &domain.ConfigError{Field: "strategy.bet_size", Err: errors.New("must be positive")}
	}
	if c.Strategy.OBIShortThreshold < -1 || c.Strategy.OBIShortThreshold > 1 ||
		c.Strategy.OBILongThreshold < -1 || c.Strategy.OBILongThreshold > 1 {
		return &domain.ConfigError{Field: "strategy.obi_*_threshold", Err: errors.New("must lie in [-1, 1]")}
	}
	if c.Strategy.TickIntervalMS <= 0 || c.Risk.IntervalMS <= 0 || c.Feed.PollIntervalMS <= 0 {
		return &domain.ConfigError{Field: "interval_ms", Err: errors.New("tick, risk and poll intervals must be positive")}
	}
	if c.Strategy.RefitCandles < 2 || c.Strategy.RefitCandles > 1500 {
		return &domain.ConfigError{Field: "strategy.refit_candles", Err: errors.New("must lie in [2, 1500]")}
	}
	if c.Clock.ResyncIntervalSec <= 0 {
		return &domain.ConfigError{Field: "clock.resync_interval_sec", Err: errors.New("must be positive")}
	}
	if c.Execution.Workers < 1 {
		return &domain.ConfigError{Field: "execution.workers", Err: errors.New("at least one worker is required")}
	}
	if !c.Risk.PerPositionLoss.IsNegative() || !c.Risk.GlobalLoss.IsNegative() {
		return &domain.ConfigError{Field: "risk", Err: errors.New("loss thresholds must be negative")}
	}
	if c.Exchange.RecvWindowMS <= c.Exchange.TimestampLagMS {
		return &domain.ConfigError{Field: "exchange.recv_window_ms", Err: errors.New("must exceed timestamp_lag_ms")}
	}
	return nil
}

// RestBaseURL returns the REST host honouring the testnet switch.
func (c *Config) RestBaseURL() string {
	if c.Exchange.RestURL != "" {
		return c.Exchange.RestURL
	}
	if c.Exchange.Testnet {
		return testnetRestURL
	}
	return mainnetRestURL
}

// WSBaseURL returns the streaming host honouring the testnet switch.
func (c *Config) WSBaseURL() string {
	if c.Exchange.WSURL != "" {
		return c.Exchange.WSURL
	}
	if c.Exchange.Testnet {
		return testnetWSURL
	}
	return mainnetWSURL
}

// overrideWithEnv replaces secrets and the testnet switch from the environment.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("STATARB_API_KEY"); key != "" {
		cfg.Exchange.APIKey = key
	}
	if secret := os.Getenv("STATARB_API_SECRET"); secret != "" {
		cfg.Exchange.APISecret = secret
	}
	if v := os.Getenv("STATARB_TESTNET"); v != "" {
		if testnet, err := strconv.ParseBool(v); err == nil {
			cfg.Exchange.Testnet = testnet
		}
	}
}
