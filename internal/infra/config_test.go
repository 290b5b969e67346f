package infra

import (
	"errors"
	"path/filepath"
	"testing"

	"statarb/internal/domain"
)

func TestParseConfig_Defaults(t *testing.T) {
	t.Setenv("STATARB_API_KEY", "")
	t.Setenv("STATARB_API_SECRET", "")
	t.Setenv("STATARB_TESTNET", "")

	cfg, err := ParseConfig([]byte("app:\n  name: test\n"))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}

	if cfg.Exchange.RecvWindowMS != 60000 {
		t.Errorf("recv window = %d, want 60000", cfg.Exchange.RecvWindowMS)
	}
	if cfg.Feed.Mode != "stream" || cfg.Feed.PriceMode != "micro" {
		t.Errorf("unexpected feed defaults: %+v", cfg.Feed)
	}
	if cfg.Strategy.BetSize.String() != "20" {
		t.Errorf("bet size = %s, want 20", cfg.Strategy.BetSize)
	}
	if cfg.RestBaseURL() != mainnetRestURL {
		t.Errorf("rest url = %s, want mainnet", cfg.RestBaseURL())
	}
	if cfg.Strategy.RefitOnStart || cfg.Strategy.RefitCandles != 200 {
		t.Errorf("unexpected refit defaults: %v/%d", cfg.Strategy.RefitOnStart, cfg.Strategy.RefitCandles)
	}
	if cfg.Clock.ResyncIntervalSec != 600 {
		t.Errorf("resync = %d, want 600", cfg.Clock.ResyncIntervalSec)
	}
}

func TestParseConfig_EnvOverride(t *testing.T) {
	t.Setenv("STATARB_API_KEY", "env-key")
	t.Setenv("STATARB_API_SECRET", "env-secret")
	t.Setenv("STATARB_TESTNET", "true")

	cfg, err := ParseConfig([]byte("exchange:\n  api_key: file-key\n"))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	if cfg.Exchange.APIKey != "env-key" || cfg.Exchange.APISecret != "env-secret" {
		t.Errorf("env did not override credentials: %q %q", cfg.Exchange.APIKey, cfg.Exchange.APISecret)
	}
	if cfg.RestBaseURL() != testnetRestURL || cfg.WSBaseURL() != testnetWSURL {
		t.Errorf("testnet switch ignored: %s %s", cfg.RestBaseURL(), cfg.WSBaseURL())
	}
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"unknown feed mode", "feed:\n  mode: carrier-pigeon\n", "feed.mode"},
		{"positive loss", "risk:\n  per_position_loss: 5\n", "risk"},
		{"obi out of range", "strategy:\n  obi_long_threshold: 1.5\n", "strategy.obi_*_threshold"},
		{"bad ws url", "exchange:\n  ws_url: http://example.com\n", "exchange.ws_url"},
		{"negative resync", "clock:\n  resync_interval_sec: -60\n", "clock.resync_interval_sec"},
		{"too many candles", "strategy:\n  refit_candles: 5000\n", "strategy.refit_candles"},
		{"negative tick", "strategy:\n  tick_interval_ms: -1\n", "interval_ms"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			var cfgErr *domain.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("field = %q, want %q", cfgErr.Field, tt.field)
			}
		})
	}
}

func TestLoadConfig_Missing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, domain.ErrConfigNotFound) {
		t.Fatalf("expected ErrConfigNotFound, got %v", err)
	}
}
