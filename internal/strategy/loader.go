package strategy

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"statarb/internal/domain"

	"gopkg.in/yaml.v3"
)

const (
	defaultStopZ          = 6.0
	defaultTicksPerMinute = 30
	defaultMinSamples     = 20
)

// LoadOptions carries the loop settings a pair definition depends on.
type LoadOptions struct {
	TicksPerMinute int // converts window_minutes into ticks
	MinSamples     int // rolling windows must be able to hold this many
}

// pairEntry is one strategy file record. JSON files parse as YAML.
type pairEntry struct {
	Leg1          string   `yaml:"leg1"`
	Leg2          string   `yaml:"leg2"`
	HedgeRatio    float64  `yaml:"hedge_ratio"`
	WindowMinutes *int     `yaml:"window_minutes"`
	Mean          *float64 `yaml:"mean"`
	StdDev        *float64 `yaml:"std_dev"`
	EntryZ        float64  `yaml:"entry_z"`
	ExitZ         float64  `yaml:"exit_z"`
	StopZ         *float64 `yaml:"stop_z"`
}

// LoadPairs reads the strategy file at path.
func LoadPairs(path string, opts LoadOptions) ([]domain.PairConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.ConfigError{Field: "strategy.file", Err: err}
	}
	return ParsePairs(data, opts)
}

// ParsePairs decodes pair definitions. Entries with a "?" placeholder leg
// are skipped; zero usable pairs is an error. An entry with neither a window
// nor mean/std_dev is a fitted pair waiting for RefitPairs.
func ParsePairs(data []byte, opts LoadOptions) ([]domain.PairConfig, error) {
	if opts.TicksPerMinute <= 0 {
		opts.TicksPerMinute = defaultTicksPerMinute
	}
	if opts.MinSamples <= 0 {
		opts.MinSamples = defaultMinSamples
	}
	var entries []pairEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, &domain.ConfigError{Field: "strategy.file", Err: err}
	}

	pairs := make([]domain.PairConfig, 0, len(entries))
	seen := make(map[domain.PairKey]bool, len(entries))
	for i, e := range entries {
		if strings.Contains(e.Leg1, "?") || strings.Contains(e.Leg2, "?") {
			slog.Warn("Skipping placeholder pair", "index", i, "leg1", e.Leg1, "leg2", e.Leg2)
			continue
		}
		cfg, err := e.toConfig(opts)
		if err != nil {
			return nil, &domain.ConfigError{Field: fmt.Sprintf("strategy.file[%d]", i), Err: err}
		}
		if seen[cfg.Key()] {
			return nil, &domain.ConfigError{Field: fmt.Sprintf("strategy.file[%d]", i), Err: fmt.Errorf("duplicate pair %s", cfg.Key())}
		}
		seen[cfg.Key()] = true
		pairs = append(pairs, cfg)
	}

	if len(pairs) == 0 {
		return nil, &domain.ConfigError{Field: "strategy.file", Err: errors.New("no usable pairs")}
	}
	return pairs, nil
}

func (e pairEntry) toConfig(opts LoadOptions) (domain.PairConfig, error) {
	if e.Leg1 == "" || e.Leg2 == "" || e.Leg1 == e.Leg2 {
		return domain.PairConfig{}, fmt.Errorf("invalid legs %q/%q", e.Leg1, e.Leg2)
	}
	if e.HedgeRatio <= 0 {
		return domain.PairConfig{}, fmt.Errorf("hedge_ratio must be positive")
	}
	if e.EntryZ <= 0 || e.ExitZ < 0 || e.ExitZ >= e.EntryZ {
		return domain.PairConfig{}, fmt.Errorf("need 0 <= exit_z < entry_z, got %v/%v", e.ExitZ, e.EntryZ)
	}

	cfg := domain.PairConfig{
		Leg1:       e.Leg1,
		Leg2:       e.Leg2,
		HedgeRatio: e.HedgeRatio,
		EntryZ:     e.EntryZ,
		ExitZ:      e.ExitZ,
		StopZ:      defaultStopZ,
	}
	if e.StopZ != nil {
		cfg.StopZ = *e.StopZ
	}
	if cfg.StopZ != 0 && cfg.StopZ <= cfg.EntryZ {
		return domain.PairConfig{}, fmt.Errorf("stop_z %v must exceed entry_z %v (or be 0 to disable)", cfg.StopZ, cfg.EntryZ)
	}

	switch {
	case e.WindowMinutes != nil:
		if *e.WindowMinutes <= 0 {
			return domain.PairConfig{}, fmt.Errorf("window_minutes must be positive")
		}
		cfg.Model = domain.ModelRolling
		cfg.WindowSize = *e.WindowMinutes * opts.TicksPerMinute
		if cfg.WindowSize < opts.MinSamples {
			return domain.PairConfig{}, fmt.Errorf("window of %d ticks can never reach min_samples %d", cfg.WindowSize, opts.MinSamples)
		}
	case e.Mean != nil && e.StdDev != nil:
		if *e.StdDev < 0 {
			return domain.PairConfig{}, fmt.Errorf("std_dev must not be negative")
		}
		cfg.Model = domain.ModelFitted
		cfg.Mean = *e.Mean
		cfg.StdDev = *e.StdDev
	case e.Mean != nil || e.StdDev != nil:
		return domain.PairConfig{}, fmt.Errorf("mean and std_dev must be given together")
	default:
		cfg.Model = domain.ModelFitted
		cfg.NeedsFit = true
	}
	return cfg, nil
}
