package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"statarb/internal/domain"
)

const (
	DefaultFitCandles = 200
	fitInterval       = "1m"
)

// ErrInsufficientHistory is returned when price history cannot support a fit.
var ErrInsufficientHistory = errors.New("insufficient price history")

// HistorySource returns recent candles, oldest first.
type HistorySource interface {
	Klines(ctx context.Context, symbol, interval string, limit int) ([]domain.Kline, error)
}

// RefitOptions controls RefitPairs.
type RefitOptions struct {
	Candles int  // one-minute candles per leg, DefaultFitCandles when <= 0
	All     bool // refit every fitted pair, not only unfitted ones
}

// FitLogSpread returns the mean and population standard deviation of
// ln(p1) - h*ln(p2) over two aligned price series.
func FitLogSpread(p1, p2 []float64, hedge float64) (mean, std float64, err error) {
	if len(p1) == 0 || len(p1) != len(p2) {
		return 0, 0, fmt.Errorf("%w: series lengths %d/%d", ErrInsufficientHistory, len(p1), len(p2))
	}

	spreads := make([]float64, len(p1))
	var sum float64
	for i := range p1 {
		if !(p1[i] > 0) || !(p2[i] > 0) {
			return 0, 0, fmt.Errorf("%w: non-positive price at %d", ErrInsufficientHistory, i)
		}
		spreads[i] = LogSpread(p1[i], p2[i], hedge)
		sum += spreads[i]
	}
	n := float64(len(spreads))
	mean = sum / n

	var sq float64
	for _, s := range spreads {
		d := s - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / n), nil
}

// RefitPairs fills mean and std_dev of fitted pairs from recent one-minute
// closes. Pairs flagged NeedsFit are always fitted; with opts.All every
// fitted pair is. A failed refit keeps configured parameters, and an
// unfitted pair that cannot be fitted is dropped.
func RefitPairs(ctx context.Context, src HistorySource, pairs []domain.PairConfig, opts RefitOptions) ([]domain.PairConfig, error) {
	if opts.Candles <= 0 {
		opts.Candles = DefaultFitCandles
	}
	logger := slog.Default().With("module", "strategy")

	out := make([]domain.PairConfig, 0, len(pairs))
	for _, cfg := range pairs {
		if cfg.Model != domain.ModelFitted || !(cfg.NeedsFit || opts.All) {
			out = append(out, cfg)
			continue
		}

		mean, std, err := fitPair(ctx, src, cfg, opts.Candles)
		if err != nil {
			if cfg.NeedsFit {
				logger.Warn("Dropping pair without spread parameters", slog.String("pair", cfg.Key().String()), slog.Any("error", err))
				continue
			}
			logger.Warn("Refit failed, keeping configured parameters", slog.String("pair", cfg.Key().String()), slog.Any("error", err))
			out = append(out, cfg)
			continue
		}

		cfg.Mean, cfg.StdDev, cfg.NeedsFit = mean, std, false
		logger.Info("Pair refitted",
			slog.String("pair", cfg.Key().String()),
			slog.Float64("mean", mean),
			slog.Float64("std_dev", std))
		out = append(out, cfg)
	}

	if len(out) == 0 {
		return nil, &domain.ConfigError{Field: "strategy.file", Err: errors.New("no usable pairs after refit")}
	}
	return out, nil
}

func fitPair(ctx context.Context, src HistorySource, cfg domain.PairConfig, candles int) (float64, float64, error) {
	k1, err := src.Klines(ctx, cfg.Leg1, fitInterval, candles)
	if err != nil {
		return 0, 0, err
	}
	k2, err := src.Klines(ctx, cfg.Leg2, fitInterval, candles)
	if err != nil {
		return 0, 0, err
	}

	p1, p2 := alignCloses(k1, k2)
	mean, std, err := FitLogSpread(p1, p2, cfg.HedgeRatio)
	if err != nil {
		return 0, 0, err
	}
	if std == 0 {
		return 0, 0, fmt.Errorf("%w: flat spread", ErrInsufficientHistory)
	}
	return mean, std, nil
}

// alignCloses keeps only candles present in both series, matched by open time.
func alignCloses(a, b []domain.Kline) (p1, p2 []float64) {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i].OpenTime < b[j].OpenTime:
			i++
		case a[i].OpenTime > b[j].OpenTime:
			j++
		default:
			p1 = append(p1, a[i].Close)
			p2 = append(p2, b[j].Close)
			i++
			j++
		}
	}
	return p1, p2
}
