package risk

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"statarb/internal/domain"
	"statarb/internal/infra"
)

// Limits are the loss thresholds, both negative quote-currency amounts.
type Limits struct {
	PerPosition float64
	Global      float64
}

// Engine polls exchange positions and forces closes when losses breach
// the limits.
type Engine struct {
	source   domain.PositionSource
	sink     domain.OrderSink
	halt     *Halt
	limits   Limits
	interval time.Duration
	metrics  *infra.Metrics
	logger   *slog.Logger
}

// NewEngine wires a risk engine.
func NewEngine(source domain.PositionSource, sink domain.OrderSink, halt *Halt, limits Limits, interval time.Duration, metrics *infra.Metrics) *Engine {
	if interval <= 0 {
		interval = time.Second
	}
	return &Engine{
		source:   source,
		sink:     sink,
		halt:     halt,
		limits:   limits,
		interval: interval,
		metrics:  metrics,
		logger:   slog.Default().With("module", "risk"),
	}
}

// Run checks every interval until ctx is done. A failed cycle is logged
// and retried on the next tick.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := e.safeCheck(ctx); err != nil && ctx.Err() == nil {
				e.logger.Warn("Risk cycle failed", slog.Any("error", err))
			}
		}
	}
}

func (e *Engine) safeCheck(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("risk cycle panic: %v", r)
		}
	}()
	return e.Check(ctx)
}

// Check runs one cycle: per-position stops first, then the global limit.
// A symbol closed by its own stop is not closed again by the halt.
func (e *Engine) Check(ctx context.Context) error {
	rows, err := e.source.PositionRisk(ctx)
	if err != nil {
		return err
	}

	closed := make(map[string]bool)
	var total float64
	for _, row := range rows {
		total += row.UnrealizedProfit
		if row.UnrealizedProfit < e.limits.PerPosition {
			e.logger.Warn("STOP_LOSS",
				slog.String("symbol", row.Symbol),
				slog.Float64("pnl", row.UnrealizedProfit),
				slog.Float64("limit", e.limits.PerPosition))
			if e.close(row) {
				closed[row.Symbol] = true
			}
		}
	}

	if total < e.limits.Global && e.halt.Trip(fmt.Sprintf("portfolio pnl %.2f below %.2f", total, e.limits.Global)) {
		for _, row := range rows {
			if !closed[row.Symbol] {
				e.close(row)
			}
		}
	}
	return nil
}

func (e *Engine) close(row domain.PositionRisk) bool {
	side, ok := row.ClosingSide()
	if !ok {
		return false
	}
	err := e.sink.Submit(domain.OrderRequest{
		Symbol:    row.Symbol,
		Side:      side,
		Quantity:  math.Abs(row.PositionAmt),
		IsClosing: true,
	})
	if err != nil {
		e.logger.Error("Failed to enqueue forced close", slog.String("symbol", row.Symbol), slog.Any("error", err))
		return false
	}
	e.metrics.RecordRiskClose()
	return true
}
