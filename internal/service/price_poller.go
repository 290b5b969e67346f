package service

import (
	"context"
	"log/slog"
	"time"

	"statarb/internal/domain"
	"statarb/internal/infra"
)

// PriceSource returns last prices for every listed symbol.
type PriceSource interface {
	TickerPrices(ctx context.Context) (map[string]float64, error)
}

// PricePoller is the degraded data source: it polls REST prices on an
// interval and publishes them with empty book sizes, so imbalance reads 0.
type PricePoller struct {
	source   PriceSource
	sink     domain.MarketWriter
	metrics  *infra.Metrics
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewPricePoller creates a poller publishing into sink.
func NewPricePoller(source PriceSource, sink domain.MarketWriter, metrics *infra.Metrics, interval time.Duration) *PricePoller {
	if interval <= 0 {
		interval = time.Second
	}
	return &PricePoller{
		source:   source,
		sink:     sink,
		metrics:  metrics,
		interval: interval,
		now:      time.Now,
		logger:   slog.Default().With("module", "price_poller"),
	}
}

// Run polls until ctx is done. Poll errors are logged and the next
// interval is tried.
func (p *PricePoller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn("Price poll failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// PollOnce fetches prices once and publishes every positive one.
func (p *PricePoller) PollOnce(ctx context.Context) error {
	prices, err := p.source.TickerPrices(ctx)
	if err != nil {
		return err
	}
	observed := p.now().UnixMilli()
	for symbol, price := range prices {
		if price <= 0 {
			p.metrics.RecordDropped()
			continue
		}
		p.sink.Publish(domain.Quote{Symbol: symbol, LastPrice: price, ObservedAt: observed})
		p.metrics.RecordQuote()
	}
	return nil
}
