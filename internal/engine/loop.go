package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"statarb/internal/domain"
	"statarb/internal/infra"
	"statarb/internal/strategy"

	"github.com/goccy/go-json"
)

// PositionStore persists the local position book.
type PositionStore interface {
	SavePosition(pos domain.Position) error
	DeletePosition(key domain.PairKey) error
	LoadPositions() ([]domain.Position, error)
}

// Options wires a Loop. Store, Metrics and DumpPath are optional.
type Options struct {
	Pairs    []*strategy.Pair
	Market   domain.MarketReader
	Sink     domain.OrderSink
	Halt     domain.HaltSwitch
	Params   strategy.Params
	Interval time.Duration
	Store    PositionStore
	Metrics  *infra.Metrics
	DumpPath string
}

// Loop is the strategy loop: on every tick it evaluates each pair against
// the market cache, submits entry and exit orders, and keeps the local
// position book.
type Loop struct {
	pairs    []*strategy.Pair
	market   domain.MarketReader
	sink     domain.OrderSink
	halt     domain.HaltSwitch
	params   strategy.Params
	interval time.Duration
	store    PositionStore
	metrics  *infra.Metrics
	dumpPath string
	now      func() time.Time
	logger   *slog.Logger

	mu        sync.RWMutex
	positions map[domain.PairKey]domain.Position
}

// NewLoop creates a strategy loop with an empty position book.
func NewLoop(opts Options) *Loop {
	interval := opts.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Loop{
		pairs:     opts.Pairs,
		market:    opts.Market,
		sink:      opts.Sink,
		halt:      opts.Halt,
		params:    opts.Params,
		interval:  interval,
		store:     opts.Store,
		metrics:   opts.Metrics,
		dumpPath:  opts.DumpPath,
		now:       time.Now,
		logger:    slog.Default().With("module", "strategy_loop"),
		positions: make(map[domain.PairKey]domain.Position),
	}
}

// Restore loads persisted positions for pairs that are still configured.
func (l *Loop) Restore() error {
	if l.store == nil {
		return nil
	}
	saved, err := l.store.LoadPositions()
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}

	known := make(map[domain.PairKey]bool, len(l.pairs))
	for _, p := range l.pairs {
		known[p.Config.Key()] = true
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, pos := range saved {
		if !known[pos.Pair] {
			l.logger.Warn("Ignoring saved position for unconfigured pair", slog.String("pair", pos.Pair.String()))
			continue
		}
		l.positions[pos.Pair] = pos
	}
	l.logger.Info("Positions restored", slog.Int("count", len(l.positions)))
	return nil
}

// Run ticks until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("Strategy loop started", slog.Int("pairs", len(l.pairs)), slog.Duration("interval", l.interval))
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("Strategy loop stopping...", slog.Int("open_positions", len(l.Positions())))
			return nil
		case <-ticker.C:
			l.Tick()
		}
	}
}

// Tick evaluates every pair once.
func (l *Loop) Tick() {
	halted := l.halt != nil && l.halt.Halted()
	for _, p := range l.pairs {
		l.tickPair(p, halted)
	}
}

// tickPair isolates one pair: a panic is logged with a state dump and the
// remaining pairs still run.
func (l *Loop) tickPair(p *strategy.Pair, halted bool) {
	key := p.Config.Key()
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("CRITICAL_PANIC_DETECTED", slog.String("pair", key.String()), slog.Any("panic", r))
			if l.dumpPath != "" {
				l.DumpState(l.dumpPath)
			}
		}
	}()

	var pos *domain.Position
	l.mu.RLock()
	if held, ok := l.positions[key]; ok {
		pos = &held
	}
	l.mu.RUnlock()

	act, err := p.Evaluate(l.market, l.params, pos, halted)
	if err != nil {
		if !errors.Is(err, domain.ErrNotReady) {
			l.logger.Warn("Pair evaluation failed", slog.String("pair", key.String()), slog.Any("error", err))
		}
		return
	}
	l.metrics.SetZScore(key.String(), act.Z)

	switch act.Type {
	case strategy.ActionOpen:
		l.open(p.Config, act)
	case strategy.ActionClose:
		l.close(*pos, act)
	}
}

func (l *Loop) open(cfg domain.PairConfig, act strategy.Action) {
	orders, pos := strategy.EntryOrders(cfg, act.Direction, l.params.BetSize, act.P1, act.P2)
	l.logger.Info("ENTRY",
		slog.String("pair", pos.Pair.String()),
		slog.String("direction", act.Direction.String()),
		slog.Float64("z", act.Z),
		slog.Float64("qty1", pos.Qty1),
		slog.Float64("qty2", pos.Qty2))

	if l.submit(orders) == 0 {
		return
	}
	// recorded as soon as either leg is queued, before any fill
	pos.OpenedAt = l.now()
	l.mu.Lock()
	l.positions[pos.Pair] = pos
	l.mu.Unlock()

	if l.store != nil {
		if err := l.store.SavePosition(pos); err != nil {
			l.logger.Error("Failed to persist position", slog.String("pair", pos.Pair.String()), slog.Any("error", err))
		}
	}
}

func (l *Loop) close(pos domain.Position, act strategy.Action) {
	l.logger.Info("EXIT",
		slog.String("pair", pos.Pair.String()),
		slog.String("direction", pos.Direction.String()),
		slog.String("reason", act.Reason),
		slog.Float64("z", act.Z))

	l.submit(strategy.ExitOrders(pos))

	l.mu.Lock()
	delete(l.positions, pos.Pair)
	l.mu.Unlock()

	if l.store != nil {
		if err := l.store.DeletePosition(pos.Pair); err != nil {
			l.logger.Error("Failed to delete persisted position", slog.String("pair", pos.Pair.String()), slog.Any("error", err))
		}
	}
}

func (l *Loop) submit(orders [2]domain.OrderRequest) int {
	accepted := 0
	for _, o := range orders {
		if err := l.sink.Submit(o); err != nil {
			l.logger.Error("Order not queued",
				slog.String("symbol", o.Symbol),
				slog.String("side", string(o.Side)),
				slog.Float64("qty", o.Quantity),
				slog.Any("error", err))
			continue
		}
		accepted++
	}
	return accepted
}

// Positions returns a copy of the position book sorted by pair.
func (l *Loop) Positions() []domain.Position {
	l.mu.RLock()
	out := make([]domain.Position, 0, len(l.positions))
	for _, pos := range l.positions {
		out = append(out, pos)
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Pair.String() < out[j].Pair.String()
	})
	return out
}

// DumpState writes the position book to a file (for post-mortem).
func (l *Loop) DumpState(filename string) {
	l.logger.Info("Dumping internal state...", slog.String("file", filename))

	data := struct {
		Time      time.Time         `json:"time"`
		Halted    bool              `json:"halted"`
		Positions []domain.Position `json:"positions"`
	}{
		Time:      l.now(),
		Halted:    l.halt != nil && l.halt.Halted(),
		Positions: l.Positions(),
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		l.logger.Error("Failed to marshal state", slog.Any("error", err))
		return
	}
	if err := os.WriteFile(filename, b, 0644); err != nil {
		l.logger.Error("Failed to write state dump", slog.Any("error", err))
	}
}
