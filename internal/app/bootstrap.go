package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"os"
	"path/filepath"
	"time"

	"statarb/internal/clock"
	"statarb/internal/domain"
	"statarb/internal/engine"
	"statarb/internal/execution"
	"statarb/internal/infra"
	"statarb/internal/infra/binance"
	"statarb/internal/infra/storage"
	"statarb/internal/risk"
	"statarb/internal/service"
	"statarb/internal/strategy"

	"golang.org/x/sync/errgroup"
)

const (
	envConfigPath = "STATARB_CONFIG"
	envClearHalt  = "STATARB_CLEAR_HALT"

	startupTimeout = 15 * time.Second
)

type runner interface {
	Run(ctx context.Context) error
}

// Bootstrap orchestrates the application startup sequence and owns every
// long-lived component.
type Bootstrap struct {
	Config   *infra.Config
	Storage  *storage.Storage
	Metrics  *infra.Metrics
	Client   *binance.Client
	Clock    *clock.Synchronizer
	Market   *service.MarketState
	Pipeline *execution.Pipeline
	Halt     *risk.Halt
	Risk     *risk.Engine
	Loop     *engine.Loop

	source runner
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// ConfigPath returns the config file location, honouring STATARB_CONFIG.
func ConfigPath() string {
	if p := os.Getenv(envConfigPath); p != "" {
		return p
	}
	return infra.DefaultConfigPath
}

// Initialize loads configuration and builds every component. Any error here
// is fatal.
func (b *Bootstrap) Initialize(ctx context.Context) error {
	slog.Info("Bootstrapping statarb engine...")

	// 1. Load Config
	cfg, err := infra.LoadConfig(ConfigPath())
	if err != nil {
		return err // Let main handle the error
	}
	if !cfg.Exchange.Paper && (cfg.Exchange.APIKey == "" || cfg.Exchange.APISecret == "") {
		return &domain.ConfigError{Field: "exchange.api_key", Err: errors.New("STATARB_API_KEY and STATARB_API_SECRET are required for live trading")}
	}
	b.Config = cfg

	// 2. Setup Logger
	slog.SetDefault(infra.NewLogger(cfg))
	b.Metrics = infra.NewMetrics()

	// 3. Initialize Storage (DB)
	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("Database initialized", slog.String("path", cfg.Storage.Path))

	// 4. Exchange client and clock
	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	b.Client = binance.NewClient(cfg)
	b.Clock = clock.NewSynchronizer(b.Client)
	if _, err := b.Clock.Sync(startCtx); err != nil {
		slog.Warn("Initial clock sync failed, using local time", slog.Any("error", err))
	}
	b.Client.UseClock(b.Clock)

	// 5. Strategy definitions
	pairDefs, err := strategy.LoadPairs(cfg.Strategy.File, strategy.LoadOptions{
		TicksPerMinute: cfg.Strategy.TicksPerMinute,
		MinSamples:     cfg.Strategy.MinSamples,
	})
	if err != nil {
		return err
	}
	pairDefs, err = strategy.RefitPairs(startCtx, b.Client, pairDefs, strategy.RefitOptions{
		Candles: cfg.Strategy.RefitCandles,
		All:     cfg.Strategy.RefitOnStart,
	})
	if err != nil {
		return err
	}
	pairs := make([]*strategy.Pair, 0, len(pairDefs))
	for _, def := range pairDefs {
		pairs = append(pairs, strategy.NewPair(def, cfg.Strategy.MinSamples))
	}
	slog.Info("Strategies loaded", slog.Int("pairs", len(pairs)))

	// 6. Market data
	b.Market = service.NewMarketState()
	if cfg.Feed.Mode == "poll" {
		b.source = service.NewPricePoller(b.Client, b.Market, b.Metrics, time.Duration(cfg.Feed.PollIntervalMS)*time.Millisecond)
	} else {
		b.source = binance.NewFeed(cfg.WSBaseURL(), cfg.Feed.PriceMode, b.Market, b.Metrics)
	}

	// 7. Execution
	precisions := b.loadPrecisions(startCtx)
	var submitter execution.Submitter = b.Client
	var positions domain.PositionSource = b.Client
	if cfg.Exchange.Paper {
		paper := execution.NewPaperSubmitter(b.Market)
		submitter, positions = paper, paper
		slog.Warn("Paper trading enabled, no orders reach the exchange")
	}
	b.Pipeline = execution.NewPipeline(submitter, precisions, b.Metrics, cfg.Execution.Workers, cfg.Execution.QueueCapacity)

	// 8. Risk
	halted, err := store.LoadHalted()
	if err != nil {
		return fmt.Errorf("load halt flag: %w", err)
	}
	b.Halt = risk.NewHalt(halted, store, b.Metrics)
	if os.Getenv(envClearHalt) == "1" {
		b.Halt.Clear()
	} else if halted {
		slog.Warn("Global halt is set from a previous run; entries stay blocked until cleared")
	}
	b.Risk = risk.NewEngine(positions, b.Pipeline, b.Halt, risk.Limits{
		PerPosition: cfg.Risk.PerPositionLoss.InexactFloat64(),
		Global:      cfg.Risk.GlobalLoss.InexactFloat64(),
	}, time.Duration(cfg.Risk.IntervalMS)*time.Millisecond, b.Metrics)

	// 9. Strategy loop
	b.Loop = engine.NewLoop(engine.Options{
		Pairs:  pairs,
		Market: b.Market,
		Sink:   b.Pipeline,
		Halt:   b.Halt,
		Params: strategy.Params{
			BetSize:           cfg.Strategy.BetSize.InexactFloat64(),
			MaxSafeZ:          cfg.Strategy.MaxSafeZ,
			OBIShortThreshold: cfg.Strategy.OBIShortThreshold,
			OBILongThreshold:  cfg.Strategy.OBILongThreshold,
			ImbalanceGate:     cfg.Feed.Mode == "stream",
		},
		Interval: time.Duration(cfg.Strategy.TickIntervalMS) * time.Millisecond,
		Store:    store,
		Metrics:  b.Metrics,
		DumpPath: filepath.Join(cfg.Logging.Dir, "panic_dump.json"),
	})
	if err := b.Loop.Restore(); err != nil {
		return err
	}

	return nil
}

// loadPrecisions fetches lot precision from the exchange and caches it.
// When the exchange is unreachable the cached rules are used; with neither,
// the execution heuristic applies.
func (b *Bootstrap) loadPrecisions(ctx context.Context) execution.Precisions {
	rules, err := b.Client.LotPrecisions(ctx)
	if err == nil {
		if err := b.Storage.SavePrecisions(rules); err != nil {
			slog.Warn("Failed to cache precision rules", slog.Any("error", err))
		}
		slog.Info("Precision rules loaded", slog.Int("symbols", len(rules)))
		return execution.NewPrecisions(rules)
	}

	slog.Warn("exchangeInfo unavailable, using cached precision rules", slog.Any("error", err))
	cached, cacheErr := b.Storage.LoadPrecisions()
	if cacheErr != nil {
		slog.Warn("No cached precision rules, falling back to heuristic", slog.Any("error", cacheErr))
		return execution.NewPrecisions(nil)
	}
	return execution.NewPrecisions(cached)
}

// Run starts every task and blocks until ctx is cancelled or a task fails.
func (b *Bootstrap) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return b.serveMetrics(ctx) })
	g.Go(func() error {
		return b.Clock.Run(ctx, time.Duration(b.Config.Clock.ResyncIntervalSec)*time.Second)
	})
	g.Go(func() error { return b.source.Run(ctx) })
	g.Go(func() error { return b.Pipeline.Run(ctx) })
	g.Go(func() error { return b.Risk.Run(ctx) })
	g.Go(func() error { return b.Loop.Run(ctx) })

	slog.Info("Engine fully operational",
		slog.String("feed", b.Config.Feed.Mode),
		slog.Bool("paper", b.Config.Exchange.Paper),
		slog.Bool("testnet", b.Config.Exchange.Testnet),
		slog.Bool("halted", b.Halt.Halted()))
	return g.Wait()
}

// serveMetrics exposes Prometheus metrics and pprof on the configured address.
func (b *Bootstrap) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", b.Metrics.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	srv := &http.Server{Addr: b.Config.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("Metrics server started", slog.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		// metrics are not worth stopping the engine for
		slog.Error("Metrics server failed", slog.Any("error", err))
	}
	return nil
}

// Close releases resources after Run returns.
func (b *Bootstrap) Close() {
	if b.Loop != nil && b.Config != nil {
		b.Loop.DumpState(filepath.Join(b.Config.Logging.Dir, "shutdown_state.json"))
	}
	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			slog.Error("Failed to close storage", slog.Any("error", err))
		}
	}
}
