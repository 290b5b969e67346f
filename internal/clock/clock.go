// Package clock keeps a local estimate of the exchange clock so signed
// requests carry timestamps the exchange accepts.
package clock

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

const defaultResyncInterval = 10 * time.Minute

// TimeSource reports the exchange time in Unix milliseconds.
type TimeSource interface {
	ServerTime(ctx context.Context) (int64, error)
}

// Synchronizer measures the offset between the local clock and the exchange
// clock. Offset is read lock-free by every signer.
type Synchronizer struct {
	source  TimeSource
	local   func() int64
	offset  atomic.Int64
	latency atomic.Int64
	synced  atomic.Bool
	logger  *slog.Logger
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithLocalClock replaces the local millisecond clock, mostly for tests.
func WithLocalClock(now func() int64) Option {
	return func(s *Synchronizer) { s.local = now }
}

// NewSynchronizer creates a synchronizer. Until the first successful Sync
// the offset is zero.
func NewSynchronizer(source TimeSource, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		source: source,
		local:  func() int64 { return time.Now().UnixMilli() },
		logger: slog.Default().With("module", "clock"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync performs one round trip and stores the new offset:
// latency = (t1-t0)/2, offset = server + latency - t1.
// On failure the previous offset is kept and returned with the error.
func (s *Synchronizer) Sync(ctx context.Context) (int64, error) {
	t0 := s.local()
	server, err := s.source.ServerTime(ctx)
	if err != nil {
		return s.offset.Load(), err
	}
	t1 := s.local()

	latency := (t1 - t0) / 2
	offset := server + latency - t1
	s.latency.Store(latency)
	s.offset.Store(offset)
	s.synced.Store(true)

	s.logger.Info("Clock synchronized", "offset_ms", offset, "latency_ms", latency)
	return offset, nil
}

// Now returns the estimated exchange time in Unix milliseconds.
func (s *Synchronizer) Now() int64 {
	return s.local() + s.offset.Load()
}

// Offset returns the last measured exchange-minus-local offset in milliseconds.
func (s *Synchronizer) Offset() int64 {
	return s.offset.Load()
}

// Latency returns the last measured one-way latency estimate in milliseconds.
func (s *Synchronizer) Latency() int64 {
	return s.latency.Load()
}

// Synced reports whether at least one Sync has succeeded.
func (s *Synchronizer) Synced() bool {
	return s.synced.Load()
}

// Run resyncs every interval until ctx is done. Failures are logged and the
// previous offset stays in effect. A non-positive interval falls back to
// ten minutes.
func (s *Synchronizer) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = defaultResyncInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if offset, err := s.Sync(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("Clock resync failed, keeping previous offset",
					slog.Any("error", err), slog.Int64("offset_ms", offset))
			}
		}
	}
}
