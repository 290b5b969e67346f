package binance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"statarb/internal/domain"
	"statarb/internal/infra"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// Price derivation modes for the book ticker feed.
const (
	PriceMicro = "micro"
	PriceMid   = "mid"
)

var errNoConn = errors.New("no conn")

var _ domain.ExchangeWorker = (*Feed)(nil)

// Feed subscribes to the all-market book ticker stream and publishes every
// decoded quote into the market state cache. It reconnects forever with
// capped, jittered backoff until its context is cancelled.
type Feed struct {
	url       string
	priceMode string
	sink      domain.MarketWriter
	metrics   *infra.Metrics
	backoff   Backoff
	logger    *slog.Logger

	conn      *websocket.Conn
	mu        sync.RWMutex
	writeMu   sync.Mutex
	connected atomic.Bool
	nextID    atomic.Uint64
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewFeed creates a feed for the given stream endpoint.
func NewFeed(url, priceMode string, sink domain.MarketWriter, metrics *infra.Metrics) *Feed {
	if priceMode != PriceMid {
		priceMode = PriceMicro
	}
	return &Feed{
		url:       url,
		priceMode: priceMode,
		sink:      sink,
		metrics:   metrics,
		backoff:   DefaultBackoff(),
		logger:    slog.Default().With("module", "binance_feed"),
	}
}

// Connect starts the connection loop in the background.
func (f *Feed) Connect(ctx context.Context) error {
	ctx, f.cancel = context.WithCancel(ctx)
	f.wg.Add(1)
	go f.connectionLoop(ctx)
	return nil
}

// Run connects and blocks until ctx is done.
func (f *Feed) Run(ctx context.Context) error {
	if err := f.Connect(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	f.Disconnect()
	return nil
}

// IsConnected reports whether a subscribed connection is currently open.
func (f *Feed) IsConnected() bool {
	return f.connected.Load()
}

// Disconnect stops the loop and waits for it to exit.
func (f *Feed) Disconnect() {
	if f.cancel != nil {
		f.cancel()
	}
	f.closeConnection()
	f.wg.Wait()
}

func (f *Feed) connectionLoop(ctx context.Context) {
	defer f.wg.Done()
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		if err := f.connect(ctx); err != nil {
			delay := f.backoff.Next(attempt)
			attempt++
			f.logger.Warn("Feed connection failed",
				slog.Any("error", err), slog.Int("attempt", attempt), slog.Duration("retry_in", delay))
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		attempt = 0
		f.readLoop(ctx)
	}
}

func (f *Feed) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	if err := f.subscribe(); err != nil {
		f.closeConnection()
		return err
	}

	f.connected.Store(true)
	f.metrics.IncrementConnections()
	f.logger.Info("Feed connected", "url", f.url)
	return nil
}

func (f *Feed) subscribe() error {
	req := subscribeRequest{
		Method: "SUBSCRIBE",
		Params: []string{bookTickerStream},
		ID:     f.nextID.Add(1),
	}
	b, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return f.threadSafeWrite(websocket.TextMessage, b)
}

func (f *Feed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.threadSafeWrite(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (f *Feed) threadSafeWrite(msgType int, data []byte) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.conn == nil {
		return errNoConn
	}
	return f.conn.WriteMessage(msgType, data)
}

func (f *Feed) readLoop(ctx context.Context) {
	connCtx, stop := context.WithCancel(ctx)
	defer stop()
	go f.pingLoop(connCtx)

	// unblock ReadMessage on shutdown
	go func() {
		<-connCtx.Done()
		if ctx.Err() != nil {
			f.closeConnection()
		}
	}()

	for {
		f.mu.RLock()
		conn := f.conn
		f.mu.RUnlock()
		if conn == nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				f.logger.Warn("Feed read failed, reconnecting", slog.Any("error", err))
			}
			f.closeConnection()
			return
		}
		f.handleMessage(msg, time.Now().UnixMilli())
	}
}

// handleMessage decodes one frame. Subscription acks are ignored and
// anything undecodable is counted and dropped.
func (f *Feed) handleMessage(msg []byte, now int64) {
	var ev bookTickerEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		f.metrics.RecordDropped()
		f.logger.Debug("Dropping malformed feed message", slog.Any("error", err))
		return
	}
	if ev.ID != nil {
		return
	}

	q, ok := quoteFromEvent(ev, f.priceMode, now)
	if !ok {
		f.metrics.RecordDropped()
		return
	}
	f.sink.Publish(q)
	f.metrics.RecordQuote()
}

// quoteFromEvent builds the full quote before it is published so the cache
// is always replaced wholesale.
func quoteFromEvent(ev bookTickerEvent, mode string, now int64) (domain.Quote, bool) {
	if ev.Symbol == "" {
		return domain.Quote{}, false
	}
	bid, err1 := strconv.ParseFloat(ev.BidPrice, 64)
	ask, err2 := strconv.ParseFloat(ev.AskPrice, 64)
	bidSize, err3 := strconv.ParseFloat(ev.BidQty, 64)
	askSize, err4 := strconv.ParseFloat(ev.AskQty, 64)
	if err := errors.Join(err1, err2, err3, err4); err != nil {
		return domain.Quote{}, false
	}
	if bid <= 0 || ask <= 0 || bidSize < 0 || askSize < 0 {
		return domain.Quote{}, false
	}

	price := domain.Midpoint(bid, ask)
	if mode == PriceMicro {
		price = domain.Microprice(bid, ask, bidSize, askSize)
	}
	return domain.Quote{
		Symbol:     ev.Symbol,
		LastPrice:  price,
		BidSize:    bidSize,
		AskSize:    askSize,
		ObservedAt: now,
	}, true
}

func (f *Feed) closeConnection() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
	if f.connected.Swap(false) {
		f.metrics.DecrementConnections()
	}
}
