package binance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"statarb/internal/domain"
	"statarb/internal/infra"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Clock supplies the exchange-aligned time used to stamp signed requests.
type Clock interface {
	Now() int64
}

type localClock struct{}

func (localClock) Now() int64 { return time.Now().UnixMilli() }

// Client is the USD-M futures REST client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *Signer
	limiter    *rate.Limiter
	clock      atomic.Pointer[clockHolder]
	recvWindow int64
	lag        int64
	logger     *slog.Logger
}

type clockHolder struct{ Clock }

// NewClient creates a new futures REST client from the exchange section of cfg.
func NewClient(cfg *infra.Config) *Client {
	timeout := time.Duration(cfg.Exchange.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.Exchange.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.RestBaseURL(), "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		signer:     NewSigner(cfg.Exchange.APIKey, cfg.Exchange.APISecret),
		limiter:    rate.NewLimiter(rate.Limit(rps), int(math.Ceil(rps))),
		recvWindow: cfg.Exchange.RecvWindowMS,
		lag:        cfg.Exchange.TimestampLagMS,
		logger:     slog.Default().With("module", "binance_client"),
	}
	c.clock.Store(&clockHolder{localClock{}})
	return c
}

// UseClock switches request timestamps to an exchange-synchronized clock.
// The synchronizer itself needs this client for ServerTime, so it is
// attached after construction.
func (c *Client) UseClock(clock Clock) {
	c.clock.Store(&clockHolder{clock})
}

func (c *Client) now() int64 {
	return c.clock.Load().Now()
}

// ServerTime returns the exchange time in Unix milliseconds.
func (c *Client) ServerTime(ctx context.Context) (int64, error) {
	var resp serverTimeResponse
	if err := c.get(ctx, pathServerTime, &resp); err != nil {
		return 0, err
	}
	return resp.ServerTime, nil
}

// TickerPrices returns the last traded price of every symbol.
func (c *Client) TickerPrices(ctx context.Context) (map[string]float64, error) {
	var rows []tickerPrice
	if err := c.get(ctx, pathTickerPrice, &rows); err != nil {
		return nil, err
	}
	prices := make(map[string]float64, len(rows))
	for _, row := range rows {
		p, err := decimal.NewFromString(row.Price)
		if err != nil || !p.IsPositive() {
			continue
		}
		prices[row.Symbol] = p.InexactFloat64()
	}
	return prices, nil
}

// LotPrecisions returns the number of quantity decimals each symbol accepts,
// derived from its LOT_SIZE step.
func (c *Client) LotPrecisions(ctx context.Context) (map[string]int, error) {
	var info exchangeInfoResponse
	if err := c.get(ctx, pathExchangeInfo, &info); err != nil {
		return nil, err
	}
	out := make(map[string]int, len(info.Symbols))
	for _, s := range info.Symbols {
		precision := s.QuantityPrecision
		for _, f := range s.Filters {
			if f.FilterType != "LOT_SIZE" {
				continue
			}
			if step, err := strconv.ParseFloat(f.StepSize, 64); err == nil && step > 0 {
				precision = PrecisionFromStep(step)
			}
		}
		out[s.Symbol] = precision
	}
	return out, nil
}

// Klines returns up to limit candles for symbol, oldest first. Only the
// open time and close price are kept.
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]domain.Kline, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	var rows []klineRow
	if err := c.get(ctx, pathKlines+"?"+params.Encode(), &rows); err != nil {
		return nil, fmt.Errorf("klines %s: %w", symbol, err)
	}
	out := make([]domain.Kline, 0, len(rows))
	for _, row := range rows {
		if len(row) < 5 {
			continue
		}
		var openTime int64
		var closeStr string
		if json.Unmarshal(row[0], &openTime) != nil || json.Unmarshal(row[4], &closeStr) != nil {
			continue
		}
		closePrice, err := decimal.NewFromString(closeStr)
		if err != nil || !closePrice.IsPositive() {
			continue
		}
		out = append(out, domain.Kline{OpenTime: openTime, Close: closePrice.InexactFloat64()})
	}
	return out, nil
}

// PrecisionFromStep converts a lot step such as 0.001 into a decimal count.
func PrecisionFromStep(step float64) int {
	if step >= 1 || step <= 0 {
		return 0
	}
	return int(math.Round(-math.Log10(step)))
}

// PlaceOrder sends a signed market order.
func (c *Client) PlaceOrder(ctx context.Context, t domain.OrderTicket) (domain.OrderAck, error) {
	params := url.Values{}
	params.Set("symbol", t.Symbol)
	params.Set("side", string(t.Side))
	params.Set("type", domain.OrderTypeMarket)
	params.Set("quantity", t.Quantity)
	if t.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	if t.ClientOrderID != "" {
		params.Set("newClientOrderId", t.ClientOrderID)
	}

	ts := c.now() - c.lag
	var resp orderResponse
	if err := c.signed(ctx, http.MethodPost, pathOrder, params, ts, &resp); err != nil {
		return domain.OrderAck{}, fmt.Errorf("place order %s %s: %w", t.Side, t.Symbol, err)
	}

	c.logger.Info("Order Placed", "symbol", t.Symbol, "side", t.Side, "qty", t.Quantity,
		"reduce_only", t.ReduceOnly, "order_id", resp.OrderID)
	return domain.OrderAck{
		OrderID:       resp.OrderID,
		ClientOrderID: resp.ClientOrderID,
		Symbol:        resp.Symbol,
		Status:        resp.Status,
		UpdateTime:    resp.UpdateTime,
		RequestTime:   ts,
	}, nil
}

// PositionRisk returns every non-flat position with its unrealized PnL.
func (c *Client) PositionRisk(ctx context.Context) ([]domain.PositionRisk, error) {
	var rows []positionRiskRow
	if err := c.signed(ctx, http.MethodGet, pathPositionRisk, url.Values{}, c.now()-c.lag, &rows); err != nil {
		return nil, fmt.Errorf("position risk: %w", err)
	}
	out := make([]domain.PositionRisk, 0, len(rows))
	for _, row := range rows {
		amt, err := decimal.NewFromString(row.PositionAmt)
		if err != nil || amt.IsZero() {
			continue
		}
		pnl, err := decimal.NewFromString(row.UnrealizedProfit)
		if err != nil {
			continue
		}
		out = append(out, domain.PositionRisk{
			Symbol:           row.Symbol,
			PositionAmt:      amt.InexactFloat64(),
			UnrealizedProfit: pnl.InexactFloat64(),
		})
	}
	return out, nil
}

func (c *Client) signed(ctx context.Context, method, path string, params url.Values, ts int64, out any) error {
	params.Set("timestamp", strconv.FormatInt(ts, 10))
	params.Set("recvWindow", strconv.FormatInt(c.recvWindow, 10))
	payload := c.signer.SignQuery(params.Encode())

	if method == http.MethodGet {
		return c.do(ctx, method, path+"?"+payload, nil, true, out)
	}
	return c.do(ctx, method, path, strings.NewReader(payload), true, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, false, out)
}

// do handles rate limiting, auth headers and error decoding.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, auth bool, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if auth {
		for k, v := range c.signer.Headers() {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return domain.NewNetworkError(method+" "+strings.SplitN(path, "?", 2)[0], err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.NewNetworkError("read body", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &domain.APIError{Status: resp.StatusCode, Msg: string(data)}
		var e errorResponse
		if json.Unmarshal(data, &e) == nil && e.Code != 0 {
			apiErr.Code = e.Code
			apiErr.Msg = e.Msg
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
