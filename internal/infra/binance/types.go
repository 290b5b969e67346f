package binance

import (
	"time"

	"github.com/goccy/go-json"
)

const (
	pathServerTime   = "/fapi/v1/time"
	pathTickerPrice  = "/fapi/v1/ticker/price"
	pathExchangeInfo = "/fapi/v1/exchangeInfo"
	pathOrder        = "/fapi/v1/order"
	pathPositionRisk = "/fapi/v2/positionRisk"
	pathKlines       = "/fapi/v1/klines"

	bookTickerStream = "!bookTicker"

	baseDelay    = 1 * time.Second
	maxDelay     = 60 * time.Second
	pingInterval = 3 * time.Minute
	readTimeout  = 10 * time.Minute

	handshakeTimeout = 10 * time.Second
)

// subscribeRequest is the stream control frame.
type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     uint64   `json:"id"`
}

// bookTickerEvent is one best bid/ask update from the all-market stream.
// Numbers arrive as strings.
type bookTickerEvent struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	BidPrice  string `json:"b"`
	BidQty    string `json:"B"`
	AskPrice  string `json:"a"`
	AskQty    string `json:"A"`
	EventTime int64  `json:"E"`
	ID        *int64 `json:"id"`
}

type serverTimeResponse struct {
	ServerTime int64 `json:"serverTime"`
}

type tickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

type exchangeInfoResponse struct {
	Symbols []symbolInfo `json:"symbols"`
}

type symbolInfo struct {
	Symbol            string         `json:"symbol"`
	QuantityPrecision int            `json:"quantityPrecision"`
	Filters           []symbolFilter `json:"filters"`
}

type symbolFilter struct {
	FilterType string `json:"filterType"`
	StepSize   string `json:"stepSize"`
}

type orderResponse struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
	UpdateTime    int64  `json:"updateTime"`
}

type positionRiskRow struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	UnrealizedProfit string `json:"unRealizedProfit"`
}

type errorResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// klineRow is one candle: [openTime, open, high, low, close, volume, ...].
type klineRow []json.RawMessage
