package domain

import "context"

// MarketReader is the read side of the market state cache.
type MarketReader interface {
	Read(symbol string) (Quote, bool)
}

// MarketWriter is the write side of the market state cache. Both the
// streaming feed and the REST poller publish through it.
type MarketWriter interface {
	Publish(q Quote)
}

// OrderSink accepts orders for asynchronous execution.
type OrderSink interface {
	Submit(o OrderRequest) error
}

// ExchangeWorker defines the interface for long-lived market data connectors.
type ExchangeWorker interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
}

// PositionSource reports live positions and unrealized PnL from the exchange.
type PositionSource interface {
	PositionRisk(ctx context.Context) ([]PositionRisk, error)
}

// HaltSwitch is the global kill switch shared by risk and strategy.
type HaltSwitch interface {
	Halted() bool
}
