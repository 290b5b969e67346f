package domain

// Quote is the latest top-of-book view of a single instrument.
// Only the newest value per symbol is ever kept; a Quote is always
// published as a whole so readers never see a mix of old and new fields.
type Quote struct {
	Symbol     string  `json:"symbol"`
	LastPrice  float64 `json:"price"`
	BidSize    float64 `json:"bid_size"`
	AskSize    float64 `json:"ask_size"`
	ObservedAt int64   `json:"observed_at"` // Unix milliseconds
}

// Imbalance returns the order-book imbalance (bid-ask)/(bid+ask).
// An empty book yields 0.
func (q Quote) Imbalance() float64 {
	return Imbalance(q.BidSize, q.AskSize)
}

// Imbalance is the normalized difference between resting bid and ask size.
func Imbalance(bidSize, askSize float64) float64 {
	depth := bidSize + askSize
	if depth == 0 {
		return 0
	}
	return (bidSize - askSize) / depth
}

// Midpoint returns the simple average of best bid and best ask.
func Midpoint(bid, ask float64) float64 {
	return (bid + ask) / 2
}

// Microprice returns the size-weighted blend of best bid and ask:
// (bid*askSize + ask*bidSize) / (bidSize+askSize).
// It leans toward the side with less opposing size and falls back to
// the midpoint when the book shows no size at all.
func Microprice(bid, ask, bidSize, askSize float64) float64 {
	depth := bidSize + askSize
	if depth == 0 {
		return Midpoint(bid, ask)
	}
	return (bid*askSize + ask*bidSize) / depth
}

// Kline is one historical candle reduced to what spread fitting needs.
type Kline struct {
	OpenTime int64 // Unix milliseconds
	Close    float64
}
