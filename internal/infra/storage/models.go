package storage

import "time"

// PrecisionRule caches exchange lot precision so startup survives an
// unreachable exchangeInfo.
type PrecisionRule struct {
	Symbol    string `gorm:"primaryKey"`
	Decimals  int
	UpdatedAt time.Time
}

// PositionRecord is the persisted form of an open spread position.
type PositionRecord struct {
	PairKey   string `gorm:"primaryKey"` // "LEG1/LEG2"
	Leg1      string
	Leg2      string
	Direction int
	Qty1      float64
	Qty2      float64
	OpenedAt  time.Time
	UpdatedAt time.Time
}

// EngineState is a key/value row for small engine flags.
type EngineState struct {
	Name  string `gorm:"primaryKey"`
	Value string
}
