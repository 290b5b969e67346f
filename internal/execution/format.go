package execution

import (
	"fmt"
	"maps"

	"statarb/internal/domain"

	"github.com/shopspring/decimal"
)

// Precisions maps symbol to lot decimal places. It is filled once at
// startup and only read afterwards, so workers share it without locking.
type Precisions struct {
	rules map[string]int
}

// NewPrecisions copies rules.
func NewPrecisions(rules map[string]int) Precisions {
	return Precisions{rules: maps.Clone(rules)}
}

// Len returns the number of loaded rules.
func (p Precisions) Len() int { return len(p.rules) }

// Resolve returns the rule for symbol or, when none was loaded, a guess
// from the quantity's magnitude.
func (p Precisions) Resolve(symbol string, qty float64) int {
	if prec, ok := p.rules[symbol]; ok {
		return prec
	}
	return HeuristicPrecision(qty)
}

// HeuristicPrecision: above 1000 whole units, above 1 one decimal,
// otherwise three decimals.
func HeuristicPrecision(qty float64) int {
	switch {
	case qty > 1000:
		return 0
	case qty > 1:
		return 1
	default:
		return 3
	}
}

// FormatQuantity floors qty to precision decimals. A result that is not
// positive is rejected with domain.ErrInvalidQuantity.
func FormatQuantity(qty float64, precision int) (string, error) {
	d := decimal.NewFromFloat(qty).RoundDown(int32(precision))
	if !d.IsPositive() {
		return "", fmt.Errorf("%w: %v floors to %s at %d decimals", domain.ErrInvalidQuantity, qty, d, precision)
	}
	return d.String(), nil
}
