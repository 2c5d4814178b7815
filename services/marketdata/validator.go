package marketdata

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"investsim_backend/models"
	"investsim_backend/services/provider"
)

// Validator checks quotes, candles and records for internal consistency
// and domain-valid ranges before they are allowed to reach storage.
// All methods are pure; a Validator is safe for concurrent use.
type Validator struct {
	minPrice             decimal.Decimal
	maxPrice             decimal.Decimal
	significantChangePct decimal.Decimal
}

// NewValidator creates a validator with the given price bounds and
// significant-change threshold (percent).
func NewValidator(minPrice, maxPrice, significantChangePct float64) *Validator {
	return &Validator{
		minPrice:             decimal.NewFromFloat(minPrice),
		maxPrice:             decimal.NewFromFloat(maxPrice),
		significantChangePct: decimal.NewFromFloat(significantChangePct),
	}
}

// IsValidPrice reports whether p is positive and within the configured bounds.
func (v *Validator) IsValidPrice(p decimal.Decimal) bool {
	if !p.IsPositive() {
		return false
	}
	return p.GreaterThanOrEqual(v.minPrice) && p.LessThanOrEqual(v.maxPrice)
}

// ValidateQuote checks a provider quote before it may update price state.
// High/low are treated as absent when zero (the provider omits them for
// some instruments).
func (v *Validator) ValidateQuote(q *provider.Quote) error {
	current := decimal.NewFromFloat(q.Current)
	if !v.IsValidPrice(current) {
		return fmt.Errorf("%w: current price %s out of range", ErrInvalidMarketData, current)
	}

	high := decimal.NewFromFloat(q.High)
	low := decimal.NewFromFloat(q.Low)
	hasHigh := !high.IsZero()
	hasLow := !low.IsZero()

	if hasHigh && hasLow {
		if high.LessThan(low) {
			return fmt.Errorf("%w: quote high %s below low %s", ErrInvalidMarketData, high, low)
		}
		if current.LessThan(low) || current.GreaterThan(high) {
			return fmt.Errorf("%w: current price %s outside [%s, %s]", ErrInvalidMarketData, current, low, high)
		}
	}

	return nil
}

// ValidateCandleAt checks the candle at index i of a series. The close
// must be a valid price; when open/high/low are present the usual OHLC
// ordering must hold.
func (v *Validator) ValidateCandleAt(c *provider.Candles, i int) error {
	if i < 0 || i >= c.Len() {
		return fmt.Errorf("%w: candle index %d out of range", ErrInvalidMarketData, i)
	}
	if i >= len(c.Close) {
		return fmt.Errorf("%w: candle %d has no close price", ErrInvalidMarketData, i)
	}

	closePrice := decimal.NewFromFloat(c.Close[i])
	if !v.IsValidPrice(closePrice) {
		return fmt.Errorf("%w: candle %d close %s out of range", ErrInvalidMarketData, i, closePrice)
	}

	var open, high, low decimal.Decimal
	hasOpen := i < len(c.Open) && c.Open[i] != 0
	hasHigh := i < len(c.High) && c.High[i] != 0
	hasLow := i < len(c.Low) && c.Low[i] != 0
	if hasOpen {
		open = decimal.NewFromFloat(c.Open[i])
	}
	if hasHigh {
		high = decimal.NewFromFloat(c.High[i])
	}
	if hasLow {
		low = decimal.NewFromFloat(c.Low[i])
	}

	if hasHigh && hasLow && high.LessThan(low) {
		return fmt.Errorf("%w: candle %d high %s below low %s", ErrInvalidMarketData, i, high, low)
	}
	if hasLow {
		if hasOpen && open.LessThan(low) {
			return fmt.Errorf("%w: candle %d open %s below low %s", ErrInvalidMarketData, i, open, low)
		}
		if closePrice.LessThan(low) {
			return fmt.Errorf("%w: candle %d close %s below low %s", ErrInvalidMarketData, i, closePrice, low)
		}
	}
	if hasHigh {
		if hasOpen && open.GreaterThan(high) {
			return fmt.Errorf("%w: candle %d open %s above high %s", ErrInvalidMarketData, i, open, high)
		}
		if closePrice.GreaterThan(high) {
			return fmt.Errorf("%w: candle %d close %s above high %s", ErrInvalidMarketData, i, closePrice, high)
		}
	}

	return nil
}

// ValidateRecord checks a complete record immediately before persistence.
func (v *Validator) ValidateRecord(r *models.MarketDataRecord) error {
	if !v.IsValidPrice(r.Open) {
		return fmt.Errorf("%w: record open %s invalid", ErrInvalidMarketData, r.Open)
	}
	if !v.IsValidPrice(r.Close) {
		return fmt.Errorf("%w: record close %s invalid", ErrInvalidMarketData, r.Close)
	}
	if r.Volume < 0 {
		return fmt.Errorf("%w: record volume %d negative", ErrInvalidMarketData, r.Volume)
	}

	hasHigh := !r.High.IsZero()
	hasLow := !r.Low.IsZero()
	if hasHigh && hasLow {
		if r.High.LessThan(r.Low) {
			return fmt.Errorf("%w: record high %s below low %s", ErrInvalidMarketData, r.High, r.Low)
		}
		if r.Open.LessThan(r.Low) || r.Open.GreaterThan(r.High) {
			return fmt.Errorf("%w: record open %s outside [%s, %s]", ErrInvalidMarketData, r.Open, r.Low, r.High)
		}
		if r.Close.LessThan(r.Low) || r.Close.GreaterThan(r.High) {
			return fmt.Errorf("%w: record close %s outside [%s, %s]", ErrInvalidMarketData, r.Close, r.Low, r.High)
		}
	}

	if r.Date.After(models.TradingDay(time.Now())) {
		return fmt.Errorf("%w: record date %s is in the future", ErrInvalidMarketData, r.Date.Format("2006-01-02"))
	}

	return nil
}

// IsSignificantChange reports whether the move from old to new exceeds the
// configured percent threshold. Advisory only: used for logging, never to
// block a write.
func (v *Validator) IsSignificantChange(old, new decimal.Decimal) bool {
	if !old.IsPositive() {
		return false
	}
	pct := new.Sub(old).Abs().Div(old).Mul(decimal.NewFromInt(100))
	return pct.GreaterThan(v.significantChangePct)
}
