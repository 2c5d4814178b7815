package marketdata

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"investsim_backend/models"
	"investsim_backend/services/provider"
)

func newTestValidator() *Validator {
	return NewValidator(0.01, 100000, 5.0)
}

func TestIsValidPrice_Bounds(t *testing.T) {
	v := newTestValidator()

	assert.True(t, v.IsValidPrice(decimal.NewFromFloat(0.01)))
	assert.True(t, v.IsValidPrice(decimal.NewFromFloat(100000)))
	assert.True(t, v.IsValidPrice(decimal.NewFromFloat(123.45)))

	assert.False(t, v.IsValidPrice(decimal.Zero))
	assert.False(t, v.IsValidPrice(decimal.NewFromFloat(-1)))
	assert.False(t, v.IsValidPrice(decimal.NewFromFloat(0.005)))
	assert.False(t, v.IsValidPrice(decimal.NewFromFloat(100000.01)))
}

func TestValidateQuote(t *testing.T) {
	v := newTestValidator()

	tests := []struct {
		name    string
		quote   provider.Quote
		wantErr bool
	}{
		{"valid full quote", provider.Quote{Current: 101, Open: 100.5, High: 102, Low: 100, PreviousClose: 100}, false},
		{"valid without high/low", provider.Quote{Current: 101, PreviousClose: 100}, false},
		{"zero current", provider.Quote{Current: 0, High: 102, Low: 100}, true},
		{"negative current", provider.Quote{Current: -5, High: 102, Low: 100}, true},
		{"high below low", provider.Quote{Current: 101, High: 100, Low: 102}, true},
		{"current above high", provider.Quote{Current: 103, High: 102, Low: 100}, true},
		{"current below low", provider.Quote{Current: 99, High: 102, Low: 100}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateQuote(&tt.quote)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidMarketData)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateCandleAt(t *testing.T) {
	v := newTestValidator()

	candles := &provider.Candles{
		Open:       []float64{100, 100, 100},
		High:       []float64{105, 99, 105},
		Low:        []float64{95, 101, 95},
		Close:      []float64{102, 100, 110},
		Volume:     []int64{1000, 1000, 1000},
		Timestamps: []int64{1, 2, 3},
		Status:     "ok",
	}

	assert.NoError(t, v.ValidateCandleAt(candles, 0))

	// high < low
	err := v.ValidateCandleAt(candles, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidMarketData)

	// close above high
	err = v.ValidateCandleAt(candles, 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidMarketData)

	// out of range index
	assert.Error(t, v.ValidateCandleAt(candles, 3))
	assert.Error(t, v.ValidateCandleAt(candles, -1))
}

func TestValidateRecord_FutureDate(t *testing.T) {
	v := newTestValidator()

	rec := &models.MarketDataRecord{
		Open:   decimal.NewFromFloat(100),
		High:   decimal.NewFromFloat(105),
		Low:    decimal.NewFromFloat(95),
		Close:  decimal.NewFromFloat(102),
		Volume: 1000,
		Date:   models.TradingDay(time.Now().AddDate(0, 0, 2)),
	}

	err := v.ValidateRecord(rec)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidMarketData)

	rec.Date = models.TradingDay(time.Now())
	assert.NoError(t, v.ValidateRecord(rec))
}

// TestValidateRecord_RandomTuples exercises the OHLCV invariant over random
// tuples: the validator must accept exactly the tuples satisfying
// low <= open <= high, low <= close <= high and volume >= 0.
func TestValidateRecord_RandomTuples(t *testing.T) {
	v := newTestValidator()
	rng := rand.New(rand.NewSource(42))
	date := models.TradingDay(time.Now().AddDate(0, 0, -1))

	price := func() float64 {
		// Stay well inside the configured bounds so only the OHLC
		// ordering decides validity.
		return 1 + rng.Float64()*199
	}

	for i := 0; i < 1000; i++ {
		open, high, low, close := price(), price(), price(), price()
		volume := rng.Int63n(2_000_000) - 1_000_000

		rec := &models.MarketDataRecord{
			Open:   decimal.NewFromFloat(open),
			High:   decimal.NewFromFloat(high),
			Low:    decimal.NewFromFloat(low),
			Close:  decimal.NewFromFloat(close),
			Volume: volume,
			Date:   date,
		}

		wantValid := low <= open && open <= high &&
			low <= close && close <= high &&
			volume >= 0

		err := v.ValidateRecord(rec)
		if wantValid {
			assert.NoError(t, err, "tuple o=%v h=%v l=%v c=%v vol=%d should be valid", open, high, low, close, volume)
		} else {
			assert.Error(t, err, "tuple o=%v h=%v l=%v c=%v vol=%d should be invalid", open, high, low, close, volume)
		}
	}
}

func TestIsSignificantChange(t *testing.T) {
	v := newTestValidator()

	old := decimal.NewFromFloat(100)

	assert.False(t, v.IsSignificantChange(old, decimal.NewFromFloat(104)))   // 4%
	assert.False(t, v.IsSignificantChange(old, decimal.NewFromFloat(105)))   // exactly 5%, not above threshold
	assert.True(t, v.IsSignificantChange(old, decimal.NewFromFloat(105.01))) // > 5%
	assert.True(t, v.IsSignificantChange(old, decimal.NewFromFloat(94)))     // -6%

	// no previous price means nothing to compare against
	assert.False(t, v.IsSignificantChange(decimal.Zero, decimal.NewFromFloat(50)))
}
