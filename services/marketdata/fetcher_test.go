package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"investsim_backend/models"
	"investsim_backend/services/provider"
)

func newTestFetcher(client *fakeClient) *Fetcher {
	f := NewFetcher(client, nil, testConfig())
	f.quoteBackoff = time.Millisecond
	f.candleBackoff = time.Millisecond
	return f
}

func TestFetchCurrentQuote_RetriesThenSucceeds(t *testing.T) {
	calls := 0
	client := &fakeClient{
		quoteFn: func(symbol string) (*provider.Quote, error) {
			calls++
			if calls < 3 {
				return nil, errors.New("connection reset")
			}
			return goodQuote(), nil
		},
	}
	f := newTestFetcher(client)

	sec := &models.Security{Symbol: "ABC"}
	quote, err := f.FetchCurrentQuote(context.Background(), sec)
	require.NoError(t, err)
	assert.Equal(t, 101.00, quote.Current)
	assert.Equal(t, 3, calls)
}

func TestFetchCurrentQuote_ExhaustsAttempts(t *testing.T) {
	client := &fakeClient{
		quoteFn: func(symbol string) (*provider.Quote, error) {
			return nil, errors.New("503 service unavailable")
		},
	}
	f := newTestFetcher(client)

	_, err := f.FetchCurrentQuote(context.Background(), &models.Security{Symbol: "ABC"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderFailure)
	assert.Equal(t, 3, client.quoteCalls)
}

func TestFetchDailyCandles_UsesHistoricalBudget(t *testing.T) {
	client := &fakeClient{
		candlesFn: func(symbol string, from, to time.Time) (*provider.Candles, error) {
			return nil, errors.New("timeout")
		},
	}
	f := newTestFetcher(client)

	_, err := f.FetchDailyCandles(context.Background(), "ABC", time.Now().AddDate(0, 0, -5), time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderFailure)
	assert.Equal(t, 2, client.candleCalls)
}

func TestFetchCurrentQuote_SyncsPreviousClose(t *testing.T) {
	client := &fakeClient{
		quoteFn: func(symbol string) (*provider.Quote, error) {
			return goodQuote(), nil
		},
	}

	db := newTestDB(t)
	f := NewFetcher(client, db, testConfig())
	f.quoteBackoff = time.Millisecond

	sec := &models.Security{Symbol: "ABC", PreviousClose: decimal.NewFromFloat(98.00)}
	require.NoError(t, db.Create(sec).Error)

	_, err := f.FetchCurrentQuote(context.Background(), sec)
	require.NoError(t, err)

	// In-memory copy and stored row both track the quote's previous close
	assert.True(t, sec.PreviousClose.Equal(decimal.NewFromFloat(100.00)))

	var stored models.Security
	require.NoError(t, db.First(&stored, sec.ID).Error)
	assert.True(t, stored.PreviousClose.Equal(decimal.NewFromFloat(100.00)))
}
