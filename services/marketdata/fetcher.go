package marketdata

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"investsim_backend/config"
	"investsim_backend/models"
	"investsim_backend/services/provider"
)

// Fetcher wraps provider calls for a single symbol with bounded retry.
type Fetcher struct {
	client provider.Client
	db     *gorm.DB

	quoteAttempts  int
	quoteBackoff   time.Duration
	candleAttempts int
	candleBackoff  time.Duration
}

// NewFetcher creates a fetcher using the pipeline's retry budget.
func NewFetcher(client provider.Client, db *gorm.DB, cfg config.MarketDataConfig) *Fetcher {
	f := &Fetcher{
		client:         client,
		db:             db,
		quoteAttempts:  cfg.QuoteRetryAttempts,
		quoteBackoff:   time.Second,
		candleAttempts: cfg.HistoricalRetryAttempts,
		candleBackoff:  2 * time.Second,
	}
	if f.quoteAttempts <= 0 {
		f.quoteAttempts = 3
	}
	if f.candleAttempts <= 0 {
		f.candleAttempts = 2
	}
	return f
}

// FetchCurrentQuote fetches the current quote for a security. On success
// the security's stored previous close is synced from the quote whenever
// the two differ, so day-change math downstream stays correct without a
// separate fetch.
func (f *Fetcher) FetchCurrentQuote(ctx context.Context, security *models.Security) (*provider.Quote, error) {
	var quote *provider.Quote
	err := withRetry(f.quoteAttempts, f.quoteBackoff, func() error {
		q, err := f.client.GetQuote(ctx, security.Symbol)
		if err != nil {
			return err
		}
		quote = q
		return nil
	})
	if err != nil {
		return nil, err
	}

	f.syncPreviousClose(security, quote)
	return quote, nil
}

// FetchDailyCandles fetches the daily candle series for [from, to].
func (f *Fetcher) FetchDailyCandles(ctx context.Context, symbol string, from, to time.Time) (*provider.Candles, error) {
	var candles *provider.Candles
	err := withRetry(f.candleAttempts, f.candleBackoff, func() error {
		c, err := f.client.GetCandles(ctx, symbol, from, to, "D")
		if err != nil {
			return err
		}
		candles = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return candles, nil
}

// syncPreviousClose persists a drifted previous close. Best-effort: a
// failed write is logged and the quote is still returned.
func (f *Fetcher) syncPreviousClose(security *models.Security, quote *provider.Quote) {
	if quote.PreviousClose <= 0 {
		return
	}
	prev := decimal.NewFromFloat(quote.PreviousClose)
	if security.PreviousClose.Equal(prev) {
		return
	}
	security.PreviousClose = prev
	if f.db == nil {
		return
	}
	if err := f.db.Model(security).Update("previous_close", prev).Error; err != nil {
		log.Printf("Failed to sync previous close for %s: %v", security.Symbol, err)
	}
}

// withRetry re-executes fn up to attempts times with a fixed backoff
// between attempts, wrapping the final error as a provider failure.
func withRetry(attempts int, backoff time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			time.Sleep(backoff)
		}
		if err = fn(); err == nil {
			return nil
		}
		log.Printf("Provider call failed (attempt %d/%d): %v", i+1, attempts, err)
	}
	return fmt.Errorf("%w: %d attempts exhausted: %v", ErrProviderFailure, attempts, err)
}
