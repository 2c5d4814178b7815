package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"investsim_backend/config"
	"investsim_backend/models"
	"investsim_backend/services/provider"
)

// fakeClient is a scriptable provider.Client that records its calls.
type fakeClient struct {
	mu           sync.Mutex
	quoteCalls   int
	quoteSymbols []string
	quoteFn      func(symbol string) (*provider.Quote, error)
	candleCalls  int
	candlesFn    func(symbol string, from, to time.Time) (*provider.Candles, error)
}

func (f *fakeClient) GetQuote(ctx context.Context, symbol string) (*provider.Quote, error) {
	f.mu.Lock()
	f.quoteCalls++
	f.quoteSymbols = append(f.quoteSymbols, symbol)
	f.mu.Unlock()
	if f.quoteFn == nil {
		return nil, errors.New("no quote scripted")
	}
	return f.quoteFn(symbol)
}

func (f *fakeClient) GetCandles(ctx context.Context, symbol string, from, to time.Time, resolution string) (*provider.Candles, error) {
	f.mu.Lock()
	f.candleCalls++
	f.mu.Unlock()
	if f.candlesFn == nil {
		return nil, errors.New("no candles scripted")
	}
	return f.candlesFn(symbol, from, to)
}

func (f *fakeClient) calledWith(symbol string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.quoteSymbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// testResolver resolves against the test DB, auto-creating any symbol not
// listed in unresolvable.
type testResolver struct {
	db           *gorm.DB
	unresolvable map[string]bool
}

func (r *testResolver) FindExistingSecurity(symbol string) (*models.Security, error) {
	var sec models.Security
	err := r.db.Where("symbol = ?", symbol).First(&sec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sec, nil
}

func (r *testResolver) CreateSecurityFromSymbol(symbol string) (*models.Security, error) {
	if r.unresolvable[symbol] {
		return nil, fmt.Errorf("unknown symbol %s", symbol)
	}
	sec := &models.Security{Symbol: symbol, Name: symbol, Status: "active"}
	if err := r.db.Create(sec).Error; err != nil {
		return nil, err
	}
	return sec, nil
}

func (r *testResolver) UpdateSecuritySector(security *models.Security) error {
	return nil
}

var testDBSeq atomic.Int64

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:marketdata_test_%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.MigrateMarketDataModels(db))
	return db
}

func testConfig() config.MarketDataConfig {
	return config.MarketDataConfig{
		StaleThresholdHours:      24,
		MinValidPrice:            0.01,
		MaxValidPrice:            100000,
		SignificantChangePercent: 5.0,
		BatchSize:                50,
		APIDelayMS:               1,
		BatchTimeoutSec:          5,
		FailureThreshold:         5,
		QuoteRetryAttempts:       3,
		HistoricalRetryAttempts:  2,
	}
}

// newTestStore assembles a store over an in-memory DB with millisecond
// retry backoffs so failing-path tests stay fast.
func newTestStore(t *testing.T, client *fakeClient) (*Store, *testResolver, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	cfg := testConfig()

	fetcher := NewFetcher(client, db, cfg)
	fetcher.quoteBackoff = time.Millisecond
	fetcher.candleBackoff = time.Millisecond

	resolver := &testResolver{db: db, unresolvable: map[string]bool{}}
	validator := NewValidator(cfg.MinValidPrice, cfg.MaxValidPrice, cfg.SignificantChangePercent)
	store := NewStore(db, fetcher, validator, resolver, cfg)
	return store, resolver, db
}

func goodQuote() *provider.Quote {
	return &provider.Quote{
		Current:       101.00,
		Open:          100.50,
		High:          102.00,
		Low:           100.00,
		PreviousClose: 100.00,
		Timestamp:     time.Now().Unix(),
	}
}
