package marketdata

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"investsim_backend/config"
	"investsim_backend/services/provider"
)

func newTestUpdater(t *testing.T, client *fakeClient, cfg config.MarketDataConfig) (*BulkUpdater, *testResolver) {
	t.Helper()
	store, resolver, _ := newTestStore(t, client)
	breaker := NewCircuitBreaker(cfg.FailureThreshold)
	return NewBulkUpdater(store, breaker, cfg), resolver
}

func TestBulkUpdate_EveryResolvableSymbolFetchedOnce(t *testing.T) {
	client := &fakeClient{
		quoteFn: func(symbol string) (*provider.Quote, error) {
			return goodQuote(), nil
		},
	}
	cfg := testConfig()
	cfg.BatchSize = 3
	updater, resolver := newTestUpdater(t, client, cfg)
	resolver.unresolvable["BAD1"] = true
	resolver.unresolvable["BAD2"] = true

	symbols := []string{"AAA", "BAD1", "BBB", "CCC", "DDD", "BAD2", "EEE"}
	result, err := updater.BulkUpdateCurrentPrices(context.Background(), symbols)
	require.NoError(t, err)

	assert.Equal(t, len(symbols), result.Total)
	assert.Equal(t, 5, result.Successes)
	assert.Equal(t, 2, result.Errors)
	assert.False(t, result.Skipped)

	assert.Equal(t, 5, client.quoteCalls)
	for _, symbol := range []string{"AAA", "BBB", "CCC", "DDD", "EEE"} {
		assert.True(t, client.calledWith(symbol), "expected a fetch for %s", symbol)
	}
	assert.False(t, client.calledWith("BAD1"), "unresolvable symbols must never reach the provider")
	assert.False(t, client.calledWith("BAD2"))
}

func TestBulkUpdate_SkippedWhileBreakerOpen(t *testing.T) {
	client := &fakeClient{
		quoteFn: func(symbol string) (*provider.Quote, error) {
			return goodQuote(), nil
		},
	}
	cfg := testConfig()
	updater, _ := newTestUpdater(t, client, cfg)

	for i := int64(0); i < updater.Breaker().threshold; i++ {
		updater.Breaker().RecordBatchResult(0, 1)
	}
	require.True(t, updater.Breaker().IsOpen())

	result, err := updater.BulkUpdateCurrentPrices(context.Background(), []string{"AAA", "BBB"})

	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, result.Skipped)
	assert.Equal(t, 0, result.Successes)
	assert.Equal(t, 0, result.Errors)
	assert.Equal(t, 0, client.quoteCalls, "an open breaker must block all provider traffic")
}

func TestBulkUpdate_CleanRunResetsBreaker(t *testing.T) {
	client := &fakeClient{
		quoteFn: func(symbol string) (*provider.Quote, error) {
			return goodQuote(), nil
		},
	}
	updater, _ := newTestUpdater(t, client, testConfig())
	updater.Breaker().RecordBatchResult(0, 3)
	require.Equal(t, 3, updater.Breaker().ConsecutiveFailures())

	result, err := updater.BulkUpdateCurrentPrices(context.Background(), []string{"AAA", "BBB"})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Successes)
	assert.Equal(t, 0, result.Errors)
	assert.Equal(t, 0, updater.Breaker().ConsecutiveFailures())
}

func TestBulkUpdate_FailingRunsOpenBreaker(t *testing.T) {
	client := &fakeClient{
		quoteFn: func(symbol string) (*provider.Quote, error) {
			return nil, errors.New("provider down")
		},
	}
	cfg := testConfig()
	cfg.FailureThreshold = 5
	updater, _ := newTestUpdater(t, client, cfg)

	// Three symbols, all failing: each run adds three to the counter, so
	// the second run crosses the threshold.
	symbols := []string{"AAA", "BBB", "CCC"}

	result, err := updater.BulkUpdateCurrentPrices(context.Background(), symbols)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Errors)
	assert.False(t, updater.Breaker().IsOpen())

	result, err = updater.BulkUpdateCurrentPrices(context.Background(), symbols)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Errors)
	assert.True(t, updater.Breaker().IsOpen())

	result, err = updater.BulkUpdateCurrentPrices(context.Background(), symbols)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, result.Skipped)
}

func TestBulkUpdate_MixedRunLeavesBreakerUntouched(t *testing.T) {
	client := &fakeClient{
		quoteFn: func(symbol string) (*provider.Quote, error) {
			if symbol == "BAD" {
				return nil, errors.New("provider down")
			}
			return goodQuote(), nil
		},
	}
	updater, _ := newTestUpdater(t, client, testConfig())
	updater.Breaker().RecordBatchResult(0, 2)

	result, err := updater.BulkUpdateCurrentPrices(context.Background(), []string{"AAA", "BAD", "BBB"})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Successes)
	assert.Equal(t, 1, result.Errors)
	assert.Equal(t, 2, updater.Breaker().ConsecutiveFailures(),
		"a mostly-successful run neither feeds nor resets the counter")
}

func TestBulkUpdate_TimeoutCountsStragglersAsErrors(t *testing.T) {
	release := make(chan struct{})
	client := &fakeClient{
		quoteFn: func(symbol string) (*provider.Quote, error) {
			if symbol == "SLOW" {
				<-release
			}
			return goodQuote(), nil
		},
	}
	cfg := testConfig()
	cfg.BatchTimeoutSec = 1
	updater, _ := newTestUpdater(t, client, cfg)

	done := make(chan *BulkResult, 1)
	go func() {
		r, err := updater.BulkUpdateCurrentPrices(context.Background(), []string{"AAA", "SLOW", "BBB"})
		assert.NoError(t, err)
		done <- r
	}()

	var result *BulkResult
	select {
	case result = <-done:
	case <-time.After(5 * time.Second):
		close(release)
		t.Fatal("bulk update did not return after the batch timeout")
	}
	close(release)

	assert.Equal(t, 2, result.Successes)
	assert.Equal(t, 1, result.Errors, "the unit still running at the deadline counts as an error")
}

func TestBulkUpdate_EmptySymbolListResetsBreaker(t *testing.T) {
	client := &fakeClient{}
	updater, _ := newTestUpdater(t, client, testConfig())
	updater.Breaker().RecordBatchResult(0, 2)

	result, err := updater.BulkUpdateCurrentPrices(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 0, result.Total)
	assert.False(t, result.Skipped)
	assert.Equal(t, 0, updater.Breaker().ConsecutiveFailures())
	assert.Equal(t, 0, client.quoteCalls)
}

func TestBulkUpdate_BatchBoundaries(t *testing.T) {
	client := &fakeClient{
		quoteFn: func(symbol string) (*provider.Quote, error) {
			return goodQuote(), nil
		},
	}
	cfg := testConfig()
	cfg.BatchSize = 2
	updater, _ := newTestUpdater(t, client, cfg)

	symbols := make([]string, 5)
	for i := range symbols {
		symbols[i] = fmt.Sprintf("SYM%d", i)
	}
	result, err := updater.BulkUpdateCurrentPrices(context.Background(), symbols)
	require.NoError(t, err)

	assert.Equal(t, 5, result.Successes)
	assert.Equal(t, 0, result.Errors)
	assert.Equal(t, 5, client.quoteCalls)
}
