package marketdata

import (
	"context"
	"fmt"
	"log"
	"time"

	"investsim_backend/config"
	"investsim_backend/models"
)

// BulkResult aggregates one bulk run. Failures are counted, never allowed
// to abort sibling symbols.
type BulkResult struct {
	Total     int  `json:"total"`
	Successes int  `json:"successes"`
	Errors    int  `json:"errors"`
	Skipped   bool `json:"skipped"` // true when the circuit breaker refused the run
}

// BulkUpdater drives the single-symbol refresh path across many symbols:
// sequential batches, concurrent units within a batch, per-unit rate delay,
// and a circuit breaker fed from the aggregate tally.
type BulkUpdater struct {
	store   *Store
	breaker *CircuitBreaker

	batchSize    int
	apiDelay     time.Duration
	batchTimeout time.Duration
}

// NewBulkUpdater creates a bulk updater with the pipeline's batching knobs.
func NewBulkUpdater(store *Store, breaker *CircuitBreaker, cfg config.MarketDataConfig) *BulkUpdater {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	delay := time.Duration(cfg.APIDelayMS) * time.Millisecond
	timeout := time.Duration(cfg.BatchTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &BulkUpdater{
		store:        store,
		breaker:      breaker,
		batchSize:    batchSize,
		apiDelay:     delay,
		batchTimeout: timeout,
	}
}

// Breaker exposes the gate for status reporting.
func (u *BulkUpdater) Breaker() *CircuitBreaker { return u.breaker }

// BulkUpdateCurrentPrices refreshes current prices for the given symbols.
// Returns ErrCircuitOpen without contacting the provider when the breaker
// is open. Symbols that cannot be resolved count as errors and never reach
// the fetch stage.
func (u *BulkUpdater) BulkUpdateCurrentPrices(ctx context.Context, symbols []string) (*BulkResult, error) {
	result := &BulkResult{Total: len(symbols)}

	if u.breaker.IsOpen() {
		log.Printf("Bulk price update skipped: circuit breaker open (%d consecutive failures)",
			u.breaker.ConsecutiveFailures())
		result.Skipped = true
		return result, fmt.Errorf("%w: %d consecutive failures", ErrCircuitOpen, u.breaker.ConsecutiveFailures())
	}
	if len(symbols) == 0 {
		u.breaker.RecordBatchResult(0, 0)
		return result, nil
	}

	log.Printf("Starting bulk price update for %d symbols (batch size %d)", len(symbols), u.batchSize)
	start := time.Now()

	for offset := 0; offset < len(symbols); offset += u.batchSize {
		end := offset + u.batchSize
		if end > len(symbols) {
			end = len(symbols)
		}
		successes, errors := u.runBatch(ctx, symbols[offset:end])
		result.Successes += successes
		result.Errors += errors

		// Breathe between batches to respect provider rate limits
		if end < len(symbols) {
			time.Sleep(2 * u.apiDelay)
		}
	}

	u.breaker.RecordBatchResult(result.Successes, result.Errors)

	log.Printf("Bulk price update done: %d ok, %d failed, %d total in %s",
		result.Successes, result.Errors, result.Total, time.Since(start).Round(time.Millisecond))
	return result, nil
}

// runBatch resolves one batch of symbols, fans out a concurrent fetch unit
// per resolved security and waits for the batch with a fixed timeout.
// Units still running past the timeout are told to stop (best-effort) and
// counted as errors; any result they deliver late is discarded.
func (u *BulkUpdater) runBatch(ctx context.Context, symbols []string) (successes, errors int) {
	resolved := make([]*models.Security, 0, len(symbols))
	for _, symbol := range symbols {
		security, err := u.store.resolveSecurity(symbol)
		if err != nil {
			log.Printf("Skipping %s: %v", symbol, err)
			errors++
			continue
		}
		resolved = append(resolved, security)
	}
	if len(resolved) == 0 {
		return successes, errors
	}

	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Buffered so late units never block on send after the timeout fires.
	results := make(chan FetchOutcome, len(resolved))
	for _, security := range resolved {
		go func(sec *models.Security) {
			_, err := u.store.updateCurrent(batchCtx, sec)
			// Per-unit delay after the fetch keeps aggregate request
			// rate under the provider's limits.
			time.Sleep(u.apiDelay)
			if err != nil {
				log.Printf("Price update failed for %s: %v", sec.Symbol, err)
				results <- classifyError(err)
			} else {
				results <- OutcomeSuccess
			}
		}(security)
	}

	timer := time.NewTimer(u.batchTimeout)
	defer timer.Stop()

	received := 0
	for received < len(resolved) {
		select {
		case outcome := <-results:
			received++
			if outcome == OutcomeSuccess {
				successes++
			} else {
				errors++
			}
		case <-timer.C:
			remaining := len(resolved) - received
			log.Printf("Batch timed out after %s with %d units still running", u.batchTimeout, remaining)
			errors += remaining
			cancel()
			return successes, errors
		}
	}
	return successes, errors
}
