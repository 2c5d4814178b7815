package marketdata

import (
	"log"
	"sync/atomic"
)

// CircuitBreaker gates the bulk update pipeline after too many consecutive
// failures. It is a plain counter with a threshold: the gate opens once the
// counter reaches the threshold and closes only when a bulk run completes
// with zero errors. There is no timed half-open probe.
//
// Instances are injected rather than shared through package state so tests
// can use a fresh breaker per case. All methods are safe for concurrent use.
type CircuitBreaker struct {
	threshold           int64
	consecutiveFailures atomic.Int64
}

// NewCircuitBreaker creates a breaker that opens at the given failure count.
func NewCircuitBreaker(threshold int) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	return &CircuitBreaker{threshold: int64(threshold)}
}

// IsOpen reports whether the gate currently blocks provider calls.
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.consecutiveFailures.Load() >= cb.threshold
}

// ConsecutiveFailures returns the current failure count.
func (cb *CircuitBreaker) ConsecutiveFailures() int {
	return int(cb.consecutiveFailures.Load())
}

// RecordBatchResult feeds one bulk run's tally into the breaker: a clean
// run resets the counter, a run where errors exceed successes adds the
// error count, anything in between leaves the counter untouched.
func (cb *CircuitBreaker) RecordBatchResult(successes, failures int) {
	switch {
	case failures == 0:
		cb.Reset()
	case failures > successes:
		total := cb.consecutiveFailures.Add(int64(failures))
		if total >= cb.threshold {
			log.Printf("Circuit breaker OPEN: %d consecutive failures (threshold %d)", total, cb.threshold)
		}
	}
}

// Reset clears the failure counter, closing the gate.
func (cb *CircuitBreaker) Reset() {
	if cb.consecutiveFailures.Swap(0) >= cb.threshold {
		log.Println("Circuit breaker reset to CLOSED")
	}
}
