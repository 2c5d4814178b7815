package marketdata

import "errors"

// Error taxonomy for the ingestion pipeline. Callers branch with errors.Is.
var (
	// ErrInvalidMarketData marks data that failed a validity check; such
	// data is never persisted.
	ErrInvalidMarketData = errors.New("invalid market data")

	// ErrProviderFailure marks a provider call that failed after all
	// retry attempts were exhausted.
	ErrProviderFailure = errors.New("market data provider failure")

	// ErrCircuitOpen is returned when the circuit breaker refuses work.
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrStaleData is returned when the last cached record is too old to
	// serve as a fallback.
	ErrStaleData = errors.New("cached market data exceeds staleness threshold")

	// ErrSecurityNotFound is returned when a symbol cannot be resolved
	// and cannot be auto-created.
	ErrSecurityNotFound = errors.New("security not found")
)

// FetchOutcome classifies the result of one symbol's fetch attempt. It is
// transient, used only for batch aggregation and logging.
type FetchOutcome int

const (
	OutcomeSuccess FetchOutcome = iota
	OutcomeValidationFailure
	OutcomeProviderError
	OutcomeStaleFallback
	OutcomeResolutionFailure
)

func (o FetchOutcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeValidationFailure:
		return "validation_failure"
	case OutcomeProviderError:
		return "provider_error"
	case OutcomeStaleFallback:
		return "stale_fallback"
	case OutcomeResolutionFailure:
		return "resolution_failure"
	default:
		return "unknown"
	}
}

// classifyError maps a pipeline error to its outcome bucket.
func classifyError(err error) FetchOutcome {
	switch {
	case errors.Is(err, ErrInvalidMarketData):
		return OutcomeValidationFailure
	case errors.Is(err, ErrSecurityNotFound):
		return OutcomeResolutionFailure
	default:
		return OutcomeProviderError
	}
}
