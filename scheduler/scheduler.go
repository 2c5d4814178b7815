package scheduler

// Package scheduler provides scheduled job management for the market data
// pipeline. It handles:
// - Periodic current-price refresh during market hours
// - Daily historical catch-up after market close
// - Weekly cleanup of aged records
//
// The jobs are implemented in jobs.go
