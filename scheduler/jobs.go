package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron"
	"gorm.io/gorm"

	"investsim_backend/models"
	"investsim_backend/services/marketdata"
	"investsim_backend/services/securities"
)

// Scheduler manages the pipeline's scheduled jobs
type Scheduler struct {
	cron     *gocron.Scheduler
	db       *gorm.DB
	updater  *marketdata.BulkUpdater
	store    *marketdata.Store
	resolver *securities.Resolver
}

// NewScheduler creates a new scheduler instance
func NewScheduler(db *gorm.DB, updater *marketdata.BulkUpdater, store *marketdata.Store, resolver *securities.Resolver) *Scheduler {
	return &Scheduler{
		cron:     gocron.NewScheduler(time.UTC),
		db:       db,
		updater:  updater,
		store:    store,
		resolver: resolver,
	}
}

// Start starts all scheduled jobs
func (s *Scheduler) Start() {
	log.Println("Starting scheduler...")

	// Refresh current prices every 5 minutes during trading hours
	s.cron.Every(5).Minutes().Do(func() {
		if isMarketOpen() {
			s.refreshCurrentPrices()
		}
	})

	// Catch up yesterday's candles daily after market close
	s.cron.Every(1).Day().At("21:30").Do(func() {
		s.backfillRecentHistory()
	})

	// Cleanup old records weekly on Sunday at 01:00
	s.cron.Every(1).Week().Sunday().At("01:00").Do(func() {
		s.cleanupOldData()
	})

	s.cron.StartAsync()
	log.Println("Scheduler started successfully")
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("Scheduler stopped")
}

// refreshCurrentPrices runs a bulk price update for all active securities
func (s *Scheduler) refreshCurrentPrices() {
	symbols, err := s.resolver.ListActiveSymbols()
	if err != nil {
		log.Printf("Error loading active securities: %v", err)
		return
	}
	if len(symbols) == 0 {
		return
	}

	if _, err := s.updater.BulkUpdateCurrentPrices(context.Background(), symbols); err != nil {
		log.Printf("Bulk price refresh not run: %v", err)
	}
}

// backfillRecentHistory pulls the last few trading days for each active
// security to repair any gaps the intraday refresh missed.
func (s *Scheduler) backfillRecentHistory() {
	log.Println("Running historical catch-up...")

	symbols, err := s.resolver.ListActiveSymbols()
	if err != nil {
		log.Printf("Error loading active securities: %v", err)
		return
	}

	to := time.Now()
	from := to.AddDate(0, 0, -7)

	for _, symbol := range symbols {
		if _, err := s.store.FetchAndStoreHistoricalMarketData(context.Background(), symbol, from, to); err != nil {
			log.Printf("Historical catch-up failed for %s: %v", symbol, err)
		}
	}

	log.Printf("Historical catch-up completed for %d securities", len(symbols))
}

// cleanupOldData removes records older than 5 years to save storage
func (s *Scheduler) cleanupOldData() {
	log.Println("Cleaning up old market data...")

	fiveYearsAgo := time.Now().AddDate(-5, 0, 0)
	if err := s.db.Where("date < ?", fiveYearsAgo).Delete(&models.MarketDataRecord{}).Error; err != nil {
		log.Printf("Error cleaning up old records: %v", err)
	}

	log.Println("Cleanup completed")
}

// isMarketOpen checks if the US stock market is currently open
func isMarketOpen() bool {
	now := time.Now().UTC()

	// Check if weekend
	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return false
	}

	// Regular session 09:30-16:00 ET, approximated as 14:30-21:00 UTC
	minutes := now.Hour()*60 + now.Minute()
	return minutes >= 14*60+30 && minutes < 21*60
}
