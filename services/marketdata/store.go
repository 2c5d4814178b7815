package marketdata

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"investsim_backend/config"
	"investsim_backend/models"
	"investsim_backend/services/provider"
)

// SecurityResolver is the narrow contract to the security registry.
// FindExistingSecurity returns (nil, nil) for an unknown symbol.
type SecurityResolver interface {
	FindExistingSecurity(symbol string) (*models.Security, error)
	CreateSecurityFromSymbol(symbol string) (*models.Security, error)
	UpdateSecuritySector(security *models.Security) error
}

// PriceUpdateFunc is invoked after a security's price state is committed.
type PriceUpdateFunc func(security *models.Security)

// Store is the persistence boundary of the pipeline: one record per
// (security, trading day) plus the current-price state on the security
// row, with a staleness-aware fallback on the write-triggering fetch path.
type Store struct {
	db        *gorm.DB
	fetcher   *Fetcher
	validator *Validator
	resolver  SecurityResolver
	archive   *Archive
	onUpdate  PriceUpdateFunc

	staleThreshold time.Duration
	dataSource     string
}

// NewStore wires the store with its collaborators.
func NewStore(db *gorm.DB, fetcher *Fetcher, validator *Validator, resolver SecurityResolver, cfg config.MarketDataConfig) *Store {
	hours := cfg.StaleThresholdHours
	if hours <= 0 {
		hours = 24
	}
	return &Store{
		db:             db,
		fetcher:        fetcher,
		validator:      validator,
		resolver:       resolver,
		staleThreshold: time.Duration(hours) * time.Hour,
		dataSource:     provider.SourceName,
	}
}

// SetArchive attaches the optional raw-quote archive.
func (s *Store) SetArchive(a *Archive) { s.archive = a }

// OnPriceUpdate registers a hook called after each committed price update.
func (s *Store) OnPriceUpdate(fn PriceUpdateFunc) { s.onUpdate = fn }

// FindRecordByKey returns the record for (security, date), or (nil, nil)
// when none exists.
func (s *Store) FindRecordByKey(securityID uint, date time.Time) (*models.MarketDataRecord, error) {
	var rec models.MarketDataRecord
	err := s.db.Where("security_id = ? AND date = ?", securityID, models.TradingDay(date)).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// GetOrCreateRecord returns the existing record for (security, date) or a
// new unsaved one stamped with the data source. The bool reports whether
// the record already existed.
func (s *Store) GetOrCreateRecord(security *models.Security, date time.Time) (*models.MarketDataRecord, bool, error) {
	existing, err := s.FindRecordByKey(security.ID, date)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, true, nil
	}
	now := time.Now()
	return &models.MarketDataRecord{
		SecurityID: security.ID,
		Date:       models.TradingDay(date),
		DataSource: s.dataSource,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, false, nil
}

// FetchAndStoreCurrentMarketData refreshes one symbol: fetch, validate,
// commit price state, upsert today's record. On any failure it serves the
// most recent stored record instead, provided that record is fresher than
// the staleness threshold; otherwise the failure propagates.
func (s *Store) FetchAndStoreCurrentMarketData(ctx context.Context, symbol string) (*models.MarketDataRecord, FetchOutcome, error) {
	security, err := s.resolveSecurity(symbol)
	if err != nil {
		return nil, OutcomeResolutionFailure, err
	}

	rec, err := s.updateCurrent(ctx, security)
	if err == nil {
		return rec, OutcomeSuccess, nil
	}

	fallback, fbErr := s.latestWithinStaleness(security.ID)
	if fbErr != nil {
		return nil, classifyError(err), fmt.Errorf("fetch failed (%v); %w", err, fbErr)
	}
	log.Printf("Serving cached market data for %s (last updated %s) after fetch failure: %v",
		symbol, fallback.UpdatedAt.Format(time.RFC3339), err)
	return fallback, OutcomeStaleFallback, nil
}

// updateCurrent runs the fetch-validate-persist path for an already
// resolved security, with no fallback. The batch updater calls this
// directly so that served fallbacks still count as failures.
func (s *Store) updateCurrent(ctx context.Context, security *models.Security) (*models.MarketDataRecord, error) {
	quote, err := s.fetcher.FetchCurrentQuote(ctx, security)
	if err != nil {
		return nil, err
	}

	if err := s.validator.ValidateQuote(quote); err != nil {
		return nil, err
	}

	rec, existing, err := s.GetOrCreateRecord(security, time.Now())
	if err != nil {
		return nil, err
	}
	applyQuote(rec, quote)

	if err := s.validator.ValidateRecord(rec); err != nil {
		return nil, err
	}

	// Price state commits first: it is the source of truth for the rest
	// of the system even if the daily record write below fails.
	if err := s.commitPriceState(security, quote); err != nil {
		return nil, err
	}

	if existing {
		err = s.db.Save(rec).Error
	} else {
		err = s.db.Create(rec).Error
	}
	if err != nil {
		log.Printf("Failed to persist market data record for %s on %s: %v",
			security.Symbol, rec.Date.Format("2006-01-02"), err)
	}

	if s.archive != nil {
		if err := s.archive.SaveQuote(ctx, security.Symbol, quote); err != nil {
			log.Printf("Raw quote archive write failed for %s: %v", security.Symbol, err)
		}
	}
	if s.onUpdate != nil {
		s.onUpdate(security)
	}

	return rec, nil
}

// FetchAndStoreHistoricalMarketData backfills daily records over [from, to].
// Weekend candles and candles failing validation are skipped. New rows are
// persisted as one batch; if that batch insert fails the rows are retried
// one at a time so a single bad row does not lose the rest of the range.
// Returns the number of records persisted.
func (s *Store) FetchAndStoreHistoricalMarketData(ctx context.Context, symbol string, from, to time.Time) (int, error) {
	security, err := s.resolveSecurity(symbol)
	if err != nil {
		return 0, err
	}

	candles, err := s.fetcher.FetchDailyCandles(ctx, symbol, from, to)
	if err != nil {
		return 0, err
	}

	persisted := 0
	var toInsert []models.MarketDataRecord
	for i := 0; i < candles.Len(); i++ {
		day := models.TradingDay(time.Unix(candles.Timestamps[i], 0))
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			continue
		}
		if err := s.validator.ValidateCandleAt(candles, i); err != nil {
			log.Printf("Skipping candle for %s on %s: %v", symbol, day.Format("2006-01-02"), err)
			continue
		}

		rec, existing, err := s.GetOrCreateRecord(security, day)
		if err != nil {
			return persisted, err
		}
		applyCandle(rec, candles, i)

		if err := s.validator.ValidateRecord(rec); err != nil {
			log.Printf("Skipping record for %s on %s: %v", symbol, day.Format("2006-01-02"), err)
			continue
		}

		if existing {
			if err := s.db.Save(rec).Error; err != nil {
				log.Printf("Failed to update record for %s on %s: %v", symbol, day.Format("2006-01-02"), err)
				continue
			}
			persisted++
		} else {
			toInsert = append(toInsert, *rec)
		}
	}

	if len(toInsert) > 0 {
		if err := s.db.Create(&toInsert).Error; err != nil {
			log.Printf("Batch insert of %d records for %s failed (%v), retrying one at a time", len(toInsert), symbol, err)
			for i := range toInsert {
				rec := toInsert[i]
				rec.ID = 0
				if err := s.db.Create(&rec).Error; err != nil {
					log.Printf("Failed to insert record for %s on %s: %v", symbol, rec.Date.Format("2006-01-02"), err)
					continue
				}
				persisted++
			}
		} else {
			persisted += len(toInsert)
		}
	}

	log.Printf("Stored %d historical records for %s (%s to %s)",
		persisted, symbol, from.Format("2006-01-02"), to.Format("2006-01-02"))
	return persisted, nil
}

// GetLatestMarketData returns the most recent record for a symbol. Pure
// read: no fetch, no staleness fallback.
func (s *Store) GetLatestMarketData(symbol string) (*models.MarketDataRecord, error) {
	security, err := s.findSecurity(symbol)
	if err != nil {
		return nil, err
	}
	var rec models.MarketDataRecord
	if err := s.db.Where("security_id = ?", security.ID).Order("date DESC").First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("no market data for %s", symbol)
		}
		return nil, err
	}
	return &rec, nil
}

// GetMarketData returns the record for a symbol on a specific date.
func (s *Store) GetMarketData(symbol string, date time.Time) (*models.MarketDataRecord, error) {
	security, err := s.findSecurity(symbol)
	if err != nil {
		return nil, err
	}
	rec, err := s.FindRecordByKey(security.ID, date)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("no market data for %s on %s", symbol, date.Format("2006-01-02"))
	}
	return rec, nil
}

// commitPriceState writes the current-price view onto the security row.
func (s *Store) commitPriceState(security *models.Security, quote *provider.Quote) error {
	current := decimal.NewFromFloat(quote.Current)
	prevClose := decimal.NewFromFloat(quote.PreviousClose)

	if s.validator.IsSignificantChange(security.CurrentPrice, current) {
		log.Printf("Significant price change for %s: %s -> %s", security.Symbol, security.CurrentPrice, current)
	}

	change := decimal.Zero
	changePct := decimal.Zero
	if prevClose.IsPositive() {
		change = current.Sub(prevClose)
		changePct = change.Div(prevClose).Mul(decimal.NewFromInt(100))
	}

	now := time.Now()
	security.CurrentPrice = current
	security.PreviousClose = prevClose
	security.PriceChange = change
	security.PriceChangePercent = changePct
	security.PriceUpdatedAt = &now

	return s.db.Model(security).Updates(map[string]interface{}{
		"current_price":        current,
		"previous_close":       prevClose,
		"price_change":         change,
		"price_change_percent": changePct,
		"price_updated_at":     now,
	}).Error
}

// latestWithinStaleness returns the newest record for a security when its
// last update is within the staleness threshold.
func (s *Store) latestWithinStaleness(securityID uint) (*models.MarketDataRecord, error) {
	var rec models.MarketDataRecord
	if err := s.db.Where("security_id = ?", securityID).Order("date DESC").First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: no cached record", ErrStaleData)
		}
		return nil, err
	}
	age := time.Since(rec.UpdatedAt)
	if age > s.staleThreshold {
		return nil, fmt.Errorf("%w: last update %s ago", ErrStaleData, age.Round(time.Minute))
	}
	return &rec, nil
}

// resolveSecurity finds a security by symbol, auto-creating it when
// unknown. Sector enrichment after create is best-effort.
func (s *Store) resolveSecurity(symbol string) (*models.Security, error) {
	security, err := s.resolver.FindExistingSecurity(symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSecurityNotFound, symbol, err)
	}
	if security != nil {
		return security, nil
	}

	security, err = s.resolver.CreateSecurityFromSymbol(symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSecurityNotFound, symbol, err)
	}
	if err := s.resolver.UpdateSecuritySector(security); err != nil {
		log.Printf("Sector enrichment failed for %s: %v", symbol, err)
	}
	return security, nil
}

// findSecurity is the read-only resolution used by plain reads.
func (s *Store) findSecurity(symbol string) (*models.Security, error) {
	security, err := s.resolver.FindExistingSecurity(symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSecurityNotFound, symbol, err)
	}
	if security == nil {
		return nil, fmt.Errorf("%w: %s", ErrSecurityNotFound, symbol)
	}
	return security, nil
}

// applyQuote maps a quote onto today's record. Close and adjusted close
// take the current price; volume is whatever the record already carries
// (quotes have no volume figure).
func applyQuote(rec *models.MarketDataRecord, quote *provider.Quote) {
	rec.Open = decimal.NewFromFloat(quote.Open)
	rec.High = decimal.NewFromFloat(quote.High)
	rec.Low = decimal.NewFromFloat(quote.Low)
	rec.Close = decimal.NewFromFloat(quote.Current)
	rec.AdjClose = decimal.NewFromFloat(quote.Current)
	rec.UpdatedAt = time.Now()
}

// applyCandle maps candle index i onto a record.
func applyCandle(rec *models.MarketDataRecord, c *provider.Candles, i int) {
	if i < len(c.Open) {
		rec.Open = decimal.NewFromFloat(c.Open[i])
	}
	if i < len(c.High) {
		rec.High = decimal.NewFromFloat(c.High[i])
	}
	if i < len(c.Low) {
		rec.Low = decimal.NewFromFloat(c.Low[i])
	}
	rec.Close = decimal.NewFromFloat(c.Close[i])
	rec.AdjClose = decimal.NewFromFloat(c.Close[i])
	if i < len(c.Volume) {
		rec.Volume = c.Volume[i]
	}
	rec.UpdatedAt = time.Now()
}
