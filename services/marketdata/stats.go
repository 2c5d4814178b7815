package marketdata

import (
	"time"

	"gorm.io/gorm"

	"investsim_backend/models"
)

// PipelineStats is the read-only operational snapshot consumed by the
// health/status endpoints.
type PipelineStats struct {
	ActiveSecurities    int64  `json:"active_securities"`
	RecordsToday        int64  `json:"records_today"`
	RecordsYesterday    int64  `json:"records_yesterday"`
	CircuitBreakerOpen  bool   `json:"circuit_breaker_open"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	GeneratedAt         string `json:"generated_at"`
}

// StatsService answers status queries over the pipeline's persisted state.
type StatsService struct {
	db      *gorm.DB
	breaker *CircuitBreaker
}

// NewStatsService creates a stats service over the given DB and breaker.
func NewStatsService(db *gorm.DB, breaker *CircuitBreaker) *StatsService {
	return &StatsService{db: db, breaker: breaker}
}

// Snapshot collects the current pipeline stats.
func (s *StatsService) Snapshot() (*PipelineStats, error) {
	stats := &PipelineStats{
		CircuitBreakerOpen:  s.breaker.IsOpen(),
		ConsecutiveFailures: s.breaker.ConsecutiveFailures(),
		GeneratedAt:         time.Now().Format(time.RFC3339),
	}

	if err := s.db.Model(&models.Security{}).Where("status = ?", "active").Count(&stats.ActiveSecurities).Error; err != nil {
		return nil, err
	}

	today := models.TradingDay(time.Now())
	yesterday := today.AddDate(0, 0, -1)
	if err := s.db.Model(&models.MarketDataRecord{}).Where("date = ?", today).Count(&stats.RecordsToday).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&models.MarketDataRecord{}).Where("date = ?", yesterday).Count(&stats.RecordsYesterday).Error; err != nil {
		return nil, err
	}

	return stats, nil
}
