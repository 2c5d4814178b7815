package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Security represents a tradable instrument in the registry.
// The Current* / Previous* fields are the live price state owned by the
// market data pipeline; everything downstream (portfolios, orders,
// watchlists) reads price from here.
type Security struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Symbol   string `gorm:"uniqueIndex;not null" json:"symbol"`
	Name     string `json:"name"`
	Exchange string `json:"exchange"`
	Sector   string `json:"sector"`
	Status   string `gorm:"default:'active'" json:"status"` // active, delisted, suspended

	CurrentPrice       decimal.Decimal `gorm:"type:decimal(15,4)" json:"current_price"`
	PreviousClose      decimal.Decimal `gorm:"type:decimal(15,4)" json:"previous_close"`
	PriceChange        decimal.Decimal `gorm:"type:decimal(15,4)" json:"price_change"`
	PriceChangePercent decimal.Decimal `gorm:"type:decimal(10,4)" json:"price_change_percent"`
	PriceUpdatedAt     *time.Time      `json:"price_updated_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MarketDataRecord is the authoritative daily price bar, one row per
// (security, trading date). Re-fetching the same day updates the row in
// place rather than appending.
type MarketDataRecord struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	SecurityID uint            `gorm:"uniqueIndex:idx_security_date;not null" json:"security_id"`
	Security   Security        `gorm:"foreignKey:SecurityID" json:"security,omitempty"`
	Date       time.Time       `gorm:"uniqueIndex:idx_security_date;not null" json:"date"`
	Open       decimal.Decimal `gorm:"type:decimal(15,4)" json:"open"`
	High       decimal.Decimal `gorm:"type:decimal(15,4)" json:"high"`
	Low        decimal.Decimal `gorm:"type:decimal(15,4)" json:"low"`
	Close      decimal.Decimal `gorm:"type:decimal(15,4)" json:"close"`
	AdjClose   decimal.Decimal `gorm:"type:decimal(15,4)" json:"adj_close"`
	Volume     int64           `json:"volume"`
	DataSource string          `json:"data_source"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// TradingDay truncates t to midnight UTC so record keys are calendar-day
// based regardless of provider timestamps.
func TradingDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// MigrateMarketDataModels runs database migrations for the pipeline models
func MigrateMarketDataModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&Security{},
		&MarketDataRecord{},
	)
}
