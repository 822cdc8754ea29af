package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CandleRecord is the postgres-backed row behind the history endpoint.
// Prices are stored as decimals; the wire model (Candle) uses float64.
type CandleRecord struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	Symbol     string          `gorm:"uniqueIndex:idx_symbol_res_time,priority:1;not null" json:"symbol"`
	Resolution string          `gorm:"uniqueIndex:idx_symbol_res_time,priority:2;not null" json:"resolution"`
	Time       int64           `gorm:"uniqueIndex:idx_symbol_res_time,priority:3;not null" json:"time"`
	Open       decimal.Decimal `gorm:"type:decimal(18,6)" json:"open"`
	High       decimal.Decimal `gorm:"type:decimal(18,6)" json:"high"`
	Low        decimal.Decimal `gorm:"type:decimal(18,6)" json:"low"`
	Close      decimal.Decimal `gorm:"type:decimal(18,6)" json:"close"`
	Volume     float64         `json:"volume"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ToCandle converts a stored record to the wire candle model.
func (r *CandleRecord) ToCandle() Candle {
	open, _ := r.Open.Float64()
	high, _ := r.High.Float64()
	low, _ := r.Low.Float64()
	closeP, _ := r.Close.Float64()
	return Candle{
		Time:   r.Time,
		Open:   open,
		High:   high,
		Low:    low,
		Close:  closeP,
		Volume: r.Volume,
	}
}

// NewCandleRecord builds a record from a wire candle.
func NewCandleRecord(symbol, resolution string, c Candle) CandleRecord {
	return CandleRecord{
		Symbol:     symbol,
		Resolution: resolution,
		Time:       c.Time,
		Open:       decimal.NewFromFloat(c.Open),
		High:       decimal.NewFromFloat(c.High),
		Low:        decimal.NewFromFloat(c.Low),
		Close:      decimal.NewFromFloat(c.Close),
		Volume:     c.Volume,
	}
}

// MigrateCandleModels runs database migrations for candle storage.
func MigrateCandleModels(db *gorm.DB) error {
	return db.AutoMigrate(&CandleRecord{})
}
