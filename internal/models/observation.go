package models

import "time"

// Observation is one immutable price reading. Rows are only ever inserted.
type Observation struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductID  uint      `gorm:"not null;index:idx_observations_product_time,priority:1" json:"product_id"`
	Amount     int64     `gorm:"not null" json:"amount"` // minor currency units
	Currency   *string   `gorm:"type:varchar(8)" json:"currency,omitempty"`
	ObservedAt time.Time `gorm:"not null;index:idx_observations_product_time,priority:2" json:"observed_at"`

	// Relationship
	Product Product `gorm:"foreignKey:ProductID;references:ID;constraint:OnDelete:RESTRICT" json:"-"`
}

// TableName specifies the table name
func (Observation) TableName() string {
	return "observations"
}

// HistoryRow is an observation joined with its product name
type HistoryRow struct {
	Seq        uint      `json:"seq"` // observation id, the store's insertion sequence
	ProductID  uint      `json:"product_id"`
	Name       string    `json:"name"`
	Amount     int64     `json:"amount"`
	Currency   *string   `json:"currency,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}

// CurrencyOr returns the currency tag or fallback when the row has none
func (r HistoryRow) CurrencyOr(fallback string) string {
	if r.Currency == nil || *r.Currency == "" {
		return fallback
	}
	return *r.Currency
}
