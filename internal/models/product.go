package models

import "time"

// Product is a tracked item. The scraped name is its identity.
type Product struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"type:varchar(512);not null;uniqueIndex:idx_products_name" json:"name"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
}

// TableName specifies the table name
func (Product) TableName() string {
	return "products"
}
