package models

import "time"

// Product is a shop SKU, read-only inside the brain.
type Product struct {
	SKUID  string `gorm:"primaryKey;size:50;column:sku_id"`
	ShopID string `gorm:"type:uuid;not null"`
	Name   string `gorm:"not null"`

	Price      float64 `gorm:"type:numeric(10,2)"`
	StockLevel int     `gorm:"not null;default:0"`

	// Made-to-order SKUs route through the baker's protocol (status 110).
	IsMadeToOrder bool `gorm:"default:false"`

	LastUpdated time.Time `gorm:"autoUpdateTime"`
}

// TableName pins the wire-stable table name.
func (Product) TableName() string { return "Products" }
