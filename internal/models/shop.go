package models

import "time"

// Shop is read-only here; an administrative service outside the brain owns it.
type Shop struct {
	ShopID     string `gorm:"primaryKey;type:uuid;column:shop_id"`
	Name       string `gorm:"not null"`
	Address    string
	City       string
	Latitude   float64
	Longitude  float64
	CategoryID string

	// Geography point maintained from lat/lon; carries the GIST index the
	// proximity search depends on.
	Location string `gorm:"type:geography(Point,4326)"`

	AdminApprovalStatus string  `gorm:"default:'pending'"`
	IsVerified          bool    `gorm:"default:false"`
	PerformanceScore    float64 // in [0,1]
	IsActive            bool    `gorm:"default:true"`

	CreatedAt time.Time
}

// TableName pins the wire-stable table name.
func (Shop) TableName() string { return "Shops" }

// NearbyShop is a proximity query result row.
type NearbyShop struct {
	Shop
	DistanceKM float64 `gorm:"column:distance_km"`
}
