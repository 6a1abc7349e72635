package models

import "time"

// InventoryLock is a shadow lock: a soft inventory reservation at an
// alternative shop, held until the re-route is confirmed or the lock expires.
type InventoryLock struct {
	ShopID string `gorm:"primaryKey;type:uuid;column:shop_id"`
	TxID   string `gorm:"primaryKey;type:uuid;column:tx_id"`

	LockedAt  time.Time `gorm:"not null"`
	ExpiresAt time.Time `gorm:"not null"` // locked_at + 15 minutes
}

// TableName pins the wire-stable table name.
func (InventoryLock) TableName() string { return "Inventory_Locks" }

// LockTTL is how long a shadow lock reserves inventory.
const LockTTL = 15 * time.Minute
