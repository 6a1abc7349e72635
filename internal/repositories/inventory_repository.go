package repositories

import (
	"context"
	"fmt"
	"time"

	"kithly/internal/models"

	"gorm.io/gorm"
)

// InventoryLockRepository manages shadow locks on alternative shops.
type InventoryLockRepository interface {
	// Upsert creates the lock or, when the (shop, tx) pair already holds
	// one, refreshes its timestamps. TTL is models.LockTTL.
	Upsert(ctx context.Context, shopID, txID string) error

	// ListExpired returns locks past their expiry for the administrative sweep.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]models.InventoryLock, error)

	Delete(ctx context.Context, shopID, txID string) error
}

type inventoryLockRepository struct {
	db *gorm.DB
}

// NewInventoryLockRepository creates the gorm-backed lock repository.
func NewInventoryLockRepository(db *gorm.DB) InventoryLockRepository {
	return &inventoryLockRepository{db: db}
}

func (r *inventoryLockRepository) Upsert(ctx context.Context, shopID, txID string) error {
	now := time.Now().UTC()
	err := r.db.WithContext(ctx).Exec(`
		INSERT INTO "Inventory_Locks" (shop_id, tx_id, locked_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (shop_id, tx_id) DO UPDATE
		SET locked_at = EXCLUDED.locked_at, expires_at = EXCLUDED.expires_at`,
		shopID, txID, now, now.Add(models.LockTTL),
	).Error
	if err != nil {
		return fmt.Errorf("failed to upsert inventory lock: %w", err)
	}
	return nil
}

func (r *inventoryLockRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.InventoryLock, error) {
	var locks []models.InventoryLock
	err := r.db.WithContext(ctx).
		Where("expires_at < ?", now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&locks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list expired locks: %w", err)
	}
	return locks, nil
}

func (r *inventoryLockRepository) Delete(ctx context.Context, shopID, txID string) error {
	err := r.db.WithContext(ctx).
		Where("shop_id = ? AND tx_id = ?", shopID, txID).
		Delete(&models.InventoryLock{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete inventory lock: %w", err)
	}
	return nil
}
