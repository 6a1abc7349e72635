package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"kithly/internal/kerrors"
	"kithly/internal/models"

	"gorm.io/gorm"
)

type giftRepository struct {
	db *gorm.DB
}

// NewGiftRepository creates the gorm-backed gift repository.
func NewGiftRepository(db *gorm.DB) GiftRepository {
	return &giftRepository{db: db}
}

func (r *giftRepository) FindByID(ctx context.Context, txID string) (*models.GiftTransaction, error) {
	var gift models.GiftTransaction
	if err := r.db.WithContext(ctx).Where("tx_id = ?", txID).First(&gift).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, kerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return &gift, nil
}

func (r *giftRepository) FindByIdempotencyKey(ctx context.Context, key string) (*models.GiftTransaction, error) {
	var gift models.GiftTransaction
	if err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&gift).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, kerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to look up idempotency key: %w", err)
	}
	return &gift, nil
}

func (r *giftRepository) Insert(ctx context.Context, gift *models.GiftTransaction) error {
	if err := r.db.WithContext(ctx).Create(gift).Error; err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

// UpdateStatus is the single optimistic write every transition funnels
// through. One statement: status, version bump, timestamps, and any extra
// columns the transition carries.
func (r *giftRepository) UpdateStatus(ctx context.Context, txID string, u StatusUpdate) (*models.GiftTransaction, error) {
	now := time.Now().UTC()

	sets := []string{"status_code = ?", "version = version + 1", "status_changed_at = ?"}
	args := []interface{}{u.NewStatus, now}

	if col := models.StatusTimestampColumn(u.NewStatus); col != "" {
		sets = append(sets, col+" = ?")
		args = append(args, now)
	}
	if u.PaymentRef != nil {
		sets = append(sets, "payment_ref = ?")
		args = append(args, *u.PaymentRef)
	}
	if u.PayoutRef != nil {
		sets = append(sets, "payout_ref = ?")
		args = append(args, *u.PayoutRef)
	}
	if u.DeclineReason != nil {
		sets = append(sets, "decline_reason = ?")
		args = append(args, *u.DeclineReason)
	}
	if u.AlternativeShopID != nil {
		sets = append(sets, "alternative_shop_id = ?")
		args = append(args, *u.AlternativeShopID)
	}
	if u.RerouteDistanceDiff != nil {
		sets = append(sets, "re_route_distance_diff = ?")
		args = append(args, *u.RerouteDistanceDiff)
	}
	if u.RiderID != nil {
		sets = append(sets, "rider_id = ?")
		args = append(args, *u.RiderID)
	}
	if u.ExpiryTimestamp != nil {
		sets = append(sets, "expiry_timestamp = ?")
		args = append(args, *u.ExpiryTimestamp)
	}
	if u.ShopAccepted {
		sets = append(sets, "shop_accepted_at = ?")
		args = append(args, now)
	}

	query := fmt.Sprintf(`UPDATE "Global_Gifts" SET %s WHERE tx_id = ? AND version = ?`,
		strings.Join(sets, ", "))
	args = append(args, txID, u.ExpectedVersion)

	res := r.db.WithContext(ctx).Exec(query, args...)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to update status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Distinguish a missing row from a concurrent mutation.
		if _, err := r.FindByID(ctx, txID); errors.Is(err, kerrors.ErrNotFound) {
			return nil, kerrors.ErrNotFound
		}
		return nil, kerrors.ErrVersionMismatch
	}

	return r.FindByID(ctx, txID)
}

func (r *giftRepository) AssignRider(ctx context.Context, txID, riderID string, expectedVersion int) (*models.GiftTransaction, error) {
	rider := riderID
	return r.UpdateStatus(ctx, txID, StatusUpdate{
		NewStatus:       models.StatusRiderAssigned,
		ExpectedVersion: expectedVersion,
		RiderID:         &rider,
	})
}

func (r *giftRepository) MarkRerouteFailed(ctx context.Context, txID string, expectedVersion int) error {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE "Global_Gifts"
		 SET auto_reroute = false, refund_requested_at = ?, version = version + 1
		 WHERE tx_id = ? AND version = ?`,
		time.Now().UTC(), txID, expectedVersion,
	)
	if res.Error != nil {
		return fmt.Errorf("failed to mark reroute failure: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.FindByID(ctx, txID); errors.Is(err, kerrors.ErrNotFound) {
			return kerrors.ErrNotFound
		}
		return kerrors.ErrVersionMismatch
	}
	return nil
}

func (r *giftRepository) LiveTokenExists(ctx context.Context, token string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.GiftTransaction{}).
		Where("handshake_token = ? AND status_code NOT IN ?", token,
			[]int{models.StatusCompleted, models.StatusHeldForReview, models.StatusExpired}).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check token liveness: %w", err)
	}
	return count > 0, nil
}

func (r *giftRepository) ListStalled(ctx context.Context, status int, olderThan time.Time, limit int) ([]models.GiftTransaction, error) {
	var gifts []models.GiftTransaction
	err := r.db.WithContext(ctx).
		Where("status_code = ? AND status_changed_at < ?", status, olderThan).
		Order("status_changed_at ASC").
		Limit(limit).
		Find(&gifts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stalled transactions: %w", err)
	}
	return gifts, nil
}

func (r *giftRepository) ListExpiredEscrow(ctx context.Context, now time.Time, limit int) ([]models.GiftTransaction, error) {
	var gifts []models.GiftTransaction
	err := r.db.WithContext(ctx).
		Where("status_code = ? AND expiry_timestamp < ?", models.StatusFundsLocked, now).
		Order("expiry_timestamp ASC").
		Limit(limit).
		Find(&gifts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list expired escrow: %w", err)
	}
	return gifts, nil
}

func (r *giftRepository) ListDeclinedForReroute(ctx context.Context, limit int) ([]models.GiftTransaction, error) {
	var gifts []models.GiftTransaction
	err := r.db.WithContext(ctx).
		Where("status_code = ? AND auto_reroute = true AND alternative_shop_id IS NULL", models.StatusDeclined).
		Order("declined_at ASC").
		Limit(limit).
		Find(&gifts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list declined transactions: %w", err)
	}
	return gifts, nil
}

func (r *giftRepository) ListPastAcceptanceDeadline(ctx context.Context, now time.Time, limit int) ([]models.GiftTransaction, error) {
	var gifts []models.GiftTransaction
	err := r.db.WithContext(ctx).
		Where("status_code = ? AND acceptance_deadline < ?", models.StatusAwaitingAccept, now).
		Order("acceptance_deadline ASC").
		Limit(limit).
		Find(&gifts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list past-deadline acceptances: %w", err)
	}
	return gifts, nil
}
