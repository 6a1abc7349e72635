package repositories

import (
	"context"
	"time"

	"kithly/internal/models"
)

// StatusUpdate describes one optimistic mutation of a gift transaction.
// Pointer fields are applied only when non-nil, always in the same single
// UPDATE statement as the status change and version bump.
type StatusUpdate struct {
	NewStatus       int
	ExpectedVersion int

	PaymentRef          *string
	PayoutRef           *string
	DeclineReason       *string
	AlternativeShopID   *string
	RerouteDistanceDiff *float64
	RiderID             *string
	ExpiryTimestamp     *time.Time
	ShopAccepted        bool
}

// GiftRepository owns all reads and writes of Global_Gifts.
type GiftRepository interface {
	FindByID(ctx context.Context, txID string) (*models.GiftTransaction, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*models.GiftTransaction, error)
	Insert(ctx context.Context, gift *models.GiftTransaction) error

	// UpdateStatus applies the update iff the stored version matches, bumps
	// the version, stamps status_changed_at and the state timestamp column,
	// and returns the fresh snapshot. Zero rows affected surfaces as
	// kerrors.ErrVersionMismatch (or ErrNotFound when the row is gone).
	UpdateStatus(ctx context.Context, txID string, u StatusUpdate) (*models.GiftTransaction, error)

	// AssignRider records the delivery rider and moves the row to 310 in the
	// same version-checked write.
	AssignRider(ctx context.Context, txID, riderID string, expectedVersion int) (*models.GiftTransaction, error)

	// MarkRerouteFailed clears auto_reroute and stamps refund_requested_at
	// after a re-route found no candidate, so the declined scan does not pick
	// the row up again. Version-checked like every other write.
	MarkRerouteFailed(ctx context.Context, txID string, expectedVersion int) error

	// LiveTokenExists reports whether any non-terminal transaction already
	// carries the handshake token. Drives collision retry at insert time.
	LiveTokenExists(ctx context.Context, token string) (bool, error)

	// Watchdog scans, each bounded by limit.
	ListStalled(ctx context.Context, status int, olderThan time.Time, limit int) ([]models.GiftTransaction, error)
	ListExpiredEscrow(ctx context.Context, now time.Time, limit int) ([]models.GiftTransaction, error)
	ListPastAcceptanceDeadline(ctx context.Context, now time.Time, limit int) ([]models.GiftTransaction, error)

	// ListDeclinedForReroute returns 910 rows with auto_reroute set that no
	// re-route attempt has touched yet.
	ListDeclinedForReroute(ctx context.Context, limit int) ([]models.GiftTransaction, error)
}
