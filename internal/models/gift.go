// Package models defines the persisted entities of the gift protocol.
package models

import "time"

// GiftTransaction is the primary entity: one row per gift, owned by the
// brain. External collaborators propose transitions; they never write rows.
type GiftTransaction struct {
	TxID           string  `gorm:"primaryKey;type:uuid;column:tx_id"`
	IdempotencyKey *string `gorm:"type:uuid;uniqueIndex:uniq_gifts_idempotency_key"`

	ReceiverPhone string `gorm:"not null"`
	ShopID        string `gorm:"type:uuid;not null"`
	ProductID     string `gorm:"not null"` // SKU
	Quantity      int    `gorm:"not null"`

	StatusCode      int       `gorm:"not null;index:idx_gifts_status_changed,priority:1"`
	StatusChangedAt time.Time `gorm:"not null;index:idx_gifts_status_changed,priority:2"`

	// Set exactly once at the 100→200 transition window; revealed only to
	// the sender and over SMS.
	HandshakeToken string `gorm:"size:9"`

	Amount     float64 `gorm:"type:numeric(10,2)"`
	PaymentRef string  // acquirer capture reference
	PayoutRef  string  // expected mobile-money payout reference

	// Optimistic concurrency control. Strictly increases on every mutation.
	Version int `gorm:"not null;default:0"`

	// Recipient location and product category, captured at initiation for
	// the re-routing engine.
	RecipientLat       float64
	RecipientLon       float64
	CategoryID         string
	OriginalDistanceKM float64

	AutoReroute         bool
	AlternativeShopID   *string  `gorm:"type:uuid"`
	RerouteDistanceDiff *float64 `gorm:"column:re_route_distance_diff"` // signed km, one decimal

	// Delivery rider, set at the 310 transition.
	RiderID *string `gorm:"type:uuid"`

	DeclineReason      string
	AcceptanceDeadline *time.Time // baker's protocol, initiation + 2h
	ExpiryTimestamp    *time.Time // escrow deadline, capture + 48h

	// Timestamps for each reached state.
	CreatedAt       time.Time
	PaidAt          *time.Time
	SettledAt       *time.Time
	FulfillingAt    *time.Time
	RiderAssignedAt *time.Time
	KeyVerifiedAt   *time.Time
	CompletedAt     *time.Time
	DeclinedAt      *time.Time
	ReroutedAt      *time.Time
	ExpiredAt       *time.Time
	ShopAcceptedAt  *time.Time

	// Stamped when a refund was requested for an unplaceable declined row;
	// auto_reroute is cleared in the same write so the scan stops re-selecting it.
	RefundRequestedAt *time.Time
}

// TableName pins the wire-stable table name.
func (GiftTransaction) TableName() string { return "Global_Gifts" }
