package models

import "time"

// Delivery proof kinds.
const (
	ProofTypePhoto     = "photo"
	ProofTypeSignature = "signature"
	ProofTypeReceipt   = "receipt"
)

// DeliveryProof is an evidence artefact attached to a transaction. Its
// existence is checked before the completion transition.
type DeliveryProof struct {
	ProofID string `gorm:"primaryKey;type:uuid;column:proof_id"`
	TxID    string `gorm:"type:uuid;not null;index"`

	ProofType string `gorm:"not null"`
	FileURL   string `gorm:"not null"`
	FileSize  int
	MimeType  string

	// SHA-256 hex digest of the artefact, 64 chars.
	ReceiptHash string `gorm:"size:64"`

	CapturedAt time.Time
	Latitude   float64
	Longitude  float64

	UploadedBy string `gorm:"type:uuid"`
	CreatedAt  time.Time
}

// TableName pins the wire-stable table name.
func (DeliveryProof) TableName() string { return "Delivery_Proofs" }
