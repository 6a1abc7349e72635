package repositories

import (
	"context"
	"fmt"

	"kithly/internal/models"

	"gorm.io/gorm"
)

// ProofRepository stores delivery evidence. The state machine checks
// existence before allowing completion.
type ProofRepository interface {
	Insert(ctx context.Context, proof *models.DeliveryProof) error
	FindByTxID(ctx context.Context, txID string) ([]models.DeliveryProof, error)
	ExistsForTx(ctx context.Context, txID string) (bool, error)
}

type proofRepository struct {
	db *gorm.DB
}

// NewProofRepository creates the gorm-backed proof repository.
func NewProofRepository(db *gorm.DB) ProofRepository {
	return &proofRepository{db: db}
}

func (r *proofRepository) Insert(ctx context.Context, proof *models.DeliveryProof) error {
	if err := r.db.WithContext(ctx).Create(proof).Error; err != nil {
		return fmt.Errorf("failed to create delivery proof: %w", err)
	}
	return nil
}

func (r *proofRepository) FindByTxID(ctx context.Context, txID string) ([]models.DeliveryProof, error) {
	var proofs []models.DeliveryProof
	err := r.db.WithContext(ctx).
		Where("tx_id = ?", txID).
		Order("created_at ASC").
		Find(&proofs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery proofs: %w", err)
	}
	return proofs, nil
}

func (r *proofRepository) ExistsForTx(ctx context.Context, txID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.DeliveryProof{}).
		Where("tx_id = ?", txID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to count delivery proofs: %w", err)
	}
	return count > 0, nil
}
