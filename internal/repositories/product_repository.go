package repositories

import (
	"context"
	"errors"
	"fmt"

	"kithly/internal/kerrors"
	"kithly/internal/models"

	"gorm.io/gorm"
)

// ProductRepository reads the Products catalogue. Read-only inside the brain.
type ProductRepository interface {
	FindBySKU(ctx context.Context, sku string) (*models.Product, error)
}

type productRepository struct {
	db *gorm.DB
}

// NewProductRepository creates the gorm-backed product repository.
func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepository{db: db}
}

func (r *productRepository) FindBySKU(ctx context.Context, sku string) (*models.Product, error) {
	var product models.Product
	if err := r.db.WithContext(ctx).Where("sku_id = ?", sku).First(&product).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, kerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return &product, nil
}
