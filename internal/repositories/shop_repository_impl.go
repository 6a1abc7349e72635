package repositories

import (
	"context"
	"errors"
	"fmt"

	"kithly/internal/kerrors"
	"kithly/internal/models"

	"gorm.io/gorm"
)

type shopRepository struct {
	db *gorm.DB
}

// NewShopRepository creates the gorm-backed shop repository.
func NewShopRepository(db *gorm.DB) ShopRepository {
	return &shopRepository{db: db}
}

func (r *shopRepository) FindByID(ctx context.Context, shopID string) (*models.Shop, error) {
	var shop models.Shop
	if err := r.db.WithContext(ctx).Where("shop_id = ?", shopID).First(&shop).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, kerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get shop: %w", err)
	}
	return &shop, nil
}

// distanceExpr computes geodesic distance in km from the indexed geography
// column to the query point. ST_MakePoint takes lon, lat.
const distanceExpr = `ST_Distance(s.location, ST_SetSRID(ST_MakePoint(?, ?), 4326)::geography) / 1000.0`

const withinExpr = `ST_DWithin(s.location, ST_SetSRID(ST_MakePoint(?, ?), 4326)::geography, ?)`

func (r *shopRepository) FindNearby(ctx context.Context, point GeoPoint, radiusKM float64, limit int) ([]models.NearbyShop, error) {
	var shops []models.NearbyShop
	err := r.db.WithContext(ctx).Raw(`
		SELECT s.*, `+distanceExpr+` AS distance_km
		FROM "Shops" s
		WHERE s.is_active = true
		  AND `+withinExpr+`
		ORDER BY s.performance_score DESC, distance_km ASC
		LIMIT ?`,
		point.Longitude, point.Latitude,
		point.Longitude, point.Latitude, radiusKM*1000,
		limit,
	).Scan(&shops).Error
	if err != nil {
		return nil, fmt.Errorf("proximity query failed: %w", err)
	}
	return shops, nil
}

func (r *shopRepository) FindNearbyWithSKU(ctx context.Context, point GeoPoint, sku string, radiusKM float64, limit int) ([]models.NearbyShop, error) {
	var shops []models.NearbyShop
	err := r.db.WithContext(ctx).Raw(`
		SELECT s.*, `+distanceExpr+` AS distance_km
		FROM "Shops" s
		JOIN "Products" p ON p.shop_id = s.shop_id
		WHERE s.is_active = true
		  AND p.sku_id = ?
		  AND (p.stock_level > 0 OR p.is_made_to_order = true)
		  AND `+withinExpr+`
		ORDER BY s.performance_score DESC, distance_km ASC
		LIMIT ?`,
		point.Longitude, point.Latitude,
		sku,
		point.Longitude, point.Latitude, radiusKM*1000,
		limit,
	).Scan(&shops).Error
	if err != nil {
		return nil, fmt.Errorf("proximity query with sku failed: %w", err)
	}
	return shops, nil
}

func (r *shopRepository) FindNearbyAlternatives(ctx context.Context, point GeoPoint, categoryID, excludeShopID string, radiusKM float64, limit int) ([]models.NearbyShop, error) {
	var shops []models.NearbyShop
	err := r.db.WithContext(ctx).Raw(`
		SELECT s.*, `+distanceExpr+` AS distance_km
		FROM "Shops" s
		WHERE s.category_id = ?
		  AND s.shop_id != ?
		  AND s.admin_approval_status = 'approved'
		  AND s.is_verified = true
		  AND s.is_active = true
		  AND `+withinExpr+`
		ORDER BY s.performance_score DESC, distance_km ASC
		LIMIT ?`,
		point.Longitude, point.Latitude,
		categoryID, excludeShopID,
		point.Longitude, point.Latitude, radiusKM*1000,
		limit,
	).Scan(&shops).Error
	if err != nil {
		return nil, fmt.Errorf("alternative shop query failed: %w", err)
	}
	return shops, nil
}
