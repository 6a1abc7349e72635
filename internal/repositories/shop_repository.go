package repositories

import (
	"context"

	"kithly/internal/models"
)

// GeoPoint is a WGS84 coordinate pair.
type GeoPoint struct {
	Latitude  float64
	Longitude float64
}

// ShopRepository reads the Shops table. Shops are owned by an administrative
// service; the brain never writes them.
type ShopRepository interface {
	FindByID(ctx context.Context, shopID string) (*models.Shop, error)

	// FindNearby returns active shops within radiusKM of point, ranked by
	// performance score descending then distance ascending.
	FindNearby(ctx context.Context, point GeoPoint, radiusKM float64, limit int) ([]models.NearbyShop, error)

	// FindNearbyWithSKU restricts FindNearby to shops stocking the SKU.
	FindNearbyWithSKU(ctx context.Context, point GeoPoint, sku string, radiusKM float64, limit int) ([]models.NearbyShop, error)

	// FindNearbyAlternatives is the re-route search: approved, verified
	// shops in the category, excluding the declining shop, same ranking.
	FindNearbyAlternatives(ctx context.Context, point GeoPoint, categoryID, excludeShopID string, radiusKM float64, limit int) ([]models.NearbyShop, error)
}
