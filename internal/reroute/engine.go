// Package reroute finds the nearest viable alternative shop for a declined
// order, shadow-locks its inventory, and moves the transaction to ALT_FOUND.
package reroute

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"kithly/internal/bus"
	"kithly/internal/kerrors"
	"kithly/internal/metrics"
	"kithly/internal/models"
	"kithly/internal/repositories"
)

// Engine performs the re-route search and update. Invoked when a transaction
// sits at 910 with auto_reroute set, or when the escalation ladder reaches 315.
type Engine struct {
	gifts    repositories.GiftRepository
	shops    repositories.ShopRepository
	locks    repositories.InventoryLockRepository
	pub      bus.Publisher
	radiusKM float64
}

// New creates a re-routing engine with the given search radius.
func New(
	gifts repositories.GiftRepository,
	shops repositories.ShopRepository,
	locks repositories.InventoryLockRepository,
	pub bus.Publisher,
	radiusKM float64,
) *Engine {
	if gifts == nil || shops == nil || locks == nil || pub == nil {
		panic("all reroute dependencies are required")
	}
	return &Engine{gifts: gifts, shops: shops, locks: locks, pub: pub, radiusKM: radiusKM}
}

// Reroute runs the full operation: proximity search, shadow lock, status
// update to 106, notify event. When no candidate exists it emits
// refund_requested and leaves the transaction where it is.
func (e *Engine) Reroute(ctx context.Context, gift *models.GiftTransaction) error {
	start := time.Now()
	defer func() {
		metrics.RerouteSearchSeconds.Observe(time.Since(start).Seconds())
	}()

	if gift.StatusCode != models.StatusDeclined && gift.StatusCode != models.StatusRerouting {
		return kerrors.WithDetail(kerrors.ErrInvalidTransition,
			"reroute from %s", models.StatusName(gift.StatusCode))
	}

	point := repositories.GeoPoint{Latitude: gift.RecipientLat, Longitude: gift.RecipientLon}
	candidates, err := e.shops.FindNearbyAlternatives(ctx, point, gift.CategoryID, gift.ShopID, e.radiusKM, 1)
	if err != nil {
		return fmt.Errorf("alternative search failed: %w", err)
	}

	if len(candidates) == 0 {
		log.Warn().Str("tx_id", gift.TxID).Str("category", gift.CategoryID).
			Msg("no alternative shop in range, requesting refund")
		if err := e.pub.Publish(ctx, bus.EventRefundRequested, bus.RefundRequestedEvent{
			V:          bus.SchemaVersion,
			TxID:       gift.TxID,
			PaymentRef: gift.PaymentRef,
		}); err != nil {
			return err
		}
		metrics.EventsPublished.WithLabelValues(bus.EventRefundRequested).Inc()

		// Stop the declined scan from re-selecting the row and requesting the
		// same refund every tick.
		if err := e.gifts.MarkRerouteFailed(ctx, gift.TxID, gift.Version); err != nil {
			if errors.Is(err, kerrors.ErrVersionMismatch) {
				log.Debug().Str("tx_id", gift.TxID).Msg("row advanced elsewhere before reroute-failed mark")
			} else {
				log.Error().Err(err).Str("tx_id", gift.TxID).Msg("reroute-failed mark did not land")
			}
		}
		return kerrors.ErrNoAlternative
	}

	best := candidates[0]

	if err := e.locks.Upsert(ctx, best.ShopID, gift.TxID); err != nil {
		return kerrors.WithDetail(kerrors.ErrLockFailed, "shop %s: %v", best.ShopID, err)
	}

	// Signed km delta against the original shop, one decimal.
	diff := math.Round((best.DistanceKM-gift.OriginalDistanceKM)*10) / 10

	altID := best.ShopID
	snapshot, err := e.gifts.UpdateStatus(ctx, gift.TxID, repositories.StatusUpdate{
		NewStatus:           models.StatusAltFound,
		ExpectedVersion:     gift.Version,
		AlternativeShopID:   &altID,
		RerouteDistanceDiff: &diff,
	})
	if err != nil {
		return fmt.Errorf("reroute update failed: %w", err)
	}

	log.Info().Str("tx_id", snapshot.TxID).Str("alt_shop", best.ShopID).
		Float64("distance_diff_km", diff).Msg("rerouted to alternative shop")

	if err := e.pub.Publish(ctx, bus.EventRerouteNotify, bus.RerouteNotifyEvent{
		V:              bus.SchemaVersion,
		TxID:           snapshot.TxID,
		ShopName:       best.Name,
		DistanceDiffKM: diff,
	}); err != nil {
		return err
	}
	metrics.EventsPublished.WithLabelValues(bus.EventRerouteNotify).Inc()
	return nil
}
