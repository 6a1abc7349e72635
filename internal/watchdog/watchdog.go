// Package watchdog runs the periodic scans that unstick transactions: the
// fulfilment escalation ladder, 48-hour escrow expiry, baker's-protocol
// acceptance deadlines, and the expired shadow-lock sweep.
package watchdog

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"kithly/internal/bus"
	"kithly/internal/kerrors"
	"kithly/internal/metrics"
	"kithly/internal/models"
	"kithly/internal/reroute"
	"kithly/internal/repositories"
	"kithly/internal/statemachine"
)

// Config holds the scan thresholds.
type Config struct {
	Interval           time.Duration // per-tick period, <= 30s
	BatchSize          int           // max rows per scan
	ForceCallThreshold time.Duration // 300 -> 305
	RerouteThreshold   time.Duration // 305 -> 315
}

// Scheduler drives the watchdog scans. Multiple concurrent schedulers are
// safe: every transition is version-checked, so only one worker advances a
// given row.
type Scheduler struct {
	gifts    repositories.GiftRepository
	locks    repositories.InventoryLockRepository
	machine  *statemachine.Machine
	rerouter *reroute.Engine
	pub      bus.Publisher
	cfg      Config

	now func() time.Time
}

// New creates a scheduler.
func New(
	gifts repositories.GiftRepository,
	locks repositories.InventoryLockRepository,
	machine *statemachine.Machine,
	rerouter *reroute.Engine,
	pub bus.Publisher,
	cfg Config,
) *Scheduler {
	if gifts == nil || locks == nil || machine == nil || rerouter == nil || pub == nil {
		panic("all watchdog dependencies are required")
	}
	return &Scheduler{
		gifts: gifts, locks: locks, machine: machine, rerouter: rerouter,
		pub: pub, cfg: cfg, now: time.Now,
	}
}

// Run ticks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.cfg.Interval).Msg("watchdog started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("watchdog stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs every scan once. Exported so tests and diagnostics can drive a
// single pass.
func (s *Scheduler) Tick(ctx context.Context) {
	s.scanFulfilment(ctx)
	s.scanEscrowExpiry(ctx)
	s.scanAcceptanceDeadlines(ctx)
	s.scanDeclined(ctx)
	s.sweepExpiredLocks(ctx)
}

// scanFulfilment walks the escalation ladder: 300 -> 305 after five minutes,
// 305 -> 315 after ten, then hands the row to the re-route engine.
func (s *Scheduler) scanFulfilment(ctx context.Context) {
	now := s.now().UTC()

	stalled, err := s.gifts.ListStalled(ctx, models.StatusFulfilling,
		now.Add(-s.cfg.ForceCallThreshold), s.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("fulfilment scan failed")
		return
	}
	for i := range stalled {
		gift := &stalled[i]
		snapshot, events, err := s.machine.Apply(ctx, statemachine.Request{
			TxID:            gift.TxID,
			Target:          models.StatusForceCall,
			ExpectedVersion: gift.Version,
		})
		if err != nil {
			s.logSkip("force-call escalation", gift.TxID, err)
			continue
		}
		metrics.WatchdogScanned.WithLabelValues("force_call").Inc()
		log.Info().Str("tx_id", snapshot.TxID).Msg("escalated 300 to 305")
		s.publishAll(ctx, events)
	}

	rerouting, err := s.gifts.ListStalled(ctx, models.StatusForceCall,
		now.Add(-s.cfg.RerouteThreshold), s.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("reroute escalation scan failed")
		return
	}
	for i := range rerouting {
		gift := &rerouting[i]
		snapshot, events, err := s.machine.Apply(ctx, statemachine.Request{
			TxID:            gift.TxID,
			Target:          models.StatusRerouting,
			ExpectedVersion: gift.Version,
		})
		if err != nil {
			s.logSkip("reroute escalation", gift.TxID, err)
			continue
		}
		metrics.WatchdogScanned.WithLabelValues("reroute").Inc()
		log.Info().Str("tx_id", snapshot.TxID).Msg("escalated 305 to 315")
		s.publishAll(ctx, events)

		if err := s.rerouter.Reroute(ctx, snapshot); err != nil &&
			!errors.Is(err, kerrors.ErrNoAlternative) {
			log.Error().Err(err).Str("tx_id", snapshot.TxID).Msg("reroute failed")
		}
	}
}

// scanEscrowExpiry moves 48-hour-old captures to 900 and requests refunds.
func (s *Scheduler) scanEscrowExpiry(ctx context.Context) {
	expired, err := s.gifts.ListExpiredEscrow(ctx, s.now().UTC(), s.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("escrow expiry scan failed")
		return
	}
	for i := range expired {
		gift := &expired[i]
		snapshot, events, err := s.machine.Apply(ctx, statemachine.Request{
			TxID:            gift.TxID,
			Target:          models.StatusExpired,
			ExpectedVersion: gift.Version,
			Reason:          "escrow timeout",
		})
		if err != nil {
			s.logSkip("escrow expiry", gift.TxID, err)
			continue
		}
		metrics.WatchdogScanned.WithLabelValues("escrow_expiry").Inc()
		log.Info().Str("tx_id", snapshot.TxID).Msg("escrow expired, 200 to 900")
		s.publishAll(ctx, events)
	}
}

// scanAcceptanceDeadlines declines made-to-order gifts the shop never
// answered. The next fulfilment-side pass picks up auto_reroute rows.
func (s *Scheduler) scanAcceptanceDeadlines(ctx context.Context) {
	overdue, err := s.gifts.ListPastAcceptanceDeadline(ctx, s.now().UTC(), s.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("acceptance deadline scan failed")
		return
	}
	for i := range overdue {
		gift := &overdue[i]
		snapshot, events, err := s.machine.Apply(ctx, statemachine.Request{
			TxID:            gift.TxID,
			Target:          models.StatusDeclined,
			ExpectedVersion: gift.Version,
			Reason:          "timeout",
		})
		if err != nil {
			s.logSkip("acceptance deadline", gift.TxID, err)
			continue
		}
		metrics.WatchdogScanned.WithLabelValues("acceptance_deadline").Inc()
		log.Info().Str("tx_id", snapshot.TxID).Msg("acceptance deadline passed, 110 to 910")
		s.publishAll(ctx, events)
	}
}

// scanDeclined re-routes declined rows whose auto_reroute flag is set.
// Rows the engine cannot place are marked (auto_reroute cleared) and stay at
// 910 with a single refund requested; the refund flow moves them to 900.
func (s *Scheduler) scanDeclined(ctx context.Context) {
	declined, err := s.gifts.ListDeclinedForReroute(ctx, s.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("declined scan failed")
		return
	}
	for i := range declined {
		gift := &declined[i]
		metrics.WatchdogScanned.WithLabelValues("auto_reroute").Inc()
		if err := s.rerouter.Reroute(ctx, gift); err != nil &&
			!errors.Is(err, kerrors.ErrNoAlternative) {
			log.Error().Err(err).Str("tx_id", gift.TxID).Msg("auto reroute failed")
		}
	}
}

// sweepExpiredLocks is the administrative sweep: expired shadow locks are
// already ignored by queries, this just deletes them.
func (s *Scheduler) sweepExpiredLocks(ctx context.Context) {
	locks, err := s.locks.ListExpired(ctx, s.now().UTC(), s.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("lock sweep scan failed")
		return
	}
	for _, lock := range locks {
		if err := s.locks.Delete(ctx, lock.ShopID, lock.TxID); err != nil {
			log.Error().Err(err).Str("tx_id", lock.TxID).Msg("lock delete failed")
			continue
		}
		metrics.WatchdogScanned.WithLabelValues("lock_sweep").Inc()
	}
}

func (s *Scheduler) publishAll(ctx context.Context, events []statemachine.Event) {
	for _, ev := range events {
		if err := s.pub.Publish(ctx, ev.List, ev.Payload); err != nil {
			log.Error().Err(err).Str("list", ev.List).Msg("event publish failed")
			continue
		}
		metrics.EventsPublished.WithLabelValues(ev.List).Inc()
	}
}

// logSkip downgrades expected races to debug noise; another worker won.
func (s *Scheduler) logSkip(scan, txID string, err error) {
	if errors.Is(err, kerrors.ErrVersionMismatch) || errors.Is(err, kerrors.ErrInvalidTransition) {
		log.Debug().Str("tx_id", txID).Str("scan", scan).Msg("row advanced elsewhere")
		return
	}
	log.Error().Err(err).Str("tx_id", txID).Str("scan", scan).Msg("watchdog transition failed")
}
