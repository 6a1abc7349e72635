// Package idempotency implements the two-tier deduplication guard: a
// process-local cache of recently seen keys in front of the persistent
// uniqueness constraint on Global_Gifts. The cache is rebuilt from the store
// on restart by falling through on misses.
package idempotency

import (
	"context"
	"errors"
	"sync"
	"time"

	"kithly/internal/kerrors"
	"kithly/internal/models"
)

// ReservationTTL bounds how long an in-flight worker may hold a key before
// another worker can claim it.
const ReservationTTL = 30 * time.Second

// Store is the persistent tier. Satisfied by repositories.GiftRepository.
type Store interface {
	FindByIdempotencyKey(ctx context.Context, key string) (*models.GiftTransaction, error)
}

type cacheEntry struct {
	tx       models.GiftTransaction
	cachedAt time.Time
}

// Guard is safe for concurrent use. Checks take the read lock; reservations
// and commits take the write lock. The lock is never held across a store
// round-trip.
type Guard struct {
	store  Store
	window time.Duration

	mu           sync.RWMutex
	cache        map[string]cacheEntry
	reservations map[string]time.Time

	now func() time.Time
}

// NewGuard creates a guard with the given idempotency window (24h default
// at the call site).
func NewGuard(store Store, window time.Duration) *Guard {
	if store == nil {
		panic("store is required")
	}
	return &Guard{
		store:        store,
		window:       window,
		cache:        make(map[string]cacheEntry),
		reservations: make(map[string]time.Time),
		now:          time.Now,
	}
}

// cachedSnapshot returns the cached transaction for key when present and
// inside the window.
func (g *Guard) cachedSnapshot(key string) (*models.GiftTransaction, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	entry, ok := g.cache[key]
	if !ok || g.now().Sub(entry.cachedAt) >= g.window {
		return nil, false
	}
	tx := entry.tx
	return &tx, true
}

// CheckResult reports whether a key has already produced a transaction.
type CheckResult struct {
	Duplicate bool
	Existing  *models.GiftTransaction
}

// Check consults the cache, then the store. A store hit repopulates the cache.
func (g *Guard) Check(ctx context.Context, key string) (CheckResult, error) {
	if existing, ok := g.cachedSnapshot(key); ok {
		return CheckResult{Duplicate: true, Existing: existing}, nil
	}

	existing, err := g.store.FindByIdempotencyKey(ctx, key)
	if err != nil {
		if errors.Is(err, kerrors.ErrNotFound) {
			return CheckResult{}, nil
		}
		return CheckResult{}, err
	}

	g.mu.Lock()
	g.cache[key] = cacheEntry{tx: *existing, cachedAt: g.now()}
	g.mu.Unlock()
	return CheckResult{Duplicate: true, Existing: existing}, nil
}

// Reserve claims the key for this worker. Fails with kerrors.ErrKeyReserved
// while another reservation is younger than ReservationTTL. Expired
// reservations are garbage-collected on every call.
func (g *Guard) Reserve(key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for k, at := range g.reservations {
		if now.Sub(at) > ReservationTTL {
			delete(g.reservations, k)
		}
	}

	if _, held := g.reservations[key]; held {
		return kerrors.ErrKeyReserved
	}
	g.reservations[key] = now
	return nil
}

// Release drops the reservation. Used when processing aborts.
func (g *Guard) Release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.reservations, key)
}

// Commit atomically releases the reservation and caches the snapshot.
func (g *Guard) Commit(key string, tx *models.GiftTransaction) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.reservations, key)
	g.cache[key] = cacheEntry{tx: *tx, cachedAt: g.now()}
}

// Creator builds and persists a new transaction once admission is granted.
type Creator func(ctx context.Context) (*models.GiftTransaction, error)

// WithIdempotency is the only path that creates transactions: check →
// reserve → create → commit, with the reservation released on every abort
// path. The returned bool is true when this call created the row, false
// when an existing snapshot was returned.
func (g *Guard) WithIdempotency(ctx context.Context, key string, create Creator) (*models.GiftTransaction, bool, error) {
	check, err := g.Check(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if check.Duplicate {
		return check.Existing, false, nil
	}

	if err := g.Reserve(key); err != nil {
		return nil, false, err
	}

	committed := false
	defer func() {
		if !committed {
			g.Release(key)
		}
	}()

	// Another worker may have committed between the first check and our
	// reservation; commits land in the cache before the reservation drops,
	// so a cache-only re-check closes the window.
	if existing, ok := g.cachedSnapshot(key); ok {
		return existing, false, nil
	}

	tx, err := create(ctx)
	if err != nil {
		return nil, false, err
	}

	g.Commit(key, tx)
	committed = true
	return tx, true, nil
}
