package watchdog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kithly/internal/bus"
	"kithly/internal/kerrors"
	"kithly/internal/models"
	"kithly/internal/reroute"
	"kithly/internal/repositories"
	"kithly/internal/statemachine"
)

type fakeGifts struct {
	mu    sync.Mutex
	rows  map[string]*models.GiftTransaction
	order []string
}

func newFakeGifts(gifts ...*models.GiftTransaction) *fakeGifts {
	f := &fakeGifts{rows: make(map[string]*models.GiftTransaction)}
	for _, g := range gifts {
		f.rows[g.TxID] = g
		f.order = append(f.order, g.TxID)
	}
	return f
}

func (f *fakeGifts) FindByID(ctx context.Context, txID string) (*models.GiftTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.rows[txID]
	if !ok {
		return nil, kerrors.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (f *fakeGifts) UpdateStatus(ctx context.Context, txID string, u repositories.StatusUpdate) (*models.GiftTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.rows[txID]
	if !ok {
		return nil, kerrors.ErrNotFound
	}
	if g.Version != u.ExpectedVersion {
		return nil, kerrors.ErrVersionMismatch
	}
	g.StatusCode = u.NewStatus
	g.Version++
	g.StatusChangedAt = time.Now().UTC()
	if u.DeclineReason != nil {
		g.DeclineReason = *u.DeclineReason
	}
	if u.AlternativeShopID != nil {
		g.AlternativeShopID = u.AlternativeShopID
	}
	if u.RerouteDistanceDiff != nil {
		g.RerouteDistanceDiff = u.RerouteDistanceDiff
	}
	if u.RiderID != nil {
		g.RiderID = u.RiderID
	}
	if u.ExpiryTimestamp != nil {
		g.ExpiryTimestamp = u.ExpiryTimestamp
	}
	cp := *g
	return &cp, nil
}

func (f *fakeGifts) AssignRider(ctx context.Context, txID, riderID string, expectedVersion int) (*models.GiftTransaction, error) {
	return f.UpdateStatus(ctx, txID, repositories.StatusUpdate{
		NewStatus:       models.StatusRiderAssigned,
		ExpectedVersion: expectedVersion,
		RiderID:         &riderID,
	})
}

func (f *fakeGifts) MarkRerouteFailed(ctx context.Context, txID string, expectedVersion int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.rows[txID]
	if !ok {
		return kerrors.ErrNotFound
	}
	if g.Version != expectedVersion {
		return kerrors.ErrVersionMismatch
	}
	now := time.Now().UTC()
	g.AutoReroute = false
	g.RefundRequestedAt = &now
	g.Version++
	return nil
}

func (f *fakeGifts) list(limit int, keep func(*models.GiftTransaction) bool) []models.GiftTransaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.GiftTransaction
	for _, id := range f.order {
		if len(out) == limit {
			break
		}
		if g := f.rows[id]; keep(g) {
			out = append(out, *g)
		}
	}
	return out
}

func (f *fakeGifts) ListStalled(ctx context.Context, status int, olderThan time.Time, limit int) ([]models.GiftTransaction, error) {
	return f.list(limit, func(g *models.GiftTransaction) bool {
		return g.StatusCode == status && g.StatusChangedAt.Before(olderThan)
	}), nil
}

func (f *fakeGifts) ListExpiredEscrow(ctx context.Context, now time.Time, limit int) ([]models.GiftTransaction, error) {
	return f.list(limit, func(g *models.GiftTransaction) bool {
		return g.StatusCode == models.StatusFundsLocked &&
			g.ExpiryTimestamp != nil && g.ExpiryTimestamp.Before(now)
	}), nil
}

func (f *fakeGifts) ListPastAcceptanceDeadline(ctx context.Context, now time.Time, limit int) ([]models.GiftTransaction, error) {
	return f.list(limit, func(g *models.GiftTransaction) bool {
		return g.StatusCode == models.StatusAwaitingAccept &&
			g.AcceptanceDeadline != nil && g.AcceptanceDeadline.Before(now)
	}), nil
}

func (f *fakeGifts) ListDeclinedForReroute(ctx context.Context, limit int) ([]models.GiftTransaction, error) {
	return f.list(limit, func(g *models.GiftTransaction) bool {
		return g.StatusCode == models.StatusDeclined && g.AutoReroute && g.AlternativeShopID == nil
	}), nil
}

func (f *fakeGifts) FindByIdempotencyKey(ctx context.Context, key string) (*models.GiftTransaction, error) {
	return nil, kerrors.ErrNotFound
}
func (f *fakeGifts) Insert(ctx context.Context, gift *models.GiftTransaction) error { return nil }
func (f *fakeGifts) LiveTokenExists(ctx context.Context, token string) (bool, error) {
	return false, nil
}

type fakeProofs struct{}

func (fakeProofs) Insert(ctx context.Context, proof *models.DeliveryProof) error { return nil }
func (fakeProofs) FindByTxID(ctx context.Context, txID string) ([]models.DeliveryProof, error) {
	return nil, nil
}
func (fakeProofs) ExistsForTx(ctx context.Context, txID string) (bool, error) { return true, nil }

type fakeShops struct {
	candidates []models.NearbyShop
}

func (f *fakeShops) FindByID(ctx context.Context, shopID string) (*models.Shop, error) {
	return nil, kerrors.ErrNotFound
}
func (f *fakeShops) FindNearby(ctx context.Context, point repositories.GeoPoint, radiusKM float64, limit int) ([]models.NearbyShop, error) {
	return nil, nil
}
func (f *fakeShops) FindNearbyWithSKU(ctx context.Context, point repositories.GeoPoint, sku string, radiusKM float64, limit int) ([]models.NearbyShop, error) {
	return nil, nil
}
func (f *fakeShops) FindNearbyAlternatives(ctx context.Context, point repositories.GeoPoint, categoryID, excludeShopID string, radiusKM float64, limit int) ([]models.NearbyShop, error) {
	return f.candidates, nil
}

type fakeLocks struct {
	mu      sync.Mutex
	expired []models.InventoryLock
	upserts int
	deletes [][2]string
}

func (f *fakeLocks) Upsert(ctx context.Context, shopID, txID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	return nil
}
func (f *fakeLocks) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.InventoryLock, error) {
	return f.expired, nil
}
func (f *fakeLocks) Delete(ctx context.Context, shopID, txID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, [2]string{shopID, txID})
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []struct {
		List    string
		Payload interface{}
	}
}

func (f *fakePublisher) Publish(ctx context.Context, list string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, struct {
		List    string
		Payload interface{}
	}{list, payload})
	return nil
}

func (f *fakePublisher) lists() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, ev := range f.events {
		out = append(out, ev.List)
	}
	return out
}

type harness struct {
	gifts *fakeGifts
	locks *fakeLocks
	pub   *fakePublisher
	sched *Scheduler
}

func newHarness(t *testing.T, shops *fakeShops, gifts ...*models.GiftTransaction) *harness {
	t.Helper()
	repo := newFakeGifts(gifts...)
	locks := &fakeLocks{}
	pub := &fakePublisher{}
	machine := statemachine.New(repo, fakeProofs{}, 48*time.Hour)
	rerouter := reroute.New(repo, shops, locks, pub, 5.0)
	sched := New(repo, locks, machine, rerouter, pub, Config{
		Interval:           10 * time.Second,
		BatchSize:          100,
		ForceCallThreshold: 5 * time.Minute,
		RerouteThreshold:   10 * time.Minute,
	})
	return &harness{gifts: repo, locks: locks, pub: pub, sched: sched}
}

func agedGift(txID string, status int, age time.Duration) *models.GiftTransaction {
	return &models.GiftTransaction{
		TxID:            txID,
		ShopID:          "shop-1",
		StatusCode:      status,
		StatusChangedAt: time.Now().UTC().Add(-age),
		HandshakeToken:  "ABCD-EFGH",
	}
}

func TestTick_ForceCallEscalation(t *testing.T) {
	stalled := agedGift("tx-stalled", models.StatusFulfilling, 6*time.Minute)
	fresh := agedGift("tx-fresh", models.StatusFulfilling, time.Minute)
	h := newHarness(t, &fakeShops{}, stalled, fresh)

	h.sched.Tick(context.Background())

	assert.Equal(t, models.StatusForceCall, h.gifts.rows["tx-stalled"].StatusCode)
	assert.Equal(t, models.StatusFulfilling, h.gifts.rows["tx-fresh"].StatusCode)
	assert.Contains(t, h.pub.lists(), bus.EventForceCall)
}

func TestTick_RerouteEscalation(t *testing.T) {
	stalled := agedGift("tx-stuck", models.StatusForceCall, 11*time.Minute)
	stalled.CategoryID = "cakes"
	stalled.OriginalDistanceKM = 2.5
	shops := &fakeShops{candidates: []models.NearbyShop{{
		Shop:       models.Shop{ShopID: "shop-alt", Name: "Plan B Bakery"},
		DistanceKM: 3.4,
	}}}
	h := newHarness(t, shops, stalled)

	h.sched.Tick(context.Background())

	// 305 -> 315, then the engine lands it at 106.
	row := h.gifts.rows["tx-stuck"]
	assert.Equal(t, models.StatusAltFound, row.StatusCode)
	require.NotNil(t, row.AlternativeShopID)
	assert.Equal(t, "shop-alt", *row.AlternativeShopID)
	assert.Equal(t, 1, h.locks.upserts)
	assert.Contains(t, h.pub.lists(), bus.EventRerouteNotify)
}

func TestTick_RerouteEscalationWithoutAlternative(t *testing.T) {
	stalled := agedGift("tx-stranded", models.StatusForceCall, 11*time.Minute)
	stalled.PaymentRef = "pi_abc"
	h := newHarness(t, &fakeShops{}, stalled)

	h.sched.Tick(context.Background())

	// Escalated to 315 and left there; the refund event is out.
	assert.Equal(t, models.StatusRerouting, h.gifts.rows["tx-stranded"].StatusCode)
	assert.Contains(t, h.pub.lists(), bus.EventRefundRequested)
}

func TestTick_EscrowExpiry(t *testing.T) {
	past := time.Now().UTC().Add(-time.Hour)
	expired := agedGift("tx-expired", models.StatusFundsLocked, 49*time.Hour)
	expired.PaymentRef = "pi_old"
	expired.ExpiryTimestamp = &past

	future := time.Now().UTC().Add(time.Hour)
	live := agedGift("tx-live", models.StatusFundsLocked, time.Hour)
	live.PaymentRef = "pi_new"
	live.ExpiryTimestamp = &future

	h := newHarness(t, &fakeShops{}, expired, live)
	h.sched.Tick(context.Background())

	assert.Equal(t, models.StatusExpired, h.gifts.rows["tx-expired"].StatusCode)
	assert.Equal(t, models.StatusFundsLocked, h.gifts.rows["tx-live"].StatusCode)

	require.Contains(t, h.pub.lists(), bus.EventRefundRequested)
	for _, ev := range h.pub.events {
		if ev.List == bus.EventRefundRequested {
			refund := ev.Payload.(bus.RefundRequestedEvent)
			assert.Equal(t, "tx-expired", refund.TxID)
			assert.Equal(t, "pi_old", refund.PaymentRef)
		}
	}
}

func TestTick_AcceptanceDeadline(t *testing.T) {
	past := time.Now().UTC().Add(-time.Minute)
	overdue := agedGift("tx-unanswered", models.StatusAwaitingAccept, 3*time.Hour)
	overdue.AcceptanceDeadline = &past

	h := newHarness(t, &fakeShops{}, overdue)
	h.sched.Tick(context.Background())

	row := h.gifts.rows["tx-unanswered"]
	assert.Equal(t, models.StatusDeclined, row.StatusCode)
	assert.Equal(t, "timeout", row.DeclineReason)
}

func TestTick_DeclinedAutoReroute(t *testing.T) {
	declined := agedGift("tx-declined", models.StatusDeclined, time.Minute)
	declined.AutoReroute = true
	declined.CategoryID = "cakes"
	shops := &fakeShops{candidates: []models.NearbyShop{{
		Shop:       models.Shop{ShopID: "shop-alt", Name: "Plan B Bakery"},
		DistanceKM: 1.0,
	}}}

	h := newHarness(t, shops, declined)
	h.sched.Tick(context.Background())

	row := h.gifts.rows["tx-declined"]
	assert.Equal(t, models.StatusAltFound, row.StatusCode)
	require.NotNil(t, row.AlternativeShopID)
	assert.Equal(t, "shop-alt", *row.AlternativeShopID)
}

func TestTick_DeclinedWithoutAutoRerouteIsLeftAlone(t *testing.T) {
	declined := agedGift("tx-manual", models.StatusDeclined, time.Minute)
	declined.AutoReroute = false

	h := newHarness(t, &fakeShops{}, declined)
	h.sched.Tick(context.Background())

	assert.Equal(t, models.StatusDeclined, h.gifts.rows["tx-manual"].StatusCode)
	assert.Empty(t, h.pub.events)
}

func TestTick_StrandedDeclinedRefundsOnce(t *testing.T) {
	// No candidate shop exists, so the row can never get an alternative.
	// The first tick requests the refund and marks the row; later ticks must
	// not re-select it.
	declined := agedGift("tx-stranded", models.StatusDeclined, time.Minute)
	declined.AutoReroute = true
	declined.CategoryID = "cakes"
	declined.PaymentRef = "pi_once"

	h := newHarness(t, &fakeShops{}, declined)
	for i := 0; i < 3; i++ {
		h.sched.Tick(context.Background())
	}

	var refunds int
	for _, list := range h.pub.lists() {
		if list == bus.EventRefundRequested {
			refunds++
		}
	}
	assert.Equal(t, 1, refunds)

	row := h.gifts.rows["tx-stranded"]
	assert.Equal(t, models.StatusDeclined, row.StatusCode)
	assert.False(t, row.AutoReroute)
	require.NotNil(t, row.RefundRequestedAt)
}

func TestTick_SweepsExpiredLocks(t *testing.T) {
	h := newHarness(t, &fakeShops{})
	h.locks.expired = []models.InventoryLock{
		{ShopID: "shop-1", TxID: "tx-1"},
		{ShopID: "shop-2", TxID: "tx-2"},
	}

	h.sched.Tick(context.Background())

	require.Len(t, h.locks.deletes, 2)
	assert.Equal(t, [2]string{"shop-1", "tx-1"}, h.locks.deletes[0])
	assert.Equal(t, [2]string{"shop-2", "tx-2"}, h.locks.deletes[1])
}

func TestTick_ConcurrentWinnerIsNotAnError(t *testing.T) {
	// Another worker bumps the version between the scan and the update; the
	// scheduler must treat the conflict as a skip, not a failure, and the
	// next tick sees the fresh state.
	stalled := agedGift("tx-raced", models.StatusFulfilling, 6*time.Minute)
	h := newHarness(t, &fakeShops{}, stalled)

	// Simulate the race: the row advances to 350 before our tick lands.
	_, err := h.gifts.UpdateStatus(context.Background(), "tx-raced", repositories.StatusUpdate{
		NewStatus:       models.StatusKeyVerified,
		ExpectedVersion: 0,
	})
	require.NoError(t, err)

	h.sched.Tick(context.Background())
	assert.Equal(t, models.StatusKeyVerified, h.gifts.rows["tx-raced"].StatusCode)
	assert.NotContains(t, h.pub.lists(), bus.EventForceCall)
}
