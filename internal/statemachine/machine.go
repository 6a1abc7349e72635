// Package statemachine validates and applies gift status transitions. It is
// pure with respect to external side-effects: network actions are signalled
// as typed events the caller hands to the publisher.
package statemachine

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"kithly/internal/bus"
	"kithly/internal/kerrors"
	"kithly/internal/metrics"
	"kithly/internal/models"
	"kithly/internal/repositories"
)

// Event is a side-effect the caller must publish after a successful
// transition.
type Event struct {
	List    string
	Payload interface{}
}

// Request carries one proposed transition with its precondition artefacts.
type Request struct {
	TxID            string
	Target          int
	ExpectedVersion int

	PaymentRef       string // →200: acquirer capture reference, must be novel
	PayoutRef        string // →250: payout-account verification artefact
	RiderID          string // →310: delivery rider taking the pickup
	ProvidedToken    string // →350: collection token from the recipient
	FiscalResultCode string // →400: ZRA resultCd
	Reason           string // →910 / →900
}

// Machine applies transitions against the repository with optimistic
// concurrency. It never performs network I/O.
type Machine struct {
	gifts         repositories.GiftRepository
	proofs        repositories.ProofRepository
	escrowTimeout time.Duration
}

// New creates a state machine.
func New(gifts repositories.GiftRepository, proofs repositories.ProofRepository, escrowTimeout time.Duration) *Machine {
	if gifts == nil {
		panic("gift repository is required")
	}
	if proofs == nil {
		panic("proof repository is required")
	}
	return &Machine{gifts: gifts, proofs: proofs, escrowTimeout: escrowTimeout}
}

// allowed is the transition table. The administrative sink (any non-terminal
// → 900) is handled separately in isAllowed.
var allowed = map[int]map[int]bool{
	models.StatusInitiated:      {models.StatusFundsLocked: true},
	models.StatusAgentInitiated: {models.StatusFundsLocked: true},
	models.StatusAwaitingAccept: {models.StatusFundsLocked: true, models.StatusDeclined: true},
	models.StatusFundsLocked:    {models.StatusSettled: true},
	models.StatusSettled:        {models.StatusFulfilling: true},
	models.StatusFulfilling:     {models.StatusForceCall: true, models.StatusRiderAssigned: true, models.StatusKeyVerified: true},
	models.StatusForceCall:      {models.StatusRerouting: true, models.StatusRiderAssigned: true, models.StatusKeyVerified: true},
	models.StatusRiderAssigned:  {models.StatusForceCall: true, models.StatusKeyVerified: true},
	models.StatusRerouting:      {models.StatusKeyVerified: true, models.StatusAltFound: true},
	models.StatusKeyVerified:    {models.StatusCompleted: true, models.StatusHeldForReview: true},
	models.StatusDeclined:       {models.StatusAltFound: true},
}

func isAllowed(from, to int) bool {
	if to == models.StatusExpired {
		return !models.IsTerminal(from)
	}
	return allowed[from][to]
}

// escrowHeld reports whether funds are captured and not yet paid out, so a
// move to 900 must trigger a refund.
func escrowHeld(status int) bool {
	return status >= models.StatusFundsLocked && status <= models.StatusKeyVerified
}

func zraAccepted(resultCd string) bool {
	return resultCd == "000" || resultCd == "001"
}

// Transition validates and applies one transition. On success it returns
// the fresh snapshot and the side-effect events to publish. It does not
// retry conflicts; see Apply.
func (m *Machine) Transition(ctx context.Context, req Request) (*models.GiftTransaction, []Event, error) {
	gift, err := m.gifts.FindByID(ctx, req.TxID)
	if err != nil {
		return nil, nil, err
	}

	if !models.IsKnownStatus(req.Target) {
		metrics.ObserveTransition(req.Target, "rejected")
		return nil, nil, kerrors.WithDetail(kerrors.ErrInvalidTransition, "unknown status %d", req.Target)
	}
	if !isAllowed(gift.StatusCode, req.Target) {
		metrics.ObserveTransition(req.Target, "rejected")
		return nil, nil, kerrors.WithDetail(kerrors.ErrInvalidTransition, "%s to %s",
			models.StatusName(gift.StatusCode), models.StatusName(req.Target))
	}
	if gift.Version != req.ExpectedVersion {
		metrics.ObserveTransition(req.Target, "conflict")
		return nil, nil, kerrors.ErrVersionMismatch
	}

	update := repositories.StatusUpdate{
		NewStatus:       req.Target,
		ExpectedVersion: req.ExpectedVersion,
	}
	var events []Event

	switch req.Target {
	case models.StatusFundsLocked:
		if req.PaymentRef == "" {
			metrics.ObserveTransition(req.Target, "rejected")
			return nil, nil, kerrors.ErrPaymentRefMissing
		}
		if gift.PaymentRef != "" {
			metrics.ObserveTransition(req.Target, "rejected")
			return nil, nil, kerrors.WithDetail(kerrors.ErrPaymentRefSeen, "ref %s", gift.PaymentRef)
		}
		update.PaymentRef = &req.PaymentRef
		expiry := time.Now().UTC().Add(m.escrowTimeout)
		update.ExpiryTimestamp = &expiry
		if gift.StatusCode == models.StatusAwaitingAccept {
			update.ShopAccepted = true
		}

	case models.StatusSettled:
		if req.PayoutRef == "" {
			metrics.ObserveTransition(req.Target, "rejected")
			return nil, nil, kerrors.ErrPayoutUnverified
		}
		update.PayoutRef = &req.PayoutRef

	case models.StatusFulfilling:
		events = append(events, Event{
			List:    bus.EventShopNotify,
			Payload: bus.ShopNotifyEvent{V: bus.SchemaVersion, TxID: gift.TxID, ShopID: gift.ShopID},
		})

	case models.StatusForceCall:
		events = append(events, Event{
			List:    bus.EventForceCall,
			Payload: bus.ForceCallEvent{V: bus.SchemaVersion, TxID: gift.TxID},
		})

	case models.StatusRiderAssigned:
		if req.RiderID == "" {
			metrics.ObserveTransition(req.Target, "rejected")
			return nil, nil, kerrors.ErrRiderMissing
		}
		update.RiderID = &req.RiderID

	case models.StatusKeyVerified:
		if subtle.ConstantTimeCompare([]byte(req.ProvidedToken), []byte(gift.HandshakeToken)) != 1 {
			metrics.ObserveTransition(req.Target, "rejected")
			return nil, nil, kerrors.ErrTokenMismatch
		}

	case models.StatusCompleted:
		if !zraAccepted(req.FiscalResultCode) {
			// Fiscal interlock: the row is parked for review instead.
			return m.holdForReview(ctx, req)
		}
		hasProof, err := m.proofs.ExistsForTx(ctx, gift.TxID)
		if err != nil {
			return nil, nil, err
		}
		if !hasProof {
			metrics.ObserveTransition(req.Target, "rejected")
			return nil, nil, kerrors.ErrEvidenceMissing
		}

	case models.StatusDeclined:
		reason := req.Reason
		if reason == "" {
			reason = "declined"
		}
		update.DeclineReason = &reason

	case models.StatusExpired:
		if gift.PaymentRef != "" && escrowHeld(gift.StatusCode) {
			events = append(events, Event{
				List:    bus.EventRefundRequested,
				Payload: bus.RefundRequestedEvent{V: bus.SchemaVersion, TxID: gift.TxID, PaymentRef: gift.PaymentRef},
			})
		}
	}

	snapshot, err := m.gifts.UpdateStatus(ctx, req.TxID, update)
	if err != nil {
		if errors.Is(err, kerrors.ErrVersionMismatch) {
			metrics.ObserveTransition(req.Target, "conflict")
		}
		return nil, nil, err
	}

	metrics.ObserveTransition(req.Target, "ok")
	return snapshot, events, nil
}

// holdForReview parks a transaction at 800 when the fiscal receipt is not
// accepted. The typed failure still surfaces to the caller.
func (m *Machine) holdForReview(ctx context.Context, req Request) (*models.GiftTransaction, []Event, error) {
	snapshot, err := m.gifts.UpdateStatus(ctx, req.TxID, repositories.StatusUpdate{
		NewStatus:       models.StatusHeldForReview,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		return nil, nil, err
	}
	metrics.ObserveTransition(models.StatusHeldForReview, "ok")
	return snapshot, nil, kerrors.WithDetail(kerrors.ErrZRARejected, "resultCd %q", req.FiscalResultCode)
}

// Apply runs Transition, refreshing the expected version and retrying at
// most twice on optimistic conflicts. Retries stop as soon as the context
// is cancelled (shutdown in progress).
func (m *Machine) Apply(ctx context.Context, req Request) (*models.GiftTransaction, []Event, error) {
	var lastErr error
	for attempt := 0; attempt <= 2; attempt++ {
		if attempt > 0 {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			fresh, err := m.gifts.FindByID(ctx, req.TxID)
			if err != nil {
				return nil, nil, err
			}
			req.ExpectedVersion = fresh.Version
		}

		snapshot, events, err := m.Transition(ctx, req)
		if err == nil {
			return snapshot, events, nil
		}
		if !errors.Is(err, kerrors.ErrVersionMismatch) {
			return nil, nil, err
		}
		lastErr = err
	}
	return nil, nil, lastErr
}
