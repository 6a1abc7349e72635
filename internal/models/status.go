package models

// Transaction status codes. Wire-stable: external collaborators key off the
// numeric values, never the names.
//
// 100-199: initiation, 200-299: payment, 300-399: fulfilment,
// 400-499: completion, 800-899: review hold, 900+: failure/refund.
const (
	StatusInitiated       = 100 // human sender via the app
	StatusAltFound        = 106 // re-route engine found an alternative shop
	StatusAwaitingAccept  = 110 // baker's protocol, made-to-order SKU
	StatusAgentInitiated  = 150 // AI agent via UCP
	StatusFundsLocked     = 200 // acquirer webhook confirmed capture
	StatusSettled         = 250 // payout account verified
	StatusFulfilling      = 300 // shop notified
	StatusForceCall       = 305 // fulfilment stalled > 5 min
	StatusRiderAssigned   = 310 // delivery rider assigned for pickup
	StatusRerouting       = 315 // fulfilment stalled > 10 min
	StatusKeyVerified     = 350 // collection token matched
	StatusCompleted       = 400 // fiscal receipt accepted
	StatusHeldForReview   = 800 // fiscal receipt rejected
	StatusExpired         = 900 // escrow expired or administrative cancel
	StatusDeclined        = 910 // shop declined the order
)

var statusNames = map[int]string{
	StatusInitiated:      "INITIATED",
	StatusAltFound:       "ALT_FOUND",
	StatusAwaitingAccept: "AWAITING_SHOP_ACCEPTANCE",
	StatusAgentInitiated: "AGENT_INITIATED",
	StatusFundsLocked:    "FUNDS_LOCKED",
	StatusSettled:        "SETTLED",
	StatusFulfilling:     "FULFILLING",
	StatusForceCall:      "FORCE_CALL_PENDING",
	StatusRiderAssigned:  "RIDER_ASSIGNED",
	StatusRerouting:      "REROUTING",
	StatusKeyVerified:    "KEY_VERIFIED",
	StatusCompleted:      "COMPLETED",
	StatusHeldForReview:  "HELD_FOR_REVIEW",
	StatusExpired:        "EXPIRED/CANCELLED",
	StatusDeclined:       "DECLINED",
}

// StatusName returns the protocol name for a status code.
func StatusName(code int) string {
	if name, ok := statusNames[code]; ok {
		return name
	}
	return "UNKNOWN"
}

// IsKnownStatus reports whether code is part of the protocol.
func IsKnownStatus(code int) bool {
	_, ok := statusNames[code]
	return ok
}

// IsTerminal reports whether a transaction in this status can still move.
func IsTerminal(code int) bool {
	switch code {
	case StatusCompleted, StatusHeldForReview, StatusExpired:
		return true
	}
	return false
}

// statusTimestampColumns maps a reached status to the column that records
// when it was reached. Statuses absent here only bump status_changed_at.
var statusTimestampColumns = map[int]string{
	StatusFundsLocked:   "paid_at",
	StatusSettled:       "settled_at",
	StatusFulfilling:    "fulfilling_at",
	StatusRiderAssigned: "rider_assigned_at",
	StatusKeyVerified:   "key_verified_at",
	StatusCompleted:     "completed_at",
	StatusDeclined:      "declined_at",
	StatusAltFound:      "rerouted_at",
	StatusExpired:       "expired_at",
}

// StatusTimestampColumn returns the timestamp column for a status, or ""
// when the status has no dedicated column.
func StatusTimestampColumn(code int) string {
	return statusTimestampColumns[code]
}
