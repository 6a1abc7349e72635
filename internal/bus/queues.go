// Package bus wraps the Redis list event bus: one inbound ingestion queue
// the drainer blocks on, and the outbound event lists downstream consumers
// (SMS dispatch, refund flow, shop notifications) drain.
package bus

// Inbound queue.
const QueueIngestionGifts = "kithly:ingestion:gifts"

// Outbound event lists.
const (
	EventEscrowLocked    = "kithly:events:escrow_locked"
	EventShopNotify      = "kithly:events:shop_notify"
	EventRefundRequested = "kithly:events:refund_requested"
	EventForceCall       = "kithly:events:force_call"
	EventRerouteNotify   = "kithly:events:reroute_notify"
)
