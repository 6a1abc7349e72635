package bus

// SchemaVersion is stamped into every outbound payload as "v". Consumers
// must tolerate unknown fields.
const SchemaVersion = 1

// EscrowLockedEvent feeds SMS dispatch after a gift is created.
type EscrowLockedEvent struct {
	V             int    `json:"v"`
	TxRef         string `json:"tx_ref"`
	ReceiverPhone string `json:"receiver_phone"`
	HandshakeCode string `json:"handshake_code"`
}

// ShopNotifyEvent tells the gateway to notify a shop of a paid order.
type ShopNotifyEvent struct {
	V      int    `json:"v"`
	TxID   string `json:"tx_id"`
	ShopID string `json:"shop_id"`
}

// RefundRequestedEvent asks the gateway to refund via the acquirer.
type RefundRequestedEvent struct {
	V          int    `json:"v"`
	TxID       string `json:"tx_id"`
	PaymentRef string `json:"payment_ref"`
}

// ForceCallEvent asks the gateway to place an automated call to the shop.
type ForceCallEvent struct {
	V    int    `json:"v"`
	TxID string `json:"tx_id"`
}

// RerouteNotifyEvent announces a successful re-route to an alternative shop.
type RerouteNotifyEvent struct {
	V              int     `json:"v"`
	TxID           string  `json:"tx_id"`
	ShopName       string  `json:"shop_name"`
	DistanceDiffKM float64 `json:"distance_diff_km"`
}
