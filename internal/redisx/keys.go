package redisx

import "time"

const (
	// Cache status order: order_status:{order_id} -> {"order_id": "...", "status": "...", ...}
	KeyOrderStatus = "order_status:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Order terakhir yang dikirim ke halaman bayar: pending_order:{buyer} -> order_id
	KeyPendingOrder = "pending_order:%s"
)

var (
	TTLStatusCache  = 30 * time.Second
	TTLDedup        = 48 * time.Hour
	TTLPendingOrder = 24 * time.Hour
)
