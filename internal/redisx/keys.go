package redisx

import "time"

const (
	// Cart session: session:{session_id} -> order_id
	KeySession = "session:%s"

	// Cache status order: order_status:{order_id} -> orders.StatusSnapshot (JSON)
	KeyOrderStatus = "order_status:%d"

	// Dedup: dedup:{scope}:{id}
	// scope "projector" pakai event_id, scope "payment" pakai gateway:gateway_ref
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLSession     = 30 * time.Minute
	TTLStatusCache = 24 * time.Hour
	TTLDedup       = 48 * time.Hour
)
