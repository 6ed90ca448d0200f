package orders

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderRepriced      = "OrderRepriced"
	EventOrderCheckedOut    = "OrderCheckedOut"
	EventCheckoutReverted   = "CheckoutReverted"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventPaymentSettled     = "PaymentSettled"
	EventPaymentOverridden  = "PaymentOverridden"
	EventOrderDeleted       = "OrderDeleted"
)

// Semua event lifecycle satu order masuk ke satu topic, key = order_id,
// supaya urutannya terjaga per partition.
const TopicOrderLifecycle = "order.lifecycle"

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // salah satu const di atas
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g., "order-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

// StatusSnapshot is the payload of every lifecycle event and the value kept
// in the status cache. UpdatedAt orders snapshots of the same order.
type StatusSnapshot struct {
	OrderID       int64           `json:"order_id"`
	Status        Status          `json:"status"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	TotalPrice    decimal.Decimal `json:"total_price"`
	Deleted       bool            `json:"deleted,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func SnapshotOf(o *Order) StatusSnapshot {
	return StatusSnapshot{
		OrderID:       o.ID,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		PaymentMethod: o.PaymentMethod,
		TotalPrice:    o.TotalPrice,
		UpdatedAt:     o.UpdatedAt,
	}
}

func PartitionKey(orderID int64) []byte { return []byte(formatID(orderID)) }
