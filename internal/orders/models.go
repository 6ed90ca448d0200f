package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Available bool            `json:"available"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type Order struct {
	ID            int64           `json:"id"`
	CustomerID    *int64          `json:"customer_id,omitempty"`
	SessionID     string          `json:"session_id,omitempty"`
	Status        Status          `json:"status"` // lihat status.go
	PaymentMethod PaymentMethod   `json:"payment_method"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	TotalPrice    decimal.Decimal `json:"total_price"` // hanya diisi oleh Recompute
	Lines         []OrderLine     `json:"lines"`
	Voucher       *AppliedVoucher `json:"voucher,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type OrderLine struct {
	ID        int64           `json:"id"`
	OrderID   int64           `json:"order_id"`
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// AppliedVoucher is the voucher attached to an order. DiscountAmount is frozen
// at application time and is not re-evaluated when the voucher changes.
type AppliedVoucher struct {
	VoucherID      int64           `json:"voucher_id"`
	Code           string          `json:"code"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	AppliedAt      time.Time       `json:"applied_at"`
}

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

type Voucher struct {
	ID            int64            `json:"id"`
	Code          string           `json:"code"`
	DiscountType  DiscountType     `json:"discount_type"`
	DiscountValue decimal.Decimal  `json:"discount_value"`
	MinOrderValue decimal.Decimal  `json:"min_order_value"`
	MaxDiscount   *decimal.Decimal `json:"max_discount,omitempty"`
	Quantity      int              `json:"quantity"`
	Active        bool             `json:"active"`
	StartDate     time.Time        `json:"start_date"` // tanggal saja, inklusif
	EndDate       time.Time        `json:"end_date"`   // tanggal saja, inklusif
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// PaymentRecord is one ledger row: a gateway notification keyed by
// (OrderID, Gateway, GatewayRef).
type PaymentRecord struct {
	OrderID    int64           `json:"order_id"`
	Gateway    string          `json:"gateway"`
	GatewayRef string          `json:"gateway_ref"`
	OrderRef   string          `json:"order_ref"`
	ResultCode string          `json:"result_code"`
	Success    bool            `json:"success"`
	Amount     decimal.Decimal `json:"amount"`
	Outcome    SettleOutcome   `json:"outcome"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Subtotal sums the current line subtotals.
func (o *Order) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range o.Lines {
		sum = sum.Add(l.Subtotal)
	}
	return sum
}

func (o *Order) lineByProduct(productID int64) *OrderLine {
	for i := range o.Lines {
		if o.Lines[i].ProductID == productID {
			return &o.Lines[i]
		}
	}
	return nil
}

func (o *Order) lineIndex(lineID int64) int {
	for i := range o.Lines {
		if o.Lines[i].ID == lineID {
			return i
		}
	}
	return -1
}

func (o *Order) productIDs() []int64 {
	ids := make([]int64, 0, len(o.Lines))
	for _, l := range o.Lines {
		ids = append(ids, l.ProductID)
	}
	return ids
}

func (o *Order) clone() *Order {
	c := *o
	c.Lines = append([]OrderLine(nil), o.Lines...)
	if o.Voucher != nil {
		v := *o.Voucher
		c.Voucher = &v
	}
	if o.CustomerID != nil {
		id := *o.CustomerID
		c.CustomerID = &id
	}
	return &c
}
