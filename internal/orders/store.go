package orders

import (
	"context"

	"github.com/shopspring/decimal"
)

// Store is the persistence boundary of the order engine. Every mutation goes
// through InTx so the order row, its lines, its applied voucher and the payment
// ledger change together or not at all.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error

	GetOrder(ctx context.Context, id int64) (*Order, error)
	ListOrders(ctx context.Context, limit int) ([]Order, error)
	GetProduct(ctx context.Context, id int64) (*Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
	GetVoucher(ctx context.Context, id int64) (*Voucher, error)
	VoucherByCode(ctx context.Context, code string) (*Voucher, error)
	ListVouchers(ctx context.Context) ([]Voucher, error)
	ListPayments(ctx context.Context, orderID int64) ([]PaymentRecord, error)
}

// Tx is a unit of work. Lock* calls hold their row until the transaction ends.
type Tx interface {
	CreateOrder(ctx context.Context, o *Order) error
	LockOrder(ctx context.Context, id int64) (*Order, error)
	// SaveOrder writes the order row, inserts lines with ID 0 (assigning ids),
	// updates the rest, deletes lines no longer present and replaces the
	// applied voucher.
	SaveOrder(ctx context.Context, o *Order) error
	DeleteOrder(ctx context.Context, id int64) error

	Product(ctx context.Context, id int64) (*Product, error)
	Prices(ctx context.Context, productIDs []int64) (map[int64]decimal.Decimal, error)

	LockVoucher(ctx context.Context, id int64) (*Voucher, error)
	VoucherCodeTaken(ctx context.Context, code string, exceptID int64) (bool, error)
	InsertVoucher(ctx context.Context, v *Voucher) error
	UpdateVoucher(ctx context.Context, v *Voucher) error

	// RecordPayment inserts a ledger row and reports false when the
	// (order, gateway, gateway ref) key already exists.
	RecordPayment(ctx context.Context, rec *PaymentRecord) (bool, error)
}
