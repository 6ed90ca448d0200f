package orders

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Envelope
}

func (r *recorder) Publish(key, value []byte, _ ...kafkago.Header) {
	var env Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		panic(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, env)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

type fixture struct {
	svc    *Service
	store  *MemStore
	events *recorder
	pho    Product
	banhMi Product
}

var fixedNow = time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := NewMemStore()
	rec := &recorder{}
	f := &fixture{
		svc: &Service{
			Store:       store,
			Events:      rec,
			ServiceName: "order-api-test",
			Now:         func() time.Time { return fixedNow },
			Location:    time.UTC,
		},
		store:  store,
		events: rec,
	}
	f.pho = store.AddProduct(Product{Name: "Pho bo", UnitPrice: d(50000), Available: true})
	f.banhMi = store.AddProduct(Product{Name: "Banh mi", UnitPrice: d(30000), Available: true})
	return f
}

func (f *fixture) voucher(t *testing.T, v Voucher) Voucher {
	t.Helper()
	if v.StartDate.IsZero() {
		v.StartDate, v.EndDate = day(2025, 1, 1), day(2025, 1, 31)
	}
	v.Active = true
	return f.store.AddVoucher(v)
}

// order 2x pho + 1x banh mi = 130.000
func (f *fixture) order(t *testing.T) *Order {
	t.Helper()
	ctx := context.Background()
	o, err := f.svc.CreateOrder(ctx, NewOrder{SessionID: "s-1"})
	require.NoError(t, err)
	_, err = f.svc.AddLine(ctx, o.ID, f.pho.ID, 2)
	require.NoError(t, err)
	o, err = f.svc.AddLine(ctx, o.ID, f.banhMi.ID, 1)
	require.NoError(t, err)
	require.True(t, o.TotalPrice.Equal(d(130000)), "total %s", o.TotalPrice)
	return o
}

func (f *fixture) voucherQty(t *testing.T, id int64) int {
	t.Helper()
	v, err := f.store.GetVoucher(context.Background(), id)
	require.NoError(t, err)
	return v.Quantity
}

func TestAddLineMergesAndReprices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t)

	o, err := f.svc.AddLine(ctx, o.ID, f.pho.ID, 1)
	require.NoError(t, err)
	require.Len(t, o.Lines, 2)
	assert.Equal(t, 3, o.Lines[0].Quantity)
	assert.True(t, o.TotalPrice.Equal(d(180000)))

	// harga berubah, line berikutnya memakai harga baru
	f.store.SetPrice(f.banhMi.ID, d(35000))
	o, err = f.svc.UpdateLine(ctx, o.ID, o.Lines[1].ID, 2)
	require.NoError(t, err)
	assert.True(t, o.TotalPrice.Equal(d(220000)), "total %s", o.TotalPrice)

	o, err = f.svc.RemoveLine(ctx, o.ID, o.Lines[0].ID)
	require.NoError(t, err)
	require.Len(t, o.Lines, 1)
	assert.True(t, o.TotalPrice.Equal(d(70000)))
}

func TestAddLineErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t)

	_, err := f.svc.AddLine(ctx, o.ID, 999, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.AddLine(ctx, o.ID, f.pho.ID, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)

	off := f.store.AddProduct(Product{Name: "Sold out", UnitPrice: d(1000), Available: false})
	_, err = f.svc.AddLine(ctx, o.ID, off.ID, 1)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = f.svc.UpdateLine(ctx, o.ID, 12345, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.AddLine(ctx, 424242, f.pho.ID, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApplyVoucherPercentageCapped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t)
	max := d(10000)
	v := f.voucher(t, Voucher{Code: "SALE10", DiscountType: DiscountPercentage, DiscountValue: d(10),
		MinOrderValue: d(50000), MaxDiscount: &max, Quantity: 5})

	expected := d(10000)
	o, err := f.svc.ApplyVoucher(ctx, o.ID, v.ID, &expected)
	require.NoError(t, err)
	require.NotNil(t, o.Voucher)
	assert.True(t, o.Voucher.DiscountAmount.Equal(d(10000)))
	assert.True(t, o.TotalPrice.Equal(d(120000)), "total %s", o.TotalPrice)
	assert.Equal(t, 4, f.voucherQty(t, v.ID))

	// discount tetap beku walau harga berubah
	f.store.SetPrice(f.pho.ID, d(10000))
	o, err = f.svc.AddLine(ctx, o.ID, f.banhMi.ID, 1)
	require.NoError(t, err)
	assert.True(t, o.Voucher.DiscountAmount.Equal(d(10000)))
	assert.True(t, o.TotalPrice.Equal(d(70000)), "total %s", o.TotalPrice)
}

func TestApplyVoucherTwiceConsumesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t)
	v := f.voucher(t, Voucher{Code: "FLAT5K", DiscountType: DiscountFixed, DiscountValue: d(5000), Quantity: 3})

	_, err := f.svc.ApplyVoucher(ctx, o.ID, v.ID, nil)
	require.NoError(t, err)
	before := len(f.events.types())

	again, err := f.svc.ApplyVoucher(ctx, o.ID, v.ID, nil)
	require.NoError(t, err)
	assert.True(t, again.TotalPrice.Equal(d(125000)))
	assert.Equal(t, 2, f.voucherQty(t, v.ID))
	assert.Len(t, f.events.types(), before, "no-op apply must not emit")
}

func TestApplyVoucherConcurrentSameOrder(t *testing.T) {
	f := newFixture(t)
	o := f.order(t)
	v := f.voucher(t, Voucher{Code: "FLAT5K", DiscountType: DiscountFixed, DiscountValue: d(5000), Quantity: 10})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ApplyVoucher(context.Background(), o.ID, v.ID, nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 9, f.voucherQty(t, v.ID))
}

func TestApplyVoucherLastUseGoesToOneOrder(t *testing.T) {
	f := newFixture(t)
	a, b := f.order(t), f.order(t)
	v := f.voucher(t, Voucher{Code: "LAST", DiscountType: DiscountFixed, DiscountValue: d(5000), Quantity: 1})

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, id := range []int64{a.ID, b.ID} {
		wg.Add(1)
		go func(i int, id int64) {
			defer wg.Done()
			_, errs[i] = f.svc.ApplyVoucher(context.Background(), id, v.ID, nil)
		}(i, id)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, ErrConflict):
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)
	assert.Equal(t, 0, f.voucherQty(t, v.ID))
}

func TestApplyVoucherSwitchReturnsPreviousUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t)
	first := f.voucher(t, Voucher{Code: "A", DiscountType: DiscountFixed, DiscountValue: d(5000), Quantity: 2})
	second := f.voucher(t, Voucher{Code: "B", DiscountType: DiscountFixed, DiscountValue: d(20000), Quantity: 2})

	_, err := f.svc.ApplyVoucher(ctx, o.ID, first.ID, nil)
	require.NoError(t, err)
	o, err = f.svc.ApplyVoucher(ctx, o.ID, second.ID, nil)
	require.NoError(t, err)

	assert.Equal(t, second.ID, o.Voucher.VoucherID)
	assert.True(t, o.TotalPrice.Equal(d(110000)))
	assert.Equal(t, 2, f.voucherQty(t, first.ID))
	assert.Equal(t, 1, f.voucherQty(t, second.ID))

	o, err = f.svc.RemoveVoucher(ctx, o.ID)
	require.NoError(t, err)
	assert.Nil(t, o.Voucher)
	assert.True(t, o.TotalPrice.Equal(d(130000)))
	assert.Equal(t, 2, f.voucherQty(t, second.ID))
}

func TestApplyVoucherRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t)
	v := f.voucher(t, Voucher{Code: "BIG", DiscountType: DiscountFixed, DiscountValue: d(5000),
		MinOrderValue: d(200000), Quantity: 2})

	_, err := f.svc.ApplyVoucher(ctx, o.ID, v.ID, nil)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 2, f.voucherQty(t, v.ID))

	ok := f.voucher(t, Voucher{Code: "OK", DiscountType: DiscountFixed, DiscountValue: d(5000), Quantity: 2})
	stale := d(4000)
	_, err = f.svc.ApplyVoucher(ctx, o.ID, ok.ID, &stale)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 2, f.voucherQty(t, ok.ID), "rolled back")

	_, err = f.svc.ApplyVoucher(ctx, o.ID, 999, nil)
	assert.ErrorIs(t, err, ErrNotFound)

	empty, err := f.svc.CreateOrder(ctx, NewOrder{})
	require.NoError(t, err)
	_, err = f.svc.ApplyVoucher(ctx, empty.ID, ok.ID, nil)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestFixedDiscountAboveSubtotalFloorsTotal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, err := f.svc.CreateOrder(ctx, NewOrder{})
	require.NoError(t, err)
	_, err = f.svc.AddLine(ctx, o.ID, f.banhMi.ID, 1)
	require.NoError(t, err)
	v := f.voucher(t, Voucher{Code: "FLAT50", DiscountType: DiscountFixed, DiscountValue: d(50000), Quantity: 1})

	o, err = f.svc.ApplyVoucher(ctx, o.ID, v.ID, nil)
	require.NoError(t, err)
	assert.True(t, o.TotalPrice.IsZero())

	_, err = f.svc.Checkout(ctx, o.ID, "WALLET")
	assert.ErrorIs(t, err, ErrConflict)
	o, err = f.svc.Checkout(ctx, o.ID, "COD")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, o.Status)
}

func TestPreviewVoucher(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	max := d(10000)
	v := f.voucher(t, Voucher{Code: "SALE10", DiscountType: DiscountPercentage, DiscountValue: d(10),
		MinOrderValue: d(50000), MaxDiscount: &max, Quantity: 5})

	res, err := f.svc.PreviewVoucher(ctx, "sale10", d(130000))
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.True(t, res.Discount.Equal(d(10000)))

	res, err = f.svc.PreviewVoucher(ctx, "SALE10", d(1000))
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.True(t, res.Discount.IsZero())
	assert.NotEmpty(t, res.Message)

	_, err = f.svc.PreviewVoucher(ctx, "NOPE", d(1000))
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.PreviewVoucher(ctx, " ", d(1000))
	assert.ErrorIs(t, err, ErrInvalidInput)

	assert.Equal(t, 5, f.voucherQty(t, v.ID), "preview never consumes")
}

func TestCheckoutCODAndRepeat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t)

	o, err := f.svc.Checkout(ctx, o.ID, "cod")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, o.Status)
	assert.Equal(t, PaymentUnpaid, o.PaymentStatus)
	n := len(f.events.types())

	again, err := f.svc.Checkout(ctx, o.ID, "COD")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, again.Status)
	assert.Len(t, f.events.types(), n)

	_, err = f.svc.AddLine(ctx, o.ID, f.pho.ID, 1)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = f.svc.Checkout(ctx, o.ID, "BANK")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestCheckoutWalletFreezesCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t)

	o, err := f.svc.Checkout(ctx, o.ID, "WALLET")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, MethodWallet, o.PaymentMethod)

	_, err = f.svc.AddLine(ctx, o.ID, f.pho.ID, 1)
	assert.ErrorIs(t, err, ErrConflict)
	_, err = f.svc.Checkout(ctx, o.ID, "PAYPAL")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func settlement(o *Order, ref string, success bool, amount decimal.Decimal) Settlement {
	code := "0"
	if !success {
		code = "1006"
	}
	return Settlement{OrderID: o.ID, Gateway: "momo", GatewayRef: ref, OrderRef: "x", ResultCode: code,
		Success: success, Amount: amount}
}

func TestSettlePaidThenDuplicateThenIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t)
	o, err := f.svc.Checkout(ctx, o.ID, "WALLET")
	require.NoError(t, err)

	res, err := f.svc.Settle(ctx, settlement(o, "T1", true, d(130000)))
	require.NoError(t, err)
	assert.Equal(t, OutcomePaid, res.Outcome)
	assert.Equal(t, PaymentPaid, res.Order.PaymentStatus)
	assert.Equal(t, StatusConfirmed, res.Order.Status)

	res, err = f.svc.Settle(ctx, settlement(o, "T1", true, d(130000)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)

	res, err = f.svc.Settle(ctx, settlement(o, "T2", false, d(130000)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	assert.Equal(t, PaymentPaid, res.Order.PaymentStatus)

	ledger, err := f.svc.Payments(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, ledger, 2)
	assert.Equal(t, OutcomePaid, ledger[0].Outcome)
	assert.Equal(t, OutcomeIgnored, ledger[1].Outcome)

	settled := 0
	for _, typ := range f.events.types() {
		if typ == EventPaymentSettled {
			settled++
		}
	}
	assert.Equal(t, 1, settled)
}

func TestSettleFailureIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t)
	o, err := f.svc.Checkout(ctx, o.ID, "BANK")
	require.NoError(t, err)

	res, err := f.svc.Settle(ctx, settlement(o, "x:24", false, d(130000)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, StatusCancelled, res.Order.Status)

	res, err = f.svc.Settle(ctx, settlement(o, "x:24", false, d(130000)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)
	assert.Equal(t, PaymentFailed, res.Order.PaymentStatus)
}

func TestSettleAmountMismatchLeavesOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t)
	o, err := f.svc.Checkout(ctx, o.ID, "WALLET")
	require.NoError(t, err)

	res, err := f.svc.Settle(ctx, settlement(o, "T9", true, d(100000)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeMismatch, res.Outcome)

	got, err := f.svc.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, PaymentUnpaid, got.PaymentStatus)
	assert.Equal(t, StatusPending, got.Status)

	ledger, err := f.svc.Payments(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, ledger, 1)
	assert.Equal(t, OutcomeMismatch, ledger[0].Outcome)
}

func TestSettleUnknownOrder(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Settle(context.Background(), Settlement{OrderID: 77, Gateway: "vnpay", GatewayRef: "1", Success: true})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.Settle(context.Background(), Settlement{OrderID: 77, Gateway: "vnpay"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDeleteOrderReturnsVoucherUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t)
	v := f.voucher(t, Voucher{Code: "FLAT5K", DiscountType: DiscountFixed, DiscountValue: d(5000), Quantity: 1})
	_, err := f.svc.ApplyVoucher(ctx, o.ID, v.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, f.voucherQty(t, v.ID))

	require.NoError(t, f.svc.DeleteOrder(ctx, o.ID))
	assert.Equal(t, 1, f.voucherQty(t, v.ID))
	_, err = f.svc.GetOrder(ctx, o.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	types := f.events.types()
	assert.Equal(t, EventOrderDeleted, types[len(types)-1])
}

func TestDeleteCheckedOutOrderConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t)
	_, err := f.svc.Checkout(ctx, o.ID, "COD")
	require.NoError(t, err)
	assert.ErrorIs(t, f.svc.DeleteOrder(ctx, o.ID), ErrConflict)
}

func TestFulfillmentAndOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t)
	_, err := f.svc.Checkout(ctx, o.ID, "COD")
	require.NoError(t, err)

	for _, s := range []string{"preparing", "ready"} {
		o, err = f.svc.ChangeStatus(ctx, o.ID, s)
		require.NoError(t, err)
	}
	o, err = f.svc.ConfirmDelivery(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, o.Status)
	assert.Equal(t, PaymentPaid, o.PaymentStatus)

	o, err = f.svc.OverridePaymentStatus(ctx, o.ID, "failed")
	require.NoError(t, err)
	assert.Equal(t, PaymentFailed, o.PaymentStatus)
	assert.Equal(t, StatusDelivered, o.Status)

	_, err = f.svc.ChangeStatus(ctx, o.ID, "cancelled")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestConfirmDeliveryOnOpenCartConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, err := f.svc.CreateOrder(ctx, NewOrder{SessionID: "s-empty"})
	require.NoError(t, err)

	_, err = f.svc.ConfirmDelivery(ctx, o.ID)
	assert.ErrorIs(t, err, ErrConflict)

	got, err := f.svc.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, PaymentUnpaid, got.PaymentStatus)
	assert.Equal(t, StatusPending, got.Status)

	// cart tetap bisa dipakai
	_, err = f.svc.AddLine(ctx, o.ID, f.pho.ID, 1)
	require.NoError(t, err)
	got, err = f.svc.Checkout(ctx, o.ID, "COD")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got.Status)
}

func TestEventsCarrySnapshot(t *testing.T) {
	f := newFixture(t)
	o := f.order(t)

	f.events.mu.Lock()
	last := f.events.events[len(f.events.events)-1]
	f.events.mu.Unlock()

	assert.Equal(t, EventOrderRepriced, last.EventType)
	assert.Equal(t, "order-api-test", last.Producer)
	assert.NotEmpty(t, last.EventID)

	var snap StatusSnapshot
	require.NoError(t, json.Unmarshal(last.Payload, &snap))
	assert.Equal(t, o.ID, snap.OrderID)
	assert.True(t, snap.TotalPrice.Equal(d(130000)))
	assert.Equal(t, EventOrderCreated, f.events.types()[0])
}

func TestVoucherAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := &Voucher{Code: " NEW ", DiscountType: DiscountFixed, DiscountValue: d(1000), Quantity: 1,
		Active: true, StartDate: day(2025, 1, 1), EndDate: day(2025, 12, 31)}
	require.NoError(t, f.svc.CreateVoucher(ctx, v))
	assert.Equal(t, "NEW", v.Code)

	dup := *v
	dup.Code = "new"
	assert.ErrorIs(t, f.svc.CreateVoucher(ctx, &dup), ErrConflict)

	upd := *v
	upd.Quantity = 10
	got, err := f.svc.UpdateVoucher(ctx, v.ID, &upd)
	require.NoError(t, err)
	assert.Equal(t, 10, got.Quantity)

	got, err = f.svc.ToggleVoucher(ctx, v.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	all, err := f.svc.ListVouchers(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	valid, err := f.svc.ListVouchers(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, valid)
}

func TestMemStoreRollsBackFailedTx(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	err := store.InTx(ctx, func(tx Tx) error {
		require.NoError(t, tx.CreateOrder(ctx, &Order{Status: StatusPending}))
		return conflict("boom")
	})
	assert.ErrorIs(t, err, ErrConflict)

	list, err := store.ListOrders(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, list)

	// sequence ikut di-rollback
	require.NoError(t, store.InTx(ctx, func(tx Tx) error {
		o := &Order{Status: StatusPending}
		if err := tx.CreateOrder(ctx, o); err != nil {
			return err
		}
		assert.Equal(t, int64(1), o.ID)
		return nil
	}))
}
