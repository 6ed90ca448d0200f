package orders

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	kafkax "github.com/ariefcatur/go-food-orders/internal/kafka"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// EventPublisher is satisfied by *kafka.Producer.
type EventPublisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type Service struct {
	Store       Store
	Events      EventPublisher // boleh nil
	Logger      *zap.Logger
	ServiceName string
	Now         func() time.Time
	Location    *time.Location // zona untuk masa berlaku voucher
}

type NewOrder struct {
	CustomerID *int64
	SessionID  string
}

// Settlement is a verified gateway notification ready to be applied.
type Settlement struct {
	OrderID    int64
	Gateway    string
	GatewayRef string
	OrderRef   string
	ResultCode string
	Success    bool
	Amount     decimal.Decimal
}

type SettleResult struct {
	Order   *Order
	Outcome SettleOutcome
}

type VoucherPreview struct {
	Valid    bool            `json:"valid"`
	Discount decimal.Decimal `json:"discount"`
	Message  string          `json:"message"`
	Voucher  *Voucher        `json:"voucher,omitempty"`
}

func (s *Service) CreateOrder(ctx context.Context, in NewOrder) (*Order, error) {
	now := s.now()
	o := &Order{
		CustomerID:    in.CustomerID,
		SessionID:     in.SessionID,
		Status:        StatusPending,
		PaymentMethod: MethodCOD,
		PaymentStatus: PaymentUnpaid,
		TotalPrice:    decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.Store.InTx(ctx, func(tx Tx) error {
		return tx.CreateOrder(ctx, o)
	}); err != nil {
		return nil, err
	}
	s.emit(EventOrderCreated, o, "")
	return o, nil
}

func (s *Service) GetOrder(ctx context.Context, id int64) (*Order, error) {
	return s.Store.GetOrder(ctx, id)
}

func (s *Service) ListOrders(ctx context.Context, limit int) ([]Order, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.Store.ListOrders(ctx, limit)
}

func (s *Service) Payments(ctx context.Context, orderID int64) ([]PaymentRecord, error) {
	if _, err := s.Store.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return s.Store.ListPayments(ctx, orderID)
}

func (s *Service) AddLine(ctx context.Context, orderID, productID int64, qty int) (*Order, error) {
	if qty < 1 {
		return nil, invalid("quantity must be at least 1")
	}
	return s.mutate(ctx, orderID, EventOrderRepriced, func(tx Tx, o *Order) error {
		if err := o.editable(); err != nil {
			return err
		}
		p, err := tx.Product(ctx, productID)
		if err != nil {
			return err
		}
		if !p.Available {
			return conflict("product %d is not available", productID)
		}
		if l := o.lineByProduct(productID); l != nil {
			l.Quantity += qty
		} else {
			o.Lines = append(o.Lines, OrderLine{OrderID: o.ID, ProductID: productID, Quantity: qty})
		}
		return s.reprice(ctx, tx, o)
	})
}

func (s *Service) UpdateLine(ctx context.Context, orderID, lineID int64, qty int) (*Order, error) {
	if qty < 1 {
		return nil, invalid("quantity must be at least 1")
	}
	return s.mutate(ctx, orderID, EventOrderRepriced, func(tx Tx, o *Order) error {
		if err := o.editable(); err != nil {
			return err
		}
		i := o.lineIndex(lineID)
		if i < 0 {
			return notFound("line %d not found in order %d", lineID, orderID)
		}
		o.Lines[i].Quantity = qty
		return s.reprice(ctx, tx, o)
	})
}

func (s *Service) RemoveLine(ctx context.Context, orderID, lineID int64) (*Order, error) {
	return s.mutate(ctx, orderID, EventOrderRepriced, func(tx Tx, o *Order) error {
		if err := o.editable(); err != nil {
			return err
		}
		i := o.lineIndex(lineID)
		if i < 0 {
			return notFound("line %d not found in order %d", lineID, orderID)
		}
		o.Lines = append(o.Lines[:i], o.Lines[i+1:]...)
		return s.reprice(ctx, tx, o)
	})
}

// DeleteOrder removes a cart that was never checked out, together with its
// lines, its applied voucher (whose use is given back) and its ledger rows.
func (s *Service) DeleteOrder(ctx context.Context, id int64) error {
	var deleted *Order
	err := s.Store.InTx(ctx, func(tx Tx) error {
		o, err := tx.LockOrder(ctx, id)
		if err != nil {
			return err
		}
		if o.Status != StatusPending || o.PaymentStatus != PaymentUnpaid {
			return conflict("order %d is %s/%s and cannot be deleted", id, o.Status, o.PaymentStatus)
		}
		if o.Voucher != nil {
			if err := s.releaseVoucher(ctx, tx, o.Voucher.VoucherID); err != nil {
				return err
			}
		}
		if err := tx.DeleteOrder(ctx, id); err != nil {
			return err
		}
		deleted = o
		return nil
	})
	if err != nil {
		return err
	}
	deleted.UpdatedAt = s.now()
	s.emit(EventOrderDeleted, deleted, "deleted")
	return nil
}

// PreviewVoucher evaluates code against orderValue without consuming it.
func (s *Service) PreviewVoucher(ctx context.Context, code string, orderValue decimal.Decimal) (*VoucherPreview, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, invalid("code is required")
	}
	if orderValue.IsNegative() {
		return nil, invalid("order value cannot be negative")
	}
	v, err := s.Store.VoucherByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	today := s.today()
	if err := Check(v, orderValue, today); err != nil {
		return &VoucherPreview{Valid: false, Discount: decimal.Zero, Message: err.Error()}, nil
	}
	return &VoucherPreview{
		Valid:    true,
		Discount: Evaluate(v, orderValue, today),
		Message:  "voucher applied",
		Voucher:  v,
	}, nil
}

// ApplyVoucher attaches voucherID to the order and consumes one use of it.
// Re-applying the voucher already on the order is a no-op, so the quantity
// is decremented at most once per order. When expected is set it must match
// the discount computed now.
func (s *Service) ApplyVoucher(ctx context.Context, orderID, voucherID int64, expected *decimal.Decimal) (*Order, error) {
	if voucherID <= 0 {
		return nil, invalid("voucherId is required")
	}
	var unchanged bool
	o, err := s.mutate(ctx, orderID, EventOrderRepriced, func(tx Tx, o *Order) error {
		if err := o.editable(); err != nil {
			return err
		}
		if o.Voucher != nil && o.Voucher.VoucherID == voucherID {
			unchanged = true
			return nil
		}
		if len(o.Lines) == 0 {
			return conflict("order %d has no items", o.ID)
		}
		prices, err := tx.Prices(ctx, o.productIDs())
		if err != nil {
			return err
		}
		Recompute(o, prices)

		// kunci voucher berurutan id supaya dua order yang saling tukar voucher tidak deadlock
		var old *Voucher
		locked, err := s.lockVouchers(ctx, tx, voucherID, o.Voucher)
		if err != nil {
			return err
		}
		v := locked[voucherID]
		if o.Voucher != nil {
			old = locked[o.Voucher.VoucherID]
		}

		today := s.today()
		subtotal := o.Subtotal()
		if err := Check(v, subtotal, today); err != nil {
			return err
		}
		discount := Evaluate(v, subtotal, today)
		if expected != nil && !expected.Equal(discount) {
			return conflict("discount for voucher %s is now %s, validate it again", v.Code, discount.String())
		}

		if old != nil {
			old.Quantity++
			old.UpdatedAt = s.now()
			if err := tx.UpdateVoucher(ctx, old); err != nil {
				return err
			}
		}
		v.Quantity--
		v.UpdatedAt = s.now()
		if err := tx.UpdateVoucher(ctx, v); err != nil {
			return err
		}
		o.Voucher = &AppliedVoucher{VoucherID: v.ID, Code: v.Code, DiscountAmount: discount, AppliedAt: s.now()}
		Recompute(o, prices)
		return nil
	}, func() bool { return !unchanged })
	return o, err
}

func (s *Service) RemoveVoucher(ctx context.Context, orderID int64) (*Order, error) {
	return s.mutate(ctx, orderID, EventOrderRepriced, func(tx Tx, o *Order) error {
		if err := o.editable(); err != nil {
			return err
		}
		if o.Voucher == nil {
			return notFound("order %d has no voucher", orderID)
		}
		if err := s.releaseVoucher(ctx, tx, o.Voucher.VoucherID); err != nil {
			return err
		}
		o.Voucher = nil
		return s.reprice(ctx, tx, o)
	})
}

// Checkout records the payment method. It does not talk to any gateway.
func (s *Service) Checkout(ctx context.Context, orderID int64, method string) (*Order, error) {
	m, err := ParsePaymentMethod(method)
	if err != nil {
		return nil, err
	}
	var unchanged bool
	return s.mutate(ctx, orderID, EventOrderCheckedOut, func(tx Tx, o *Order) error {
		// COD yang diulang: kembalikan order apa adanya
		if m == MethodCOD && o.PaymentMethod == MethodCOD && o.Status == StatusConfirmed && o.PaymentStatus == PaymentUnpaid {
			unchanged = true
			return nil
		}
		return o.checkout(m)
	}, func() bool { return !unchanged })
}

// ReopenCart puts a cart frozen by a redirect checkout back into editing when
// the gateway never issued a link. It is a no-op once the order moved on.
func (s *Service) ReopenCart(ctx context.Context, orderID int64, m PaymentMethod) (*Order, error) {
	var reopened bool
	return s.mutate(ctx, orderID, EventCheckoutReverted, func(tx Tx, o *Order) error {
		reopened = o.reopen(m)
		return nil
	}, func() bool { return reopened })
}

// ChangeStatus is the staff fulfillment transition.
func (s *Service) ChangeStatus(ctx context.Context, orderID int64, status string) (*Order, error) {
	to, err := ParseStatus(status)
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, orderID, EventOrderStatusChanged, func(tx Tx, o *Order) error {
		return o.changeStatus(to)
	})
}

// OverridePaymentStatus is the trusted staff escape hatch: no verification and
// no transition rules.
func (s *Service) OverridePaymentStatus(ctx context.Context, orderID int64, status string) (*Order, error) {
	ps, err := ParsePaymentStatus(status)
	if err != nil {
		return nil, err
	}
	o, err := s.mutate(ctx, orderID, EventPaymentOverridden, func(tx Tx, o *Order) error {
		o.PaymentStatus = ps
		return nil
	})
	if err == nil {
		s.log().Warn("payment status overridden by staff",
			zap.Int64("order_id", orderID), zap.String("payment_status", string(ps)))
	}
	return o, err
}

func (s *Service) ConfirmDelivery(ctx context.Context, orderID int64) (*Order, error) {
	return s.mutate(ctx, orderID, EventPaymentSettled, func(tx Tx, o *Order) error {
		return o.confirmDelivery()
	})
}

// Settle applies a verified gateway notification exactly once per
// (order, gateway, gateway ref). The ledger row and the order change commit
// together; totals are never recomputed here.
func (s *Service) Settle(ctx context.Context, n Settlement) (*SettleResult, error) {
	if n.Gateway == "" || n.GatewayRef == "" {
		return nil, invalid("gateway and gateway reference are required")
	}
	res := &SettleResult{}
	err := s.Store.InTx(ctx, func(tx Tx) error {
		o, err := tx.LockOrder(ctx, n.OrderID)
		if err != nil {
			return err
		}
		now := s.now()
		outcome := OutcomeIgnored
		next := o.clone()
		switch {
		case n.Success && o.PaymentStatus == PaymentUnpaid && !n.Amount.Round(0).Equal(o.TotalPrice.Round(0)):
			outcome = OutcomeMismatch
		default:
			outcome = next.settle(n.Success)
		}

		inserted, err := tx.RecordPayment(ctx, &PaymentRecord{
			OrderID:    o.ID,
			Gateway:    n.Gateway,
			GatewayRef: n.GatewayRef,
			OrderRef:   n.OrderRef,
			ResultCode: n.ResultCode,
			Success:    n.Success,
			Amount:     n.Amount,
			Outcome:    outcome,
			CreatedAt:  now,
		})
		if err != nil {
			return err
		}
		if !inserted {
			res.Order, res.Outcome = o, OutcomeDuplicate
			return nil
		}
		if outcome == OutcomePaid || outcome == OutcomeFailed {
			next.UpdatedAt = now
			if err := tx.SaveOrder(ctx, next); err != nil {
				return err
			}
			res.Order = next
		} else {
			res.Order = o
		}
		res.Outcome = outcome
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res.Outcome == OutcomePaid || res.Outcome == OutcomeFailed {
		s.emit(EventPaymentSettled, res.Order, n.Gateway+":"+n.ResultCode)
	}
	return res, nil
}

func (s *Service) GetProduct(ctx context.Context, id int64) (*Product, error) {
	return s.Store.GetProduct(ctx, id)
}

func (s *Service) ListProducts(ctx context.Context) ([]Product, error) {
	return s.Store.ListProducts(ctx)
}

func (s *Service) GetVoucher(ctx context.Context, id int64) (*Voucher, error) {
	return s.Store.GetVoucher(ctx, id)
}

// ListVouchers returns every voucher, or only the ones usable today.
func (s *Service) ListVouchers(ctx context.Context, onlyValid bool) ([]Voucher, error) {
	all, err := s.Store.ListVouchers(ctx)
	if err != nil || !onlyValid {
		return all, err
	}
	today := s.today()
	out := make([]Voucher, 0, len(all))
	for _, v := range all {
		if Check(&v, v.MinOrderValue, today) == nil {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *Service) CreateVoucher(ctx context.Context, v *Voucher) error {
	v.Code = strings.TrimSpace(v.Code)
	if err := ValidateVoucher(v); err != nil {
		return err
	}
	now := s.now()
	v.CreatedAt, v.UpdatedAt = now, now
	return s.Store.InTx(ctx, func(tx Tx) error {
		taken, err := tx.VoucherCodeTaken(ctx, v.Code, 0)
		if err != nil {
			return err
		}
		if taken {
			return conflict("voucher code %s already exists", v.Code)
		}
		return tx.InsertVoucher(ctx, v)
	})
}

func (s *Service) UpdateVoucher(ctx context.Context, id int64, in *Voucher) (*Voucher, error) {
	in.Code = strings.TrimSpace(in.Code)
	if err := ValidateVoucher(in); err != nil {
		return nil, err
	}
	var out *Voucher
	err := s.Store.InTx(ctx, func(tx Tx) error {
		v, err := tx.LockVoucher(ctx, id)
		if err != nil {
			return err
		}
		if in.Code != v.Code {
			taken, err := tx.VoucherCodeTaken(ctx, in.Code, id)
			if err != nil {
				return err
			}
			if taken {
				return conflict("voucher code %s already exists", in.Code)
			}
		}
		updated := *in
		updated.ID = v.ID
		updated.CreatedAt = v.CreatedAt
		updated.UpdatedAt = s.now()
		if err := tx.UpdateVoucher(ctx, &updated); err != nil {
			return err
		}
		out = &updated
		return nil
	})
	return out, err
}

func (s *Service) ToggleVoucher(ctx context.Context, id int64) (*Voucher, error) {
	var out *Voucher
	err := s.Store.InTx(ctx, func(tx Tx) error {
		v, err := tx.LockVoucher(ctx, id)
		if err != nil {
			return err
		}
		v.Active = !v.Active
		v.UpdatedAt = s.now()
		out = v
		return tx.UpdateVoucher(ctx, v)
	})
	return out, err
}

// mutate locks the order, runs fn and saves the result in one transaction.
// The optional changed callback lets fn signal a no-op, which skips the save
// and the event.
func (s *Service) mutate(ctx context.Context, orderID int64, event string, fn func(tx Tx, o *Order) error, changed ...func() bool) (*Order, error) {
	var out *Order
	var saved bool
	err := s.Store.InTx(ctx, func(tx Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := fn(tx, o); err != nil {
			return err
		}
		out = o
		for _, c := range changed {
			if !c() {
				return nil
			}
		}
		o.UpdatedAt = s.now()
		saved = true
		return tx.SaveOrder(ctx, o)
	})
	if err != nil {
		return nil, err
	}
	if saved {
		s.emit(event, out, "")
	}
	return out, nil
}

func (s *Service) reprice(ctx context.Context, tx Tx, o *Order) error {
	prices, err := tx.Prices(ctx, o.productIDs())
	if err != nil {
		return err
	}
	Recompute(o, prices)
	return nil
}

func (s *Service) lockVouchers(ctx context.Context, tx Tx, id int64, current *AppliedVoucher) (map[int64]*Voucher, error) {
	ids := []int64{id}
	if current != nil && current.VoucherID != id {
		ids = append(ids, current.VoucherID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make(map[int64]*Voucher, len(ids))
	for _, vid := range ids {
		v, err := tx.LockVoucher(ctx, vid)
		if err != nil {
			// voucher lama boleh sudah hilang
			if vid != id && errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		out[vid] = v
	}
	return out, nil
}

func (s *Service) releaseVoucher(ctx context.Context, tx Tx, voucherID int64) error {
	v, err := tx.LockVoucher(ctx, voucherID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	v.Quantity++
	v.UpdatedAt = s.now()
	return tx.UpdateVoucher(ctx, v)
}

func (s *Service) emit(eventType string, o *Order, reason string) {
	if s.Events == nil {
		return
	}
	snap := SnapshotOf(o)
	snap.Reason = reason
	snap.Deleted = eventType == EventOrderDeleted
	ev := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    s.now(),
		Producer:      s.ServiceName,
		CorrelationID: formatID(o.ID),
		Payload:       kafkax.MustMarshal(snap),
	}
	s.Events.Publish(PartitionKey(o.ID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) today() time.Time {
	t := s.now()
	if s.Location != nil {
		t = t.In(s.Location)
	}
	return t
}

func (s *Service) log() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func formatID(id int64) string { return strconv.FormatInt(id, 10) }
