package orders

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// MemStore is a Store kept in process memory. Transactions are serialized by
// one mutex and rolled back from a snapshot when fn fails. It backs local runs
// with STORE_DRIVER=memory and the package tests.
type MemStore struct {
	mu       sync.Mutex
	orders   map[int64]*Order
	products map[int64]*Product
	vouchers map[int64]*Voucher
	payments []PaymentRecord

	orderSeq, lineSeq, productSeq, voucherSeq int64
}

func NewMemStore() *MemStore {
	return &MemStore{
		orders:   make(map[int64]*Order),
		products: make(map[int64]*Product),
		vouchers: make(map[int64]*Voucher),
	}
}

// AddProduct seeds the catalog and returns the stored product.
func (m *MemStore) AddProduct(p Product) Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.productSeq++
	p.ID = m.productSeq
	m.products[p.ID] = &p
	return p
}

func (m *MemStore) SetPrice(productID int64, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.products[productID]; ok {
		p.UnitPrice = price
	}
}

// AddVoucher seeds a voucher without validation.
func (m *MemStore) AddVoucher(v Voucher) Voucher {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.voucherSeq++
	v.ID = m.voucherSeq
	c := v
	m.vouchers[v.ID] = &c
	return v
}

func (m *MemStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.snapshot()
	if err := fn(memTx{m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func (m *MemStore) GetOrder(_ context.Context, id int64) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, notFound("order %d not found", id)
	}
	return o.clone(), nil
}

func (m *MemStore) ListOrders(_ context.Context, limit int) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, *o.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) GetProduct(_ context.Context, id int64) (*Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.product(id)
}

func (m *MemStore) ListProducts(_ context.Context) ([]Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Product, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) GetVoucher(_ context.Context, id int64) (*Voucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vouchers[id]
	if !ok {
		return nil, notFound("voucher %d not found", id)
	}
	c := *v
	return &c, nil
}

func (m *MemStore) VoucherByCode(_ context.Context, code string) (*Voucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.vouchers {
		if strings.EqualFold(v.Code, code) {
			c := *v
			return &c, nil
		}
	}
	return nil, notFound("voucher %s not found", code)
}

func (m *MemStore) ListVouchers(_ context.Context) ([]Voucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Voucher, 0, len(m.vouchers))
	for _, v := range m.vouchers {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) ListPayments(_ context.Context, orderID int64) ([]PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PaymentRecord
	for _, p := range m.payments {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MemStore) product(id int64) (*Product, error) {
	p, ok := m.products[id]
	if !ok {
		return nil, notFound("product %d not found", id)
	}
	c := *p
	return &c, nil
}

type memSnapshot struct {
	orders   map[int64]*Order
	vouchers map[int64]*Voucher
	payments []PaymentRecord
	seqs     [4]int64
}

func (m *MemStore) snapshot() memSnapshot {
	s := memSnapshot{
		orders:   make(map[int64]*Order, len(m.orders)),
		vouchers: make(map[int64]*Voucher, len(m.vouchers)),
		payments: append([]PaymentRecord(nil), m.payments...),
		seqs:     [4]int64{m.orderSeq, m.lineSeq, m.productSeq, m.voucherSeq},
	}
	for id, o := range m.orders {
		s.orders[id] = o.clone()
	}
	for id, v := range m.vouchers {
		c := *v
		s.vouchers[id] = &c
	}
	return s
}

func (m *MemStore) restore(s memSnapshot) {
	m.orders, m.vouchers, m.payments = s.orders, s.vouchers, s.payments
	m.orderSeq, m.lineSeq, m.productSeq, m.voucherSeq = s.seqs[0], s.seqs[1], s.seqs[2], s.seqs[3]
}

// memTx runs with MemStore.mu held.
type memTx struct{ m *MemStore }

func (t memTx) CreateOrder(_ context.Context, o *Order) error {
	t.m.orderSeq++
	o.ID = t.m.orderSeq
	t.m.orders[o.ID] = o.clone()
	return nil
}

func (t memTx) LockOrder(_ context.Context, id int64) (*Order, error) {
	o, ok := t.m.orders[id]
	if !ok {
		return nil, notFound("order %d not found", id)
	}
	return o.clone(), nil
}

func (t memTx) SaveOrder(_ context.Context, o *Order) error {
	if _, ok := t.m.orders[o.ID]; !ok {
		return notFound("order %d not found", o.ID)
	}
	for i := range o.Lines {
		if o.Lines[i].ID == 0 {
			t.m.lineSeq++
			o.Lines[i].ID = t.m.lineSeq
		}
		o.Lines[i].OrderID = o.ID
	}
	t.m.orders[o.ID] = o.clone()
	return nil
}

func (t memTx) DeleteOrder(_ context.Context, id int64) error {
	delete(t.m.orders, id)
	kept := t.m.payments[:0]
	for _, p := range t.m.payments {
		if p.OrderID != id {
			kept = append(kept, p)
		}
	}
	t.m.payments = kept
	return nil
}

func (t memTx) Product(_ context.Context, id int64) (*Product, error) {
	return t.m.product(id)
}

func (t memTx) Prices(_ context.Context, ids []int64) (map[int64]decimal.Decimal, error) {
	out := make(map[int64]decimal.Decimal, len(ids))
	for _, id := range ids {
		if p, ok := t.m.products[id]; ok {
			out[id] = p.UnitPrice
		}
	}
	return out, nil
}

func (t memTx) LockVoucher(_ context.Context, id int64) (*Voucher, error) {
	v, ok := t.m.vouchers[id]
	if !ok {
		return nil, notFound("voucher %d not found", id)
	}
	c := *v
	return &c, nil
}

func (t memTx) VoucherCodeTaken(_ context.Context, code string, exceptID int64) (bool, error) {
	for _, v := range t.m.vouchers {
		if v.ID != exceptID && strings.EqualFold(v.Code, code) {
			return true, nil
		}
	}
	return false, nil
}

func (t memTx) InsertVoucher(_ context.Context, v *Voucher) error {
	t.m.voucherSeq++
	v.ID = t.m.voucherSeq
	c := *v
	t.m.vouchers[v.ID] = &c
	return nil
}

func (t memTx) UpdateVoucher(_ context.Context, v *Voucher) error {
	if _, ok := t.m.vouchers[v.ID]; !ok {
		return notFound("voucher %d not found", v.ID)
	}
	c := *v
	t.m.vouchers[v.ID] = &c
	return nil
}

func (t memTx) RecordPayment(_ context.Context, rec *PaymentRecord) (bool, error) {
	for _, p := range t.m.payments {
		if p.OrderID == rec.OrderID && p.Gateway == rec.Gateway && p.GatewayRef == rec.GatewayRef {
			return false, nil
		}
	}
	t.m.payments = append(t.m.payments, *rec)
	return true, nil
}
