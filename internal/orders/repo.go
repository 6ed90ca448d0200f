package orders

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PgStore is the Postgres Store. Row locks are taken with SELECT ... FOR UPDATE
// and released on commit.
type PgStore struct{ DB *pgxpool.Pool }

func (r *PgStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const orderCols = `id, customer_id, session_id, status, payment_method, payment_status, total_price, created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var status, method, pstatus string
	err := row.Scan(&o.ID, &o.CustomerID, &o.SessionID, &status, &method, &pstatus, &o.TotalPrice, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.Status, o.PaymentMethod, o.PaymentStatus = Status(status), PaymentMethod(method), PaymentStatus(pstatus)
	return &o, nil
}

func loadOrder(ctx context.Context, q querier, id int64, lock bool) (*Order, error) {
	sql := `SELECT ` + orderCols + ` FROM orders WHERE id=$1`
	if lock {
		sql += ` FOR UPDATE`
	}
	o, err := scanOrder(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("order %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	if err := attachDetails(ctx, q, []*Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

// attachDetails fills lines and the applied voucher for every order in os.
func attachDetails(ctx context.Context, q querier, os []*Order) error {
	if len(os) == 0 {
		return nil
	}
	byID := make(map[int64]*Order, len(os))
	ids := make([]int64, 0, len(os))
	for _, o := range os {
		o.Lines = []OrderLine{}
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}

	rows, err := q.Query(ctx, `
		SELECT id, order_id, product_id, quantity, subtotal
		FROM order_lines WHERE order_id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return err
	}
	for rows.Next() {
		var l OrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.Quantity, &l.Subtotal); err != nil {
			rows.Close()
			return err
		}
		byID[l.OrderID].Lines = append(byID[l.OrderID].Lines, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = q.Query(ctx, `
		SELECT order_id, voucher_id, code, discount_amount, applied_at
		FROM order_vouchers WHERE order_id = ANY($1)`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var orderID int64
		var v AppliedVoucher
		if err := rows.Scan(&orderID, &v.VoucherID, &v.Code, &v.DiscountAmount, &v.AppliedAt); err != nil {
			return err
		}
		byID[orderID].Voucher = &v
	}
	return rows.Err()
}

func (r *PgStore) GetOrder(ctx context.Context, id int64) (*Order, error) {
	return loadOrder(ctx, r.DB, id, false)
}

func (r *PgStore) ListOrders(ctx context.Context, limit int) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+orderCols+` FROM orders ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	var list []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		list = append(list, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := attachDetails(ctx, r.DB, list); err != nil {
		return nil, err
	}
	out := make([]Order, 0, len(list))
	for _, o := range list {
		out = append(out, *o)
	}
	return out, nil
}

const productCols = `id, name, unit_price, available, created_at, updated_at`

func scanProduct(row pgx.Row) (*Product, error) {
	var p Product
	if err := row.Scan(&p.ID, &p.Name, &p.UnitPrice, &p.Available, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func getProduct(ctx context.Context, q querier, id int64) (*Product, error) {
	p, err := scanProduct(q.QueryRow(ctx, `SELECT `+productCols+` FROM products WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("product %d not found", id)
	}
	return p, err
}

func (r *PgStore) GetProduct(ctx context.Context, id int64) (*Product, error) {
	return getProduct(ctx, r.DB, id)
}

func (r *PgStore) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+productCols+` FROM products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

const voucherCols = `id, code, discount_type, discount_value, min_order_value, max_discount, quantity, active, start_date, end_date, created_at, updated_at`

func scanVoucher(row pgx.Row) (*Voucher, error) {
	var v Voucher
	var dt string
	var max decimal.NullDecimal
	err := row.Scan(&v.ID, &v.Code, &dt, &v.DiscountValue, &v.MinOrderValue, &max, &v.Quantity, &v.Active,
		&v.StartDate, &v.EndDate, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	v.DiscountType = DiscountType(dt)
	if max.Valid {
		v.MaxDiscount = &max.Decimal
	}
	return &v, nil
}

func voucherWhere(ctx context.Context, q querier, label, where string, arg any) (*Voucher, error) {
	v, err := scanVoucher(q.QueryRow(ctx, `SELECT `+voucherCols+` FROM vouchers WHERE `+where, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("voucher %s not found", label)
	}
	return v, err
}

func (r *PgStore) GetVoucher(ctx context.Context, id int64) (*Voucher, error) {
	return voucherWhere(ctx, r.DB, formatID(id), `id=$1`, id)
}

func (r *PgStore) VoucherByCode(ctx context.Context, code string) (*Voucher, error) {
	return voucherWhere(ctx, r.DB, code, `lower(code)=lower($1)`, code)
}

func (r *PgStore) ListVouchers(ctx context.Context) ([]Voucher, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+voucherCols+` FROM vouchers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Voucher
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

func (r *PgStore) ListPayments(ctx context.Context, orderID int64) ([]PaymentRecord, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT order_id, gateway, gateway_ref, order_ref, result_code, success, amount, outcome, created_at
		FROM payment_transactions WHERE order_id=$1 ORDER BY created_at, gateway_ref`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PaymentRecord
	for rows.Next() {
		var p PaymentRecord
		var outcome string
		if err := rows.Scan(&p.OrderID, &p.Gateway, &p.GatewayRef, &p.OrderRef, &p.ResultCode, &p.Success,
			&p.Amount, &outcome, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Outcome = SettleOutcome(outcome)
		out = append(out, p)
	}
	return out, rows.Err()
}

type pgTx struct{ q querier }

func (t *pgTx) CreateOrder(ctx context.Context, o *Order) error {
	return t.q.QueryRow(ctx, `
		INSERT INTO orders(customer_id, session_id, status, payment_method, payment_status, total_price, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id`,
		o.CustomerID, o.SessionID, string(o.Status), string(o.PaymentMethod), string(o.PaymentStatus),
		o.TotalPrice, o.CreatedAt, o.UpdatedAt,
	).Scan(&o.ID)
}

func (t *pgTx) LockOrder(ctx context.Context, id int64) (*Order, error) {
	return loadOrder(ctx, t.q, id, true)
}

func (t *pgTx) SaveOrder(ctx context.Context, o *Order) error {
	ct, err := t.q.Exec(ctx, `
		UPDATE orders SET status=$2, payment_method=$3, payment_status=$4, total_price=$5, updated_at=$6
		WHERE id=$1`,
		o.ID, string(o.Status), string(o.PaymentMethod), string(o.PaymentStatus), o.TotalPrice, o.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return notFound("order %d not found", o.ID)
	}

	keep := make([]int64, 0, len(o.Lines))
	for _, l := range o.Lines {
		if l.ID != 0 {
			keep = append(keep, l.ID)
		}
	}
	if _, err := t.q.Exec(ctx, `DELETE FROM order_lines WHERE order_id=$1 AND NOT (id = ANY($2))`, o.ID, keep); err != nil {
		return err
	}
	for i := range o.Lines {
		l := &o.Lines[i]
		l.OrderID = o.ID
		if l.ID == 0 {
			err = t.q.QueryRow(ctx, `
				INSERT INTO order_lines(order_id, product_id, quantity, subtotal)
				VALUES ($1,$2,$3,$4) RETURNING id`,
				o.ID, l.ProductID, l.Quantity, l.Subtotal).Scan(&l.ID)
		} else {
			_, err = t.q.Exec(ctx, `UPDATE order_lines SET quantity=$3, subtotal=$4 WHERE id=$1 AND order_id=$2`,
				l.ID, o.ID, l.Quantity, l.Subtotal)
		}
		if err != nil {
			return err
		}
	}

	if _, err := t.q.Exec(ctx, `DELETE FROM order_vouchers WHERE order_id=$1`, o.ID); err != nil {
		return err
	}
	if v := o.Voucher; v != nil {
		if _, err := t.q.Exec(ctx, `
			INSERT INTO order_vouchers(order_id, voucher_id, code, discount_amount, applied_at)
			VALUES ($1,$2,$3,$4,$5)`,
			o.ID, v.VoucherID, v.Code, v.DiscountAmount, v.AppliedAt); err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) DeleteOrder(ctx context.Context, id int64) error {
	for _, sql := range []string{
		`DELETE FROM payment_transactions WHERE order_id=$1`,
		`DELETE FROM order_vouchers WHERE order_id=$1`,
		`DELETE FROM order_lines WHERE order_id=$1`,
		`DELETE FROM orders WHERE id=$1`,
	} {
		if _, err := t.q.Exec(ctx, sql, id); err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) Product(ctx context.Context, id int64) (*Product, error) {
	return getProduct(ctx, t.q, id)
}

// Prices reads current unit prices; ids missing from the catalog are absent
// from the result.
func (t *pgTx) Prices(ctx context.Context, ids []int64) (map[int64]decimal.Decimal, error) {
	out := make(map[int64]decimal.Decimal, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := t.q.Query(ctx, `SELECT id, unit_price FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var price decimal.Decimal
		if err := rows.Scan(&id, &price); err != nil {
			return nil, err
		}
		out[id] = price
	}
	return out, rows.Err()
}

func (t *pgTx) LockVoucher(ctx context.Context, id int64) (*Voucher, error) {
	return voucherWhere(ctx, t.q, formatID(id), `id=$1 FOR UPDATE`, id)
}

func (t *pgTx) VoucherCodeTaken(ctx context.Context, code string, exceptID int64) (bool, error) {
	var taken bool
	err := t.q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM vouchers WHERE lower(code)=lower($1) AND id<>$2)`,
		code, exceptID).Scan(&taken)
	return taken, err
}

func (t *pgTx) InsertVoucher(ctx context.Context, v *Voucher) error {
	err := t.q.QueryRow(ctx, `
		INSERT INTO vouchers(code, discount_type, discount_value, min_order_value, max_discount, quantity, active,
		                     start_date, end_date, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING id`,
		v.Code, string(v.DiscountType), v.DiscountValue, v.MinOrderValue, nullDecimal(v.MaxDiscount), v.Quantity,
		v.Active, dateOnly(v.StartDate), dateOnly(v.EndDate), v.CreatedAt, v.UpdatedAt,
	).Scan(&v.ID)
	return uniqueToConflict(err, "voucher code %s already exists", v.Code)
}

func (t *pgTx) UpdateVoucher(ctx context.Context, v *Voucher) error {
	ct, err := t.q.Exec(ctx, `
		UPDATE vouchers SET code=$2, discount_type=$3, discount_value=$4, min_order_value=$5, max_discount=$6,
		       quantity=$7, active=$8, start_date=$9, end_date=$10, updated_at=$11
		WHERE id=$1`,
		v.ID, v.Code, string(v.DiscountType), v.DiscountValue, v.MinOrderValue, nullDecimal(v.MaxDiscount),
		v.Quantity, v.Active, dateOnly(v.StartDate), dateOnly(v.EndDate), v.UpdatedAt)
	if err != nil {
		return uniqueToConflict(err, "voucher code %s already exists", v.Code)
	}
	if ct.RowsAffected() != 1 {
		return notFound("voucher %d not found", v.ID)
	}
	return nil
}

// RecordPayment relies on the unique key (order_id, gateway, gateway_ref):
// ON CONFLICT DO NOTHING affects zero rows for a replay.
func (t *pgTx) RecordPayment(ctx context.Context, rec *PaymentRecord) (bool, error) {
	ct, err := t.q.Exec(ctx, `
		INSERT INTO payment_transactions(order_id, gateway, gateway_ref, order_ref, result_code, success, amount, outcome, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (order_id, gateway, gateway_ref) DO NOTHING`,
		rec.OrderID, rec.Gateway, rec.GatewayRef, rec.OrderRef, rec.ResultCode, rec.Success, rec.Amount,
		string(rec.Outcome), rec.CreatedAt)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func dateOnly(t time.Time) string { return t.Format(time.DateOnly) }

func uniqueToConflict(err error, format string, args ...any) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return conflict(format, args...)
	}
	return err
}
