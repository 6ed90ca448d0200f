package orders

import "github.com/shopspring/decimal"

// Recompute re-prices every line from prices (product id -> current unit
// price) and derives TotalPrice as the line sum minus the frozen voucher
// discount, floored at zero. A line whose product is missing from prices keeps
// its previous subtotal.
func Recompute(o *Order, prices map[int64]decimal.Decimal) {
	for i := range o.Lines {
		l := &o.Lines[i]
		if p, ok := prices[l.ProductID]; ok {
			l.Subtotal = p.Mul(decimal.NewFromInt(int64(l.Quantity)))
		}
	}
	total := o.Subtotal()
	if o.Voucher != nil {
		total = total.Sub(o.Voucher.DiscountAmount)
	}
	if total.IsNegative() {
		total = decimal.Zero
	}
	o.TotalPrice = total
}
