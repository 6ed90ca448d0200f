package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// MoneyPlaces is the scale money columns are stored with.
const MoneyPlaces = 2

// Check reports why a voucher cannot be used for orderValue on day today, or
// nil when it can. It never mutates the voucher.
func Check(v *Voucher, orderValue decimal.Decimal, today time.Time) error {
	if !v.Active {
		return conflict("voucher %s is disabled", v.Code)
	}
	if v.Quantity <= 0 {
		return conflict("voucher %s has no remaining uses", v.Code)
	}
	d := dateOf(today)
	if d.Before(dateOf(v.StartDate)) {
		return conflict("voucher %s is not active yet", v.Code)
	}
	if d.After(dateOf(v.EndDate)) {
		return conflict("voucher %s has expired", v.Code)
	}
	if orderValue.LessThan(v.MinOrderValue) {
		return conflict("order value must be at least %s", v.MinOrderValue.String())
	}
	return nil
}

// Evaluate returns the discount v grants on orderValue, or zero when the
// voucher is not usable. Percentage discounts are rounded half up to
// MoneyPlaces. A fixed discount may exceed orderValue; the pricing step floors
// the total.
func Evaluate(v *Voucher, orderValue decimal.Decimal, today time.Time) decimal.Decimal {
	if Check(v, orderValue, today) != nil {
		return decimal.Zero
	}
	switch v.DiscountType {
	case DiscountPercentage:
		d := orderValue.Mul(v.DiscountValue).Div(hundred).Round(MoneyPlaces)
		if v.MaxDiscount != nil && d.GreaterThan(*v.MaxDiscount) {
			d = *v.MaxDiscount
		}
		return d
	case DiscountFixed:
		return v.DiscountValue
	default:
		return decimal.Zero
	}
}

// ValidateVoucher checks the admin-editable fields of v.
func ValidateVoucher(v *Voucher) error {
	if v.Code == "" {
		return invalid("code is required")
	}
	if v.DiscountType != DiscountPercentage && v.DiscountType != DiscountFixed {
		return invalid("discount type must be percentage or fixed")
	}
	if !v.DiscountValue.IsPositive() {
		return invalid("discount value must be positive")
	}
	if v.DiscountType == DiscountPercentage && v.DiscountValue.GreaterThan(hundred) {
		return invalid("percentage discount cannot exceed 100")
	}
	if v.MinOrderValue.IsNegative() {
		return invalid("minimum order value cannot be negative")
	}
	if v.MaxDiscount != nil && v.MaxDiscount.IsNegative() {
		return invalid("max discount cannot be negative")
	}
	if v.Quantity < 0 {
		return invalid("quantity cannot be negative")
	}
	if v.StartDate.IsZero() || v.EndDate.IsZero() {
		return invalid("start and end dates are required")
	}
	if dateOf(v.EndDate).Before(dateOf(v.StartDate)) {
		return invalid("end date must not be before start date")
	}
	return nil
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
