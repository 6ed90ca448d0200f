package orders

import "strings"

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed: {StatusPreparing: true, StatusCancelled: true},
	StatusPreparing: {StatusReady: true, StatusCancelled: true},
	StatusReady:     {StatusDelivered: true, StatusCancelled: true},
	StatusDelivered: {},
	StatusCancelled: {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Terminal() bool {
	return len(validNext[s]) == 0
}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if st == "" {
		return "", invalid("status is required")
	}
	if _, ok := validNext[st]; !ok {
		return "", invalid("unknown status %q", s)
	}
	return st, nil
}

type PaymentMethod string

const (
	MethodCOD    PaymentMethod = "COD"
	MethodWallet PaymentMethod = "WALLET"
	MethodBank   PaymentMethod = "BANK"
)

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	m := PaymentMethod(strings.ToUpper(strings.TrimSpace(s)))
	switch m {
	case MethodCOD, MethodWallet, MethodBank:
		return m, nil
	case "":
		return "", invalid("payment method is required")
	}
	return "", invalid("invalid payment method %q, expected COD, WALLET or BANK", s)
}

// Redirect reports whether the customer pays out of band on a gateway page.
func (m PaymentMethod) Redirect() bool {
	return m == MethodWallet || m == MethodBank
}

type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "UNPAID"
	PaymentPaid   PaymentStatus = "PAID"
	PaymentFailed PaymentStatus = "FAILED"
)

func ParsePaymentStatus(s string) (PaymentStatus, error) {
	p := PaymentStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch p {
	case PaymentUnpaid, PaymentPaid, PaymentFailed:
		return p, nil
	case "":
		return "", invalid("payment status is required")
	}
	return "", invalid("invalid payment status %q", s)
}

// SettleOutcome describes what a gateway notification did to an order.
type SettleOutcome string

const (
	OutcomePaid      SettleOutcome = "PAID"
	OutcomeFailed    SettleOutcome = "FAILED"
	OutcomeDuplicate SettleOutcome = "DUPLICATE" // ledger sudah punya notifikasi ini
	OutcomeIgnored   SettleOutcome = "IGNORED"   // payment status sudah final
	OutcomeMismatch  SettleOutcome = "AMOUNT_MISMATCH"
)

// editable reports whether lines and vouchers may still change.
func (o *Order) editable() error {
	if o.Status != StatusPending || o.PaymentStatus != PaymentUnpaid {
		return conflict("order %d can no longer be modified (status %s, payment %s)", o.ID, o.Status, o.PaymentStatus)
	}
	// payUrl sudah diterbitkan dengan total ini
	if o.PaymentMethod.Redirect() {
		return conflict("order %d is awaiting %s payment", o.ID, o.PaymentMethod)
	}
	return nil
}

// Editable reports whether the cart can still take lines and vouchers.
func (o *Order) Editable() bool { return o.editable() == nil }

// checkout applies the payment method choice. COD confirms immediately,
// redirect methods wait for the gateway.
func (o *Order) checkout(m PaymentMethod) error {
	if o.PaymentStatus != PaymentUnpaid {
		return conflict("order %d is already %s", o.ID, o.PaymentStatus)
	}
	if o.Status != StatusPending {
		return conflict("order %d cannot be checked out from status %s", o.ID, o.Status)
	}
	if len(o.Lines) == 0 {
		return conflict("order %d has no items", o.ID)
	}
	if m.Redirect() && !o.TotalPrice.IsPositive() {
		return conflict("order %d has nothing to pay online, use COD", o.ID)
	}
	o.PaymentMethod = m
	if m == MethodCOD {
		o.Status = StatusConfirmed
	}
	return nil
}

// reopen undoes a redirect checkout that never produced a payment link.
func (o *Order) reopen(m PaymentMethod) bool {
	if !m.Redirect() || o.PaymentMethod != m || o.Status != StatusPending || o.PaymentStatus != PaymentUnpaid {
		return false
	}
	o.PaymentMethod = MethodCOD
	return true
}

// settle applies a verified gateway outcome. PAID and FAILED are one-way
// latches: once reached, later notifications change nothing.
func (o *Order) settle(success bool) SettleOutcome {
	if o.PaymentStatus != PaymentUnpaid {
		return OutcomeIgnored
	}
	if success {
		o.PaymentStatus = PaymentPaid
		if o.Status == StatusPending {
			o.Status = StatusConfirmed
		}
		return OutcomePaid
	}
	o.PaymentStatus = PaymentFailed
	if o.Status == StatusPending {
		o.Status = StatusCancelled
	}
	return OutcomeFailed
}

// confirmDelivery marks a cash-on-delivery order as paid.
func (o *Order) confirmDelivery() error {
	if o.PaymentMethod != MethodCOD {
		return conflict("order %d is not a cash-on-delivery order", o.ID)
	}
	if o.PaymentStatus != PaymentUnpaid {
		return conflict("order %d is already %s", o.ID, o.PaymentStatus)
	}
	if o.Status == StatusCancelled {
		return conflict("order %d is cancelled", o.ID)
	}
	// cart yang belum checkout masih pending
	if o.Status == StatusPending || len(o.Lines) == 0 {
		return conflict("order %d has not been checked out", o.ID)
	}
	o.PaymentStatus = PaymentPaid
	if CanTransition(o.Status, StatusDelivered) {
		o.Status = StatusDelivered
	}
	return nil
}

func (o *Order) changeStatus(to Status) error {
	if o.Status == to {
		return nil
	}
	if !CanTransition(o.Status, to) {
		return conflict("order %d cannot move from %s to %s", o.ID, o.Status, to)
	}
	o.Status = to
	return nil
}
