package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusConfirmed))
	assert.True(t, CanTransition(StatusReady, StatusDelivered))
	assert.True(t, CanTransition(StatusPreparing, StatusCancelled))
	assert.False(t, CanTransition(StatusPending, StatusDelivered))
	assert.False(t, CanTransition(StatusDelivered, StatusCancelled))
	assert.False(t, CanTransition(StatusCancelled, StatusPending))
	assert.True(t, StatusDelivered.Terminal())
	assert.False(t, StatusReady.Terminal())
}

func TestParsers(t *testing.T) {
	m, err := ParsePaymentMethod(" wallet ")
	require.NoError(t, err)
	assert.Equal(t, MethodWallet, m)
	_, err = ParsePaymentMethod("CARD")
	assert.ErrorIs(t, err, ErrInvalidInput)

	s, err := ParseStatus("Preparing")
	require.NoError(t, err)
	assert.Equal(t, StatusPreparing, s)
	_, err = ParseStatus("shipped")
	assert.ErrorIs(t, err, ErrInvalidInput)

	ps, err := ParsePaymentStatus("paid")
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, ps)
	_, err = ParsePaymentStatus("")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func cart() *Order {
	return &Order{
		ID:            1,
		Status:        StatusPending,
		PaymentMethod: MethodCOD,
		PaymentStatus: PaymentUnpaid,
		TotalPrice:    d(30000),
		Lines:         []OrderLine{{ID: 1, ProductID: 1, Quantity: 1, Subtotal: d(30000)}},
	}
}

func TestCheckoutCODConfirms(t *testing.T) {
	o := cart()
	require.NoError(t, o.checkout(MethodCOD))
	assert.Equal(t, StatusConfirmed, o.Status)
	assert.Equal(t, PaymentUnpaid, o.PaymentStatus)
	assert.False(t, o.Editable())
}

func TestCheckoutRedirectWaits(t *testing.T) {
	o := cart()
	require.NoError(t, o.checkout(MethodBank))
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, MethodBank, o.PaymentMethod)
	assert.False(t, o.Editable())
}

func TestCheckoutRejects(t *testing.T) {
	empty := cart()
	empty.Lines = nil
	assert.ErrorIs(t, empty.checkout(MethodCOD), ErrConflict)

	free := cart()
	free.TotalPrice = d(0)
	assert.ErrorIs(t, free.checkout(MethodWallet), ErrConflict)
	require.NoError(t, free.checkout(MethodCOD))

	paid := cart()
	paid.PaymentStatus = PaymentPaid
	assert.ErrorIs(t, paid.checkout(MethodCOD), ErrConflict)
}

func TestSettleLatches(t *testing.T) {
	o := cart()
	o.PaymentMethod = MethodWallet
	assert.Equal(t, OutcomePaid, o.settle(true))
	assert.Equal(t, StatusConfirmed, o.Status)
	assert.Equal(t, OutcomeIgnored, o.settle(false))
	assert.Equal(t, PaymentPaid, o.PaymentStatus)

	f := cart()
	f.PaymentMethod = MethodBank
	assert.Equal(t, OutcomeFailed, f.settle(false))
	assert.Equal(t, StatusCancelled, f.Status)
	assert.Equal(t, OutcomeIgnored, f.settle(true))
	assert.Equal(t, PaymentFailed, f.PaymentStatus)
}

func TestSettleKeepsLaterFulfillmentStatus(t *testing.T) {
	o := cart()
	o.PaymentMethod = MethodWallet
	o.Status = StatusPreparing
	assert.Equal(t, OutcomePaid, o.settle(true))
	assert.Equal(t, StatusPreparing, o.Status)
}

func TestConfirmDelivery(t *testing.T) {
	o := cart()
	require.NoError(t, o.checkout(MethodCOD))
	o.Status = StatusReady
	require.NoError(t, o.confirmDelivery())
	assert.Equal(t, PaymentPaid, o.PaymentStatus)
	assert.Equal(t, StatusDelivered, o.Status)

	w := cart()
	w.PaymentMethod = MethodWallet
	assert.ErrorIs(t, w.confirmDelivery(), ErrConflict)
}

func TestConfirmDeliveryNeedsCheckout(t *testing.T) {
	pending := cart()
	assert.ErrorIs(t, pending.confirmDelivery(), ErrConflict)
	assert.Equal(t, PaymentUnpaid, pending.PaymentStatus)

	empty := &Order{ID: 9, Status: StatusConfirmed, PaymentMethod: MethodCOD, PaymentStatus: PaymentUnpaid}
	assert.ErrorIs(t, empty.confirmDelivery(), ErrConflict)

	o := cart()
	require.NoError(t, o.checkout(MethodCOD))
	require.NoError(t, o.confirmDelivery())
	assert.Equal(t, PaymentPaid, o.PaymentStatus)
	assert.Equal(t, StatusConfirmed, o.Status)
}

func TestChangeStatus(t *testing.T) {
	o := cart()
	require.NoError(t, o.changeStatus(StatusConfirmed))
	require.NoError(t, o.changeStatus(StatusConfirmed)) // sama, no-op
	assert.ErrorIs(t, o.changeStatus(StatusDelivered), ErrConflict)
	require.NoError(t, o.changeStatus(StatusCancelled))
	assert.ErrorIs(t, o.changeStatus(StatusPreparing), ErrConflict)
}
