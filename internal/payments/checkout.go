// Package payments connects the order engine to the payment gateways: it opens
// gateway payments at checkout and reconciles the notifications they send back.
package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-food-orders/internal/gateway"
	"github.com/ariefcatur/go-food-orders/internal/orders"
	"go.uber.org/zap"
)

type CheckoutResult struct {
	Order    *orders.Order `json:"order"`
	PayURL   string        `json:"payUrl,omitempty"`
	OrderRef string        `json:"orderRef,omitempty"`
}

type Checkout struct {
	Orders   *orders.Service
	Gateways map[orders.PaymentMethod]gateway.Creator
	Logger   *zap.Logger
	Now      func() time.Time
}

// Pay records the payment method and, for redirect methods, asks the gateway
// for a payment URL. The gateway is called after the order change commits. If
// no link comes back and none was issued before, the cart is reopened and
// gateway.ErrUpstream is returned so the customer can retry.
func (c *Checkout) Pay(ctx context.Context, orderID int64, method, clientIP string) (*CheckoutResult, error) {
	m, err := orders.ParsePaymentMethod(method)
	if err != nil {
		return nil, err
	}
	var gw gateway.Creator
	if m.Redirect() {
		gw = c.Gateways[m]
		if gw == nil {
			return nil, fmt.Errorf("%w: no gateway configured for %s", gateway.ErrUpstream, m)
		}
	}

	prev, err := c.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	o, err := c.Orders.Checkout(ctx, orderID, string(m))
	if err != nil {
		return nil, err
	}
	res := &CheckoutResult{Order: o}
	if gw == nil {
		return res, nil
	}

	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	ref := gateway.ComposeOrderRef(o.ID, now())
	link, err := gw.CreatePayment(ctx, gateway.PaymentRequest{
		OrderID:  o.ID,
		OrderRef: ref,
		Amount:   o.TotalPrice,
		Info:     fmt.Sprintf("Thanh toan don hang #%d", o.ID),
		ClientIP: clientIP,
	})
	if err != nil {
		c.log().Warn("create payment failed",
			zap.Int64("order_id", o.ID), zap.String("method", string(m)),
			zap.String("order_ref", ref), zap.Error(err))
		// link sebelumnya masih berlaku, cart tetap dibekukan
		if prev.PaymentMethod != m {
			if _, rerr := c.Orders.ReopenCart(ctx, o.ID, m); rerr != nil {
				c.log().Error("reopen cart failed", zap.Int64("order_id", o.ID), zap.Error(rerr))
			}
		}
		return nil, err
	}
	c.log().Info("payment created",
		zap.Int64("order_id", o.ID), zap.String("method", string(m)), zap.String("order_ref", ref))
	res.PayURL, res.OrderRef = link.PayURL, link.OrderRef
	return res, nil
}

func (c *Checkout) log() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
