package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/ariefcatur/go-food-orders/internal/audit"
	"github.com/ariefcatur/go-food-orders/internal/gateway"
	"github.com/ariefcatur/go-food-orders/internal/gateway/momo"
	"github.com/ariefcatur/go-food-orders/internal/gateway/vnpay"
	"github.com/ariefcatur/go-food-orders/internal/orders"
	"go.uber.org/zap"
)

const (
	ChannelIPN    = "ipn"
	ChannelReturn = "return"
)

// Deduper is the optional fast path in front of the ledger. *redisx.Deduper
// satisfies it.
type Deduper interface {
	Seen(ctx context.Context, id string) (bool, error)
	Mark(ctx context.Context, id string) error
}

// Result is what happened to one notification. Err is set for REJECTED,
// NOT_FOUND and ERROR verdicts.
type Result struct {
	Verdict      audit.Verdict
	Notification *gateway.Notification
	Order        *orders.Order
	Err          error
}

type Reconciler struct {
	Orders *orders.Service
	Momo   *momo.Client
	VNPay  *vnpay.Client
	Audit  audit.Repository
	Dedup  Deduper
	Logger *zap.Logger
	Now    func() time.Time
}

// ReconcileMomo handles a MoMo IPN body or redirect query.
func (r *Reconciler) ReconcileMomo(ctx context.Context, cb momo.Callback, channel string) Result {
	raw, _ := json.Marshal(cb)
	entry := &audit.Entry{Gateway: gateway.Momo, Channel: channel, OrderRef: cb.OrderID, Raw: string(raw)}
	if r.Momo == nil {
		return r.finish(ctx, entry, Result{Verdict: audit.VerdictError, Err: errors.New("momo is not configured")})
	}
	n, err := r.Momo.Verify(cb)
	if err != nil {
		return r.finish(ctx, entry, Result{Verdict: audit.VerdictRejected, Err: err})
	}
	return r.finish(ctx, entry, r.apply(ctx, n))
}

// ReconcileVNPay handles the VNPay IPN or return query.
func (r *Reconciler) ReconcileVNPay(ctx context.Context, q url.Values, channel string) Result {
	entry := &audit.Entry{Gateway: gateway.VNPay, Channel: channel, OrderRef: q.Get("vnp_TxnRef"), Raw: q.Encode()}
	if r.VNPay == nil {
		return r.finish(ctx, entry, Result{Verdict: audit.VerdictError, Err: errors.New("vnpay is not configured")})
	}
	n, err := r.VNPay.Verify(q)
	if err != nil {
		return r.finish(ctx, entry, Result{Verdict: audit.VerdictRejected, Err: err})
	}
	return r.finish(ctx, entry, r.apply(ctx, n))
}

func dedupKey(n *gateway.Notification) string {
	return fmt.Sprintf("%d:%s:%s", n.OrderID, n.Gateway, n.GatewayRef)
}

func (r *Reconciler) apply(ctx context.Context, n *gateway.Notification) Result {
	res := Result{Notification: n}
	key := dedupKey(n)

	if r.Dedup != nil {
		seen, err := r.Dedup.Seen(ctx, key)
		if err != nil {
			r.log().Warn("dedup lookup failed", zap.String("key", key), zap.Error(err))
		}
		if seen {
			res.Verdict = audit.VerdictDuplicate
			res.Order, _ = r.Orders.GetOrder(ctx, n.OrderID)
			return res
		}
	}

	out, err := r.Orders.Settle(ctx, orders.Settlement{
		OrderID:    n.OrderID,
		Gateway:    n.Gateway,
		GatewayRef: n.GatewayRef,
		OrderRef:   n.OrderRef,
		ResultCode: n.ResultCode,
		Success:    n.Success,
		Amount:     n.Amount,
	})
	switch {
	case errors.Is(err, orders.ErrNotFound):
		res.Verdict, res.Err = audit.VerdictNotFound, err
		return res
	case err != nil:
		res.Verdict, res.Err = audit.VerdictError, err
		return res
	}

	res.Order = out.Order
	switch out.Outcome {
	case orders.OutcomePaid, orders.OutcomeFailed:
		res.Verdict = audit.VerdictApplied
	case orders.OutcomeDuplicate:
		res.Verdict = audit.VerdictDuplicate
	case orders.OutcomeMismatch:
		res.Verdict = audit.VerdictMismatch
	default:
		res.Verdict = audit.VerdictIgnored
	}
	if r.Dedup != nil {
		if err := r.Dedup.Mark(ctx, key); err != nil {
			r.log().Warn("dedup mark failed", zap.String("key", key), zap.Error(err))
		}
	}
	return res
}

// finish logs and audits res. Audit failures are logged, never returned: the
// gateway must still get its acknowledgement.
func (r *Reconciler) finish(ctx context.Context, e *audit.Entry, res Result) Result {
	if n := res.Notification; n != nil {
		e.OrderRef, e.GatewayRef, e.ResultCode = n.OrderRef, n.GatewayRef, n.ResultCode
	}
	e.Verdict = res.Verdict
	if res.Err != nil {
		e.Reason = res.Err.Error()
	}
	e.ReceivedAt = r.now()

	fields := []zap.Field{
		zap.String("gateway", e.Gateway),
		zap.String("channel", e.Channel),
		zap.String("order_ref", e.OrderRef),
		zap.String("gateway_ref", e.GatewayRef),
		zap.String("result_code", e.ResultCode),
		zap.String("verdict", string(e.Verdict)),
	}
	switch res.Verdict {
	case audit.VerdictApplied, audit.VerdictDuplicate, audit.VerdictIgnored:
		r.log().Info("payment callback", fields...)
	case audit.VerdictError:
		r.log().Error("payment callback", append(fields, zap.Error(res.Err))...)
	default:
		r.log().Warn("payment callback", append(fields, zap.String("reason", e.Reason))...)
	}

	if r.Audit != nil {
		if err := r.Audit.Save(ctx, e); err != nil {
			r.log().Error("audit save failed", zap.String("order_ref", e.OrderRef), zap.Error(err))
		}
	}
	return res
}

func (r *Reconciler) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Reconciler) log() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

// Reject audits a message that could not even be decoded.
func (r *Reconciler) Reject(ctx context.Context, gw, channel, raw string, err error) Result {
	return r.finish(ctx, &audit.Entry{Gateway: gw, Channel: channel, Raw: raw},
		Result{Verdict: audit.VerdictRejected, Err: fmt.Errorf("%w: %v", gateway.ErrMalformed, err)})
}
