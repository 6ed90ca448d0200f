package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/ariefcatur/go-food-orders/internal/audit"
	"github.com/ariefcatur/go-food-orders/internal/gateway"
	"github.com/ariefcatur/go-food-orders/internal/gateway/momo"
	"github.com/ariefcatur/go-food-orders/internal/orders"
	"github.com/ariefcatur/go-food-orders/internal/payments"
	"github.com/go-chi/chi/v5"
)

type PaymentsHandler struct {
	Reconciler *payments.Reconciler
}

// VNPayAck is the body VNPay expects from the IPN endpoint.
type VNPayAck struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

// PaymentView is shown to the customer after the gateway redirects back.
type PaymentView struct {
	OrderID       int64                `json:"orderId,omitempty"`
	OrderRef      string               `json:"orderRef,omitempty"`
	Success       bool                 `json:"success"`
	Verdict       audit.Verdict        `json:"verdict"`
	ResultCode    string               `json:"resultCode,omitempty"`
	Status        orders.Status        `json:"status,omitempty"`
	PaymentStatus orders.PaymentStatus `json:"paymentStatus,omitempty"`
	Message       string               `json:"message,omitempty"`
}

func (h *PaymentsHandler) Register(r chi.Router) {
	r.Post("/payments/momo/ipn", h.momoIPN)
	r.Get("/payments/momo/return", h.momoReturn)
	r.Get("/payments/vnpay/ipn", h.vnpayIPN)
	r.Get("/payments/vnpay/return", h.vnpayReturn)
}

// momoIPN always answers 204: MoMo retries anything else, and a rejected
// message must not tell the sender why.
func (h *PaymentsHandler) momoIPN(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		h.Reconciler.Reject(ctx, gateway.Momo, payments.ChannelIPN, "", err)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	var cb momo.Callback
	if err := json.Unmarshal(raw, &cb); err != nil {
		h.Reconciler.Reject(ctx, gateway.Momo, payments.ChannelIPN, string(raw), err)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.Reconciler.ReconcileMomo(ctx, cb, payments.ChannelIPN)
	w.WriteHeader(http.StatusNoContent)
}

func (h *PaymentsHandler) momoReturn(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res := h.Reconciler.ReconcileMomo(ctx, momo.CallbackFromQuery(r.URL.Query()), payments.ChannelReturn)
	h.writeView(w, res)
}

// vnpayIPN always answers 200 with an RspCode; the code tells VNPay whether
// to retry.
func (h *PaymentsHandler) vnpayIPN(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res := h.Reconciler.ReconcileVNPay(ctx, r.URL.Query(), payments.ChannelIPN)
	writeJSON(w, http.StatusOK, vnpayAck(res))
}

func (h *PaymentsHandler) vnpayReturn(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res := h.Reconciler.ReconcileVNPay(ctx, r.URL.Query(), payments.ChannelReturn)
	h.writeView(w, res)
}

func vnpayAck(res payments.Result) VNPayAck {
	switch res.Verdict {
	case audit.VerdictApplied:
		return VNPayAck{RspCode: "00", Message: "Confirm Success"}
	case audit.VerdictDuplicate, audit.VerdictIgnored:
		return VNPayAck{RspCode: "02", Message: "Order already confirmed"}
	case audit.VerdictMismatch:
		return VNPayAck{RspCode: "04", Message: "Invalid amount"}
	case audit.VerdictNotFound:
		return VNPayAck{RspCode: "01", Message: "Order not found"}
	case audit.VerdictRejected:
		if errors.Is(res.Err, gateway.ErrSignatureInvalid) {
			return VNPayAck{RspCode: "97", Message: "Invalid Checksum"}
		}
		return VNPayAck{RspCode: "99", Message: "Invalid request"}
	default:
		return VNPayAck{RspCode: "99", Message: "Unknown error"}
	}
}

func (h *PaymentsHandler) writeView(w http.ResponseWriter, res payments.Result) {
	switch res.Verdict {
	case audit.VerdictRejected:
		writeError(w, http.StatusBadRequest, "invalid_payment_result", "payment result could not be verified")
		return
	case audit.VerdictNotFound:
		writeError(w, http.StatusNotFound, "not_found", "order not found")
		return
	case audit.VerdictError:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	v := PaymentView{Verdict: res.Verdict}
	if n := res.Notification; n != nil {
		v.OrderID, v.OrderRef, v.ResultCode, v.Success, v.Message = n.OrderID, n.OrderRef, n.ResultCode, n.Success, n.Message
	}
	if o := res.Order; o != nil {
		v.Status, v.PaymentStatus = o.Status, o.PaymentStatus
		v.Success = o.PaymentStatus == orders.PaymentPaid
	}
	if res.Verdict == audit.VerdictMismatch {
		v.Success = false
	}
	writeJSON(w, http.StatusOK, v)
}
