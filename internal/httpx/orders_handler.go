package httpx

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/ariefcatur/go-food-orders/internal/orders"
	"github.com/ariefcatur/go-food-orders/internal/payments"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// StatusCache is satisfied by *redisx.StatusCache.
type StatusCache interface {
	Get(ctx context.Context, orderID int64) (*orders.StatusSnapshot, bool, error)
	Put(ctx context.Context, snap orders.StatusSnapshot) (bool, error)
}

type OrdersHandler struct {
	Orders   *orders.Service
	Checkout *payments.Checkout
	Cache    StatusCache // boleh nil
	Logger   *zap.Logger
}

type CreateOrderReq struct {
	CustomerID *int64 `json:"customerId"`
	SessionID  string `json:"sessionId"`
}

type LineReq struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

type ApplyVoucherReq struct {
	VoucherID      int64            `json:"voucherId"`
	DiscountAmount *decimal.Decimal `json:"discountAmount"`
}

type PaymentReq struct {
	PaymentMethod string `json:"paymentMethod"`
}

type StatusReq struct {
	Status string `json:"status"`
}

type PaymentStatusReq struct {
	PaymentStatus string `json:"paymentStatus"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
	r.Route("/orders/{id}", func(r chi.Router) {
		r.Get("/", h.getOrder)
		r.Delete("/", h.deleteOrder)
		r.Post("/lines", h.addLine)
		r.Put("/lines/{lineId}", h.updateLine)
		r.Delete("/lines/{lineId}", h.removeLine)
		r.Post("/apply-voucher", h.applyVoucher)
		r.Delete("/voucher", h.removeVoucher)
		r.Post("/payment", h.pay)
		r.Patch("/confirm", h.confirmCOD)
		r.Patch("/status", h.changeStatus)
		r.Patch("/payment/confirm", h.confirmDelivery)
		r.Patch("/payment-status", h.overridePaymentStatus)
		r.Get("/status", h.getStatus)
		r.Get("/payments", h.listPayments)
	})
	r.Get("/products", h.listProducts)
	r.Get("/products/{id}", h.getProduct)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if !decodeJSON(w, r, &req, true) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Orders.CreateOrder(ctx, orders.NewOrder{CustomerID: req.CustomerID, SessionID: req.SessionID})
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Orders.ListOrders(ctx, limit)
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Orders.GetOrder(ctx, id)
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Orders.DeleteOrder(ctx, id); err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// mutation runs fn with a write timeout and renders the resulting order.
func (h *OrdersHandler) mutation(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id int64) (*orders.Order, error)) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := fn(ctx, id)
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) addLine(w http.ResponseWriter, r *http.Request) {
	var req LineReq
	if !decodeJSON(w, r, &req, false) {
		return
	}
	h.mutation(w, r, func(ctx context.Context, id int64) (*orders.Order, error) {
		return h.Orders.AddLine(ctx, id, req.ProductID, req.Quantity)
	})
}

func (h *OrdersHandler) updateLine(w http.ResponseWriter, r *http.Request) {
	lineID, ok := pathID(w, r, "lineId")
	if !ok {
		return
	}
	var req LineReq
	if !decodeJSON(w, r, &req, false) {
		return
	}
	h.mutation(w, r, func(ctx context.Context, id int64) (*orders.Order, error) {
		return h.Orders.UpdateLine(ctx, id, lineID, req.Quantity)
	})
}

func (h *OrdersHandler) removeLine(w http.ResponseWriter, r *http.Request) {
	lineID, ok := pathID(w, r, "lineId")
	if !ok {
		return
	}
	h.mutation(w, r, func(ctx context.Context, id int64) (*orders.Order, error) {
		return h.Orders.RemoveLine(ctx, id, lineID)
	})
}

func (h *OrdersHandler) applyVoucher(w http.ResponseWriter, r *http.Request) {
	var req ApplyVoucherReq
	if !decodeJSON(w, r, &req, false) {
		return
	}
	h.mutation(w, r, func(ctx context.Context, id int64) (*orders.Order, error) {
		return h.Orders.ApplyVoucher(ctx, id, req.VoucherID, req.DiscountAmount)
	})
}

func (h *OrdersHandler) removeVoucher(w http.ResponseWriter, r *http.Request) {
	h.mutation(w, r, h.Orders.RemoveVoucher)
}

func (h *OrdersHandler) pay(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req PaymentReq
	if !decodeJSON(w, r, &req, false) {
		return
	}
	// sempat untuk satu panggilan gateway
	ctx, cancel := context.WithTimeout(r.Context(), 20*time.Second)
	defer cancel()

	res, err := h.Checkout.Pay(ctx, id, req.PaymentMethod, clientIP(r))
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *OrdersHandler) confirmCOD(w http.ResponseWriter, r *http.Request) {
	h.mutation(w, r, func(ctx context.Context, id int64) (*orders.Order, error) {
		return h.Orders.Checkout(ctx, id, string(orders.MethodCOD))
	})
}

func (h *OrdersHandler) changeStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusReq
	if !decodeJSON(w, r, &req, false) {
		return
	}
	h.mutation(w, r, func(ctx context.Context, id int64) (*orders.Order, error) {
		return h.Orders.ChangeStatus(ctx, id, req.Status)
	})
}

func (h *OrdersHandler) confirmDelivery(w http.ResponseWriter, r *http.Request) {
	h.mutation(w, r, h.Orders.ConfirmDelivery)
}

func (h *OrdersHandler) overridePaymentStatus(w http.ResponseWriter, r *http.Request) {
	var req PaymentStatusReq
	if !decodeJSON(w, r, &req, false) {
		return
	}
	h.mutation(w, r, func(ctx context.Context, id int64) (*orders.Order, error) {
		return h.Orders.OverridePaymentStatus(ctx, id, req.PaymentStatus)
	})
}

func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) coba cache
	if h.Cache != nil {
		snap, hit, err := h.Cache.Get(ctx, id)
		if err != nil {
			logger(h.Logger).Warn("status cache get", zap.Int64("order_id", id), zap.Error(err))
		}
		if hit {
			if snap.Deleted {
				writeError(w, http.StatusNotFound, "not_found", "order not found")
				return
			}
			writeJSON(w, http.StatusOK, snap)
			return
		}
	}

	// 2) fallback DB
	o, err := h.Orders.GetOrder(ctx, id)
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	snap := orders.SnapshotOf(o)
	if h.Cache != nil {
		if _, err := h.Cache.Put(ctx, snap); err != nil {
			logger(h.Logger).Warn("status cache put", zap.Int64("order_id", id), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *OrdersHandler) listPayments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Orders.Payments(ctx, id)
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	if list == nil {
		list = []orders.PaymentRecord{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Orders.ListProducts(ctx)
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	if ps == nil {
		ps = []orders.Product{}
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *OrdersHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	p, err := h.Orders.GetProduct(ctx, id)
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// clientIP is the address RealIP left in RemoteAddr, without the port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
