package httpx

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/go-food-orders/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type VouchersHandler struct {
	Orders *orders.Service
	Logger *zap.Logger
}

type ValidateVoucherReq struct {
	Code       string          `json:"code"`
	OrderValue decimal.Decimal `json:"orderValue"`
}

// VoucherReq is the admin create/update body. Dates are YYYY-MM-DD.
type VoucherReq struct {
	Code          string           `json:"code"`
	DiscountType  string           `json:"discountType"`
	DiscountValue decimal.Decimal  `json:"discountValue"`
	MinOrderValue decimal.Decimal  `json:"minOrderValue"`
	MaxDiscount   *decimal.Decimal `json:"maxDiscount"`
	Quantity      int              `json:"quantity"`
	Active        *bool            `json:"active"`
	StartDate     string           `json:"startDate"`
	EndDate       string           `json:"endDate"`
}

func (req *VoucherReq) toVoucher() (*orders.Voucher, string) {
	start, err := time.Parse(time.DateOnly, req.StartDate)
	if err != nil {
		return nil, "startDate must be YYYY-MM-DD"
	}
	end, err := time.Parse(time.DateOnly, req.EndDate)
	if err != nil {
		return nil, "endDate must be YYYY-MM-DD"
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	return &orders.Voucher{
		Code:          req.Code,
		DiscountType:  orders.DiscountType(strings.ToLower(strings.TrimSpace(req.DiscountType))),
		DiscountValue: req.DiscountValue,
		MinOrderValue: req.MinOrderValue,
		MaxDiscount:   req.MaxDiscount,
		Quantity:      req.Quantity,
		Active:        active,
		StartDate:     start,
		EndDate:       end,
	}, ""
}

func (h *VouchersHandler) Register(r chi.Router) {
	r.Post("/vouchers/validate", h.validate)
	r.Get("/vouchers", h.list(false))
	r.Get("/vouchers/valid", h.list(true))
	r.Get("/vouchers/{id}", h.get)
	r.Post("/vouchers", h.create)
	r.Put("/vouchers/{id}", h.update)
	r.Patch("/vouchers/{id}/toggle-status", h.toggle)
}

// validate previews a voucher; it never consumes a use.
func (h *VouchersHandler) validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateVoucherReq
	if !decodeJSON(w, r, &req, false) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	res, err := h.Orders.PreviewVoucher(ctx, req.Code, req.OrderValue)
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *VouchersHandler) list(onlyValid bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		vs, err := h.Orders.ListVouchers(ctx, onlyValid)
		if err != nil {
			writeServiceError(w, r, h.Logger, err)
			return
		}
		if vs == nil {
			vs = []orders.Voucher{}
		}
		writeJSON(w, http.StatusOK, vs)
	}
}

func (h *VouchersHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	v, err := h.Orders.GetVoucher(ctx, id)
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *VouchersHandler) create(w http.ResponseWriter, r *http.Request) {
	var req VoucherReq
	if !decodeJSON(w, r, &req, false) {
		return
	}
	v, msg := req.toVoucher()
	if v == nil {
		writeError(w, http.StatusBadRequest, "invalid_input", msg)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Orders.CreateVoucher(ctx, v); err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (h *VouchersHandler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req VoucherReq
	if !decodeJSON(w, r, &req, false) {
		return
	}
	in, msg := req.toVoucher()
	if in == nil {
		writeError(w, http.StatusBadRequest, "invalid_input", msg)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	v, err := h.Orders.UpdateVoucher(ctx, id, in)
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *VouchersHandler) toggle(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	v, err := h.Orders.ToggleVoucher(ctx, id)
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}
