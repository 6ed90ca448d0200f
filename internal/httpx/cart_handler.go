package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ariefcatur/go-food-orders/internal/orders"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const headerSessionID = "X-Session-ID"

// Sessions is satisfied by *redisx.SessionStore.
type Sessions interface {
	OrderFor(ctx context.Context, sessionID string) (int64, bool, error)
	// Swap binds sessionID to orderID only while it is still bound to old
	// (0 means unbound) and reports whether it did.
	Swap(ctx context.Context, sessionID string, old, orderID int64) (bool, error)
}

// CartHandler serves the anonymous cart: the session header picks the order.
type CartHandler struct {
	Orders   *orders.Service
	Sessions Sessions
	Logger   *zap.Logger
}

func (h *CartHandler) Register(r chi.Router) {
	r.Post("/cart/items", h.addItem)
	r.Get("/cart", h.getCart)
}

func sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	sid := strings.TrimSpace(r.Header.Get(headerSessionID))
	if sid == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", headerSessionID+" header is required")
		return "", false
	}
	return sid, true
}

// currentCart returns the session's order while it is still editable, and
// the order id the session is bound to either way.
func (h *CartHandler) currentCart(ctx context.Context, sid string) (*orders.Order, int64, error) {
	id, ok, err := h.Sessions.OrderFor(ctx, sid)
	if err != nil || !ok {
		return nil, 0, err
	}
	o, err := h.Orders.GetOrder(ctx, id)
	if errors.Is(err, orders.ErrNotFound) {
		return nil, id, nil
	}
	if err != nil {
		return nil, id, err
	}
	if !o.Editable() {
		return nil, id, nil
	}
	return o, id, nil
}

// openCart creates a new order for sid. When another request for the same
// session bound its own order first, the new one is dropped and the winner's
// cart is returned with created false.
func (h *CartHandler) openCart(ctx context.Context, sid string, bound int64) (cart *orders.Order, created bool, err error) {
	fresh, err := h.Orders.CreateOrder(ctx, orders.NewOrder{SessionID: sid})
	if err != nil {
		return nil, false, err
	}
	won, err := h.Sessions.Swap(ctx, sid, bound, fresh.ID)
	if err == nil && won {
		return fresh, true, nil
	}
	if derr := h.Orders.DeleteOrder(ctx, fresh.ID); derr != nil {
		logger(h.Logger).Warn("drop unbound cart", zap.Int64("order_id", fresh.ID), zap.Error(derr))
	}
	if err != nil {
		return nil, false, err
	}
	cart, _, err = h.currentCart(ctx, sid)
	if err != nil {
		return nil, false, err
	}
	if cart == nil {
		return nil, false, &orders.Error{Kind: orders.ErrConflict, Msg: "cart changed concurrently, please retry"}
	}
	return cart, false, nil
}

func (h *CartHandler) addItem(w http.ResponseWriter, r *http.Request) {
	sid, ok := sessionID(w, r)
	if !ok {
		return
	}
	var req LineReq
	if !decodeJSON(w, r, &req, false) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	cart, bound, err := h.currentCart(ctx, sid)
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	status := http.StatusOK
	if cart == nil {
		// item pertama membuat order baru
		if req.Quantity < 1 {
			writeError(w, http.StatusBadRequest, "invalid_input", "quantity must be at least 1")
			return
		}
		if _, err := h.Orders.GetProduct(ctx, req.ProductID); err != nil {
			writeServiceError(w, r, h.Logger, err)
			return
		}
		var created bool
		cart, created, err = h.openCart(ctx, sid, bound)
		if err != nil {
			writeServiceError(w, r, h.Logger, err)
			return
		}
		if created {
			status = http.StatusCreated
		}
	}

	o, err := h.Orders.AddLine(ctx, cart.ID, req.ProductID, req.Quantity)
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, status, o)
}

func (h *CartHandler) getCart(w http.ResponseWriter, r *http.Request) {
	sid, ok := sessionID(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	cart, _, err := h.currentCart(ctx, sid)
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	if cart == nil {
		writeError(w, http.StatusNotFound, "not_found", "no active cart for this session")
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

// LocalSessions keeps cart sessions in process memory, for runs without
// Redis. Entries expire after TTL of inactivity; every Swap sweeps the
// expired ones, so the map only holds sessions active within the last TTL.
type LocalSessions struct {
	TTL time.Duration
	Now func() time.Time

	mu sync.Mutex
	m  map[string]localSession
}

type localSession struct {
	orderID int64
	expires time.Time
}

func (s *LocalSessions) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *LocalSessions) OrderFor(_ context.Context, sid string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	e, ok := s.m[sid]
	if !ok || now.After(e.expires) {
		delete(s.m, sid)
		return 0, false, nil
	}
	e.expires = now.Add(s.TTL)
	s.m[sid] = e
	return e.orderID, true, nil
}

func (s *LocalSessions) Swap(_ context.Context, sid string, old, orderID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if s.m == nil {
		s.m = make(map[string]localSession)
	}
	for k, e := range s.m {
		if now.After(e.expires) {
			delete(s.m, k)
		}
	}
	var cur int64
	if e, ok := s.m[sid]; ok {
		cur = e.orderID
	}
	if cur != old {
		return false, nil
	}
	s.m[sid] = localSession{orderID: orderID, expires: now.Add(s.TTL)}
	return true, nil
}

