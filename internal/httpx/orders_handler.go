package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"github.com/ariefcatur/go-card-shop/internal/checkout"
	"github.com/ariefcatur/go-card-shop/internal/discount"
	"github.com/ariefcatur/go-card-shop/internal/orders"
	"github.com/go-chi/chi/v5"
	"net/http"
	"strings"
	"time"
)

// Identity set by the session proxy in front of the API.
const (
	HeaderBuyerID       = "X-Buyer-Id"
	HeaderBuyerUsername = "X-Buyer-Username"
	HeaderBuyerEmail    = "X-Buyer-Email"
)

// StatusCache is the Redis fast path for GET /orders/{id}.
type StatusCache interface {
	Get(ctx context.Context, orderID string) ([]byte, bool)
	Set(ctx context.Context, orderID string, body []byte) error
}

// PendingLookup reads and drops the buyer's "continue paying" marker.
type PendingLookup interface {
	Get(ctx context.Context, buyerKey string) (string, error)
	Clear(ctx context.Context, buyerKey string) error
}

type OrdersHandler struct {
	Checkout  *checkout.Service
	Discounts *discount.Ledger
	Cache     StatusCache
	Pending   PendingLookup
}

type CreateOrderReq struct {
	ProductID    string `json:"product_id"`
	Quantity     int    `json:"quantity"`
	UsePoints    bool   `json:"use_points"`
	DiscountCode string `json:"discount_code"`
	Email        string `json:"email"`
	Note         string `json:"note"`
}

type OrderResp struct {
	OrderID      string     `json:"order_id"`
	ProductID    string     `json:"product_id"`
	ProductName  string     `json:"product_name"`
	Quantity     int        `json:"quantity"`
	Amount       string     `json:"amount"`
	PointsUsed   int        `json:"points_used"`
	Status       string     `json:"status"`
	CancelReason string     `json:"cancel_reason,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	PaidAt       *time.Time `json:"paid_at,omitempty"`
	DeliveredAt  *time.Time `json:"delivered_at,omitempty"`
	CardKeys     []string   `json:"card_keys,omitempty"`
}

type PreviewResp struct {
	Code             string `json:"code"`
	Type             string `json:"type"`
	Value            string `json:"value"`
	BaseAmount       string `json:"base_amount"`
	DiscountAmount   string `json:"discount_amount"`
	DiscountedAmount string `json:"discounted_amount"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Post("/orders/{id}/pay", h.retryPayment)
	r.Get("/orders/pending", h.pendingOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/discounts/preview", h.previewDiscount)
}

func buyerFrom(r *http.Request) checkout.Buyer {
	return checkout.Buyer{
		UserID:   strings.TrimSpace(r.Header.Get(HeaderBuyerID)),
		Username: strings.TrimSpace(r.Header.Get(HeaderBuyerUsername)),
		Email:    strings.TrimSpace(r.Header.Get(HeaderBuyerEmail)),
	}
}

func toOrderResp(o *orders.Order, withKeys bool) OrderResp {
	resp := OrderResp{
		OrderID:     o.OrderID,
		ProductID:   o.ProductID,
		ProductName: o.ProductName,
		Quantity:    o.Quantity,
		Amount:      orders.FormatMoney(o.Amount),
		PointsUsed:  o.PointsUsed,
		Status:      string(o.Status),
		CreatedAt:   o.CreatedAt,
		PaidAt:      o.PaidAt,
		DeliveredAt: o.DeliveredAt,
	}
	if o.CancelReason != nil {
		resp.CancelReason = *o.CancelReason
	}
	if withKeys {
		resp.CardKeys = o.CardKeys
	}
	return resp
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if strings.TrimSpace(req.ProductID) == "" {
		badRequest(w, "missing fields")
		return
	}

	buyer := buyerFrom(r)
	// email dari form dipakai kalau proxy tidak kirim
	if buyer.Email == "" {
		buyer.Email = strings.TrimSpace(req.Email)
	}
	res, err := h.Checkout.CreateOrder(r.Context(), checkout.CreateOrderInput{
		ProductID:    strings.TrimSpace(req.ProductID),
		Buyer:        buyer,
		UsePoints:    req.UsePoints,
		DiscountCode: req.DiscountCode,
		Quantity:     req.Quantity,
		Note:         req.Note,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *OrdersHandler) retryPayment(w http.ResponseWriter, r *http.Request) {
	res, err := h.Checkout.CreatePaymentRetry(r.Context(), chi.URLParam(r, "id"), buyerFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		badRequest(w, "missing id")
		return
	}
	ctx := r.Context()
	buyer := buyerFrom(r)
	anonymous := buyer.UserID == "" && buyer.Username == ""

	// 1) coba cache, hanya untuk view publik
	if anonymous && h.Cache != nil {
		if b, ok := h.Cache.Get(ctx, orderID); ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(b)
			return
		}
	}

	// 2) fallback DB
	o, err := h.Checkout.Order(ctx, orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !anonymous {
		writeJSON(w, http.StatusOK, toOrderResp(o, o.OwnedBy(buyer.UserID, buyer.Username)))
		return
	}
	b, _ := json.Marshal(toOrderResp(o, false))
	// pending masih bisa expire atau diubah admin, jadi tidak di-cache
	if h.Cache != nil && o.Status != orders.StatusPending {
		_ = h.Cache.Set(ctx, orderID, b)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

// pendingOrder returns the order the buyer was last sent to pay for while
// it is still payable; stale markers are dropped.
func (h *OrdersHandler) pendingOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	buyer := buyerFrom(r)
	key := buyer.Key()
	if h.Pending == nil || key == "" {
		writeError(w, r, orders.ErrOrderNotFound)
		return
	}
	orderID, err := h.Pending.Get(ctx, key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if orderID == "" {
		writeError(w, r, orders.ErrOrderNotFound)
		return
	}

	o, err := h.Checkout.Order(ctx, orderID)
	if err != nil && !errors.Is(err, orders.ErrOrderNotFound) {
		writeError(w, r, err)
		return
	}
	if err != nil || o.Status != orders.StatusPending || !o.OwnedBy(buyer.UserID, buyer.Username) {
		_ = h.Pending.Clear(ctx, key)
		writeError(w, r, orders.ErrOrderNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResp(o, false))
}

func (h *OrdersHandler) previewDiscount(w http.ResponseWriter, r *http.Request) {
	productID := strings.TrimSpace(r.URL.Query().Get("product_id"))
	if productID == "" {
		badRequest(w, "missing product_id")
		return
	}
	q, err := h.Discounts.Preview(r.Context(), productID, r.URL.Query().Get("code"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PreviewResp{
		Code:             q.Code,
		Type:             string(q.Type),
		Value:            q.Value.String(),
		BaseAmount:       orders.FormatMoney(q.BaseAmount),
		DiscountAmount:   orders.FormatMoney(q.DiscountAmount),
		DiscountedAmount: orders.FormatMoney(q.DiscountedAmount),
	})
}
