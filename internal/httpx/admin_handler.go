package httpx

import (
	"encoding/json"
	"github.com/ariefcatur/go-card-shop/internal/checkout"
	"github.com/ariefcatur/go-card-shop/internal/compensation"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"net/http"
)

type AdminHandler struct {
	Checkout    *checkout.Service
	Compensator *compensation.Compensator
	Token       string
}

type DeleteOrdersReq struct {
	OrderIDs []string `json:"order_ids"`
}

type AdjustAmountReq struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

type PaymentLinkReq struct {
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
}

func (h *AdminHandler) Register(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Use(AdminGate(h.Token))
		r.Post("/orders/{id}/cancel", h.cancel)
		r.Delete("/orders/{id}", h.delete)
		r.Post("/orders/delete", h.deleteMany)
		r.Post("/orders/{id}/amount", h.adjustAmount)
		r.Post("/payment-links", h.createPaymentLink)
	})
}

func (h *AdminHandler) cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.Compensator.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Compensator.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) deleteMany(w http.ResponseWriter, r *http.Request) {
	var req DeleteOrdersReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if len(req.OrderIDs) == 0 {
		badRequest(w, "missing fields")
		return
	}
	n, err := h.Compensator.DeleteMany(r.Context(), req.OrderIDs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func (h *AdminHandler) adjustAmount(w http.ResponseWriter, r *http.Request) {
	var req AdjustAmountReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	o, err := h.Checkout.AdjustPendingAmount(r.Context(), chi.URLParam(r, "id"), req.Amount, AdminActor(r), req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResp(o, false))
}

func (h *AdminHandler) createPaymentLink(w http.ResponseWriter, r *http.Request) {
	var req PaymentLinkReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	res, err := h.Checkout.CreatePaymentLink(r.Context(), req.Name, req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}
