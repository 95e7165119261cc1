package httpx

import (
	"github.com/ariefcatur/go-card-shop/internal/orders"
	"github.com/ariefcatur/go-card-shop/internal/payment"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"net/http"
)

// NotifyHandler receives the pay page callback. The gateway only reads
// the body: "success" stops redelivery, anything else schedules a retry.
type NotifyHandler struct {
	Reconciler *payment.Reconciler
}

func (h *NotifyHandler) Register(r chi.Router) {
	r.Get("/api/notify", h.notify)
	r.Post("/api/notify", h.notify)
}

func (h *NotifyHandler) notify(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		plain(w, http.StatusBadRequest, "fail")
		return
	}
	params := make(map[string]string, len(r.Form))
	for k, vs := range r.Form {
		if len(vs) > 0 {
			params[k] = vs[0]
		}
	}

	out, err := h.Reconciler.HandleNotify(r.Context(), params)
	if err != nil {
		code := http.StatusInternalServerError
		switch orders.KindOf(err) {
		case orders.KindSignature, orders.KindAmountMismatch:
			code = http.StatusBadRequest
		}
		log.Warn().Err(err).Str("order_id", params["out_trade_no"]).Int("status", code).Msg("notify rejected")
		plain(w, code, "fail")
		return
	}
	log.Debug().Str("order_id", params["out_trade_no"]).Str("outcome", string(out)).Msg("notify handled")
	plain(w, http.StatusOK, "success")
}

func plain(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}
