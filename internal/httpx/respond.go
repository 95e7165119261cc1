package httpx

import (
	"encoding/json"
	"github.com/ariefcatur/go-card-shop/internal/orders"
	"github.com/rs/zerolog/log"
	"net/http"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func statusOf(err error) int {
	switch orders.KindOf(err) {
	case orders.KindValidation, orders.KindSignature, orders.KindAmountMismatch:
		return http.StatusBadRequest
	case orders.KindNotFound:
		return http.StatusNotFound
	case orders.KindStateConflict, orders.KindRaceLost:
		return http.StatusConflict
	case orders.KindForbidden:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// writeError renders err as {"error": code}. Internal failures are logged
// and never leak their message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusOf(err)
	if code == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, code, map[string]string{"error": orders.CodeOf(err)})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}
