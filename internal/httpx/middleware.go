package httpx

import (
	"crypto/subtle"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"net/http"
	"strings"
	"time"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusRecorder) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// LoggerMiddleware writes one line per request once the handler returns.
func LoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next.ServeHTTP(rec, r)

		ev := log.Info()
		if rec.Status() >= http.StatusInternalServerError {
			ev = log.Error()
		}
		ev.Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.Status()).
			Dur("took", time.Since(start)).
			Msg("request completed")
	})
}

const HeaderAdminToken = "X-Admin-Token"

// AdminGate only lets through requests carrying the shared admin token.
// An empty token disables the admin routes entirely.
func AdminGate(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := strings.TrimSpace(r.Header.Get(HeaderAdminToken))
			if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeJSON(w, http.StatusForbidden, map[string]string{"error": "auth.forbidden"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AdminActor names the operator in audit fields, defaulting to "admin".
func AdminActor(r *http.Request) string {
	if a := strings.TrimSpace(r.Header.Get("X-Admin-Actor")); a != "" {
		return a
	}
	return "admin"
}
