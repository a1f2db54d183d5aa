package api

import (
	"net/http"
	"time"

	"github.com/davidahmann/attest/internal/auth"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func NewRouter(h *Handler) http.Handler {
	if h.Logger == nil {
		h.Logger = zap.NewNop()
	}
	logger := h.Logger.Named("api")
	if h.Auth == nil {
		h.Auth = &auth.MultiAuthenticator{}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		if h.Limiter != nil {
			r.Use(RateLimit(h.Limiter))
		}
		r.Use(auth.Middleware(h.Auth, logger))

		r.Get("/v1/units", h.ListUnits)
		r.Post("/v1/units/{unitID}/execute", h.Execute)
		r.Get("/v1/receipts/{receiptID}", h.GetReceipt)
		r.Get("/v1/cards/{receiptID}", h.GetCard)
		r.Post("/v1/verify", h.Verify)
		r.Get("/v1/objects/{cid}", h.GetObject)
	})
	return r
}

// RateLimit answers 429 once the shared token bucket is empty.
func RateLimit(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
