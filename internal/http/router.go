package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/booking-checkout/internal/idempotency"
	"github.com/robertarktes/booking-checkout/internal/observability"
	"github.com/robertarktes/booking-checkout/internal/rateLimit"
)

type RouterConfig struct {
	JWTSecret          string
	RateLimitPerMinute int
}

// SetupRouter wires the checkout API. rl and idemp may be nil, which turns
// rate limiting and response replay off.
func SetupRouter(h *Handlers, cfg RouterConfig, logger observability.Logger, rl *rateLimit.RateLimiter, idemp *idempotency.Idempotency) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware)

	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.JWTSecret))
		r.Use(RequireIdentity)
		r.Use(RateLimitMiddleware(rl, cfg.RateLimitPerMinute))

		r.Post("/checkout/prepare", h.Prepare)
		r.With(IdempotencyMiddleware(idemp, logger)).Post("/checkout/confirm", h.Confirm)
		r.With(IdempotencyMiddleware(idemp, logger)).Post("/checkout/free", h.FreeCheckout)
		r.Get("/orders/{id}", h.GetOrder)
		r.With(RequireAdmin).Post("/admin/orders/{id}/refund", h.Refund)
	})

	return r
}
