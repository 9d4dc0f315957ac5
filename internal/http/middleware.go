package http

import (
	"bytes"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robertarktes/booking-checkout/internal/idempotency"
	"github.com/robertarktes/booking-checkout/internal/observability"
	"github.com/robertarktes/booking-checkout/internal/rateLimit"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelhttp "go.opentelemetry.io/otel/propagation"
)

const IdempotencyKeyHeader = "Idempotency-Key"

func RequestIDMiddleware(next http.Handler) http.Handler {
	return middleware.RequestID(next)
}

func LoggerMiddleware(logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			entry := logger.WithFields(map[string]interface{}{
				"request_id": middleware.GetReqID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
			})
			next.ServeHTTP(w, r.WithContext(observability.WithLogger(r.Context(), entry)))
		})
	}
}

// MetricsMiddleware counts requests by route pattern, so path parameters do
// not explode label cardinality.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(status), r.Method).Inc()
	})
}

// IdempotencyMiddleware replays the stored response for a repeated
// Idempotency-Key. Keys are scoped to the caller and the route. Requests
// without a key pass through; server errors are not stored so the client
// can retry them.
func IdempotencyMiddleware(idemp *idempotency.Idempotency, logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if idemp == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(IdempotencyKeyHeader)
			if r.Method != http.MethodPost || raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(raw) < 16 {
				writeStatus(w, http.StatusBadRequest, "InvalidIdempotencyKey")
				return
			}
			log := observability.FromContext(r.Context(), logger)
			key := r.URL.Path + ":" + raw
			if id, ok := IdentityFrom(r.Context()); ok {
				key = id.Owner.String() + ":" + key
			}

			if stored, err := idemp.Get(r.Context(), key); err != nil {
				log.WithError(err).Warn("idempotency lookup failed")
			} else if stored != nil {
				replay(w, stored)
				return
			}

			claimed, release, err := idemp.Begin(r.Context(), key)
			if err != nil {
				log.WithError(err).Warn("idempotency reserve failed")
				next.ServeHTTP(w, r)
				return
			}
			if !claimed {
				writeStatus(w, http.StatusConflict, "RequestInProgress")
				return
			}
			defer release()

			rec := &responseRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			if rec.status >= http.StatusInternalServerError {
				return
			}
			err = idemp.Set(r.Context(), key, idempotency.Response{
				Status:      rec.status,
				ContentType: rec.Header().Get("Content-Type"),
				Result:      rec.body.Bytes(),
			})
			if err != nil {
				log.WithError(err).Warn("idempotency store failed")
			}
		})
	}
}

func replay(w http.ResponseWriter, stored *idempotency.Response) {
	if stored.ContentType != "" {
		w.Header().Set("Content-Type", stored.ContentType)
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(stored.Status)
	w.Write(stored.Result)
}

type responseRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *responseRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

// RateLimitMiddleware applies a per-caller budget and a looser per-IP one.
func RateLimitMiddleware(rl *rateLimit.RateLimiter, perMinute int) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rl == nil || perMinute <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			caller := "anonymous"
			if id, ok := IdentityFrom(r.Context()); ok {
				caller = id.Owner.String()
			}
			if !rl.Allow(r.Context(), "caller:"+caller, perMinute, time.Minute) ||
				!rl.Allow(r.Context(), "ip:"+ip, perMinute*10, time.Minute) {
				writeStatus(w, http.StatusTooManyRequests, "RateLimited")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), otelhttp.HeaderCarrier(r.Header))
		tracer := otel.Tracer("http")
		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.url", r.URL.String()),
			attribute.String("http.request_id", middleware.GetReqID(r.Context())),
		)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
