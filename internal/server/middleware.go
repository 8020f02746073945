package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"askdesk/internal/auth"
	"askdesk/internal/metrics"
)

type ctxKey int

const (
	ctxKeyRequestID ctxKey = iota
	ctxKeyIdentity
)

// requestIDHeader carries the correlation id on responses, and accepts
// a caller-provided id on requests.
const requestIDHeader = "X-Request-ID"

// requestID assigns every request a correlation id.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFrom returns the correlation id, or "" outside a request.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// accessLog emits one structured line per request and records the
// Prometheus request metrics.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		metrics.InFlight.Inc()
		next.ServeHTTP(ww, r)
		metrics.InFlight.Dec()

		elapsed := time.Since(start)
		route := r.Method + " " + r.URL.Path
		metrics.RequestsTotal.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
		metrics.RequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())

		s.log.Info("request",
			zap.String("req", RequestIDFrom(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", elapsed),
		)
	})
}

// concurrencyLimit sheds load above max concurrent requests with 503
// and a Retry-After hint instead of queueing unboundedly.
func (s *Server) concurrencyLimit(limit int) func(http.Handler) http.Handler {
	if limit <= 0 {
		limit = 64
	}
	slots := make(chan struct{}, limit)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case slots <- struct{}{}:
				defer func() { <-slots }()
				next.ServeHTTP(w, r)
			default:
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusServiceUnavailable, "overloaded", "too many concurrent requests, retry shortly")
			}
		})
	}
}

// deadline bounds each request's context. Handlers surface expiry as
// 504 via statusFor.
func (s *Server) deadline(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerAuth authenticates the Authorization header and attaches the
// caller identity. Every failure is a uniform 401 invalid_token.
func (s *Server) bearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "invalid_token", "missing, invalid, or expired token")
			return
		}

		ident, err := s.auth.Authenticate(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token", "missing, invalid, or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyIdentity, ident)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// identityFrom returns the authenticated caller set by bearerAuth.
func identityFrom(ctx context.Context) (*auth.CallerIdentity, bool) {
	ident, ok := ctx.Value(ctxKeyIdentity).(*auth.CallerIdentity)
	return ident, ok
}
