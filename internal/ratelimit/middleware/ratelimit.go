// Package middleware limits requests per client IP.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"hcert/internal/ratelimit/metrics"
	"hcert/internal/ratelimit/models"
	"hcert/pkg/platform/httputil"
	"hcert/pkg/requestcontext"
)

type RateLimiter interface {
	Check(ctx context.Context, key string) (*models.Result, error)
}

type Middleware struct {
	primary  RateLimiter
	fallback RateLimiter
	breaker  *breaker
	logger   *slog.Logger
	metrics  *metrics.Metrics
	disabled bool
}

type Option func(*Middleware)

// WithDisabled disables rate limiting entirely.
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

// WithFallback sets the limiter consulted while the primary limiter is failing.
func WithFallback(fallback RateLimiter) Option {
	return func(m *Middleware) {
		m.fallback = fallback
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Middleware) {
		m.metrics = mt
	}
}

func New(primary RateLimiter, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		primary: primary,
		breaker: newCircuitBreaker(5, 3),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		logger.Info("rate limiting disabled")
	}
	return m
}

// RateLimit rejects clients that exceed their per-IP budget with 429.
func (m *Middleware) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.disabled {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		ip := requestcontext.ClientIP(ctx)

		result, degraded := m.check(ctx, ip)
		if result == nil {
			next.ServeHTTP(w, r)
			return
		}
		if degraded {
			w.Header().Set("X-RateLimit-Status", "degraded")
		}

		addRateLimitHeaders(w, result)

		if !result.Allowed {
			if m.metrics != nil {
				m.metrics.IncrementRejected()
			}
			writeRateLimitExceeded(w, result)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// check consults the primary limiter unless the circuit is open. A nil result means the
// request is let through unchecked.
func (m *Middleware) check(ctx context.Context, ip string) (*models.Result, bool) {
	if m.fallback != nil && m.breaker.IsOpen() {
		result, err := m.primary.Check(ctx, ip)
		if err == nil {
			openFor := m.breaker.OpenFor()
			if m.breaker.RecordSuccess() {
				m.logger.InfoContext(ctx, "rate limiter recovered", "degraded_for", openFor)
				return result, false
			}
		}
		if err != nil {
			m.breaker.RecordFailure()
		}
		return m.checkFallback(ctx, ip)
	}

	result, err := m.primary.Check(ctx, ip)
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to check rate limit", "error", err,
			"request_id", requestcontext.RequestID(ctx))
		if m.breaker.RecordFailure() && m.fallback != nil {
			if m.metrics != nil {
				m.metrics.IncrementDegraded()
			}
			return m.checkFallback(ctx, ip)
		}
		return nil, false
	}
	m.breaker.RecordSuccess()
	return result, false
}

func (m *Middleware) checkFallback(ctx context.Context, ip string) (*models.Result, bool) {
	result, err := m.fallback.Check(ctx, ip)
	if err != nil {
		return nil, true
	}
	return result, true
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	if !result.ResetAt.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
	}
}

func writeRateLimitExceeded(w http.ResponseWriter, result *models.Result) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.RateLimitExceededResponse{
		Error:      "rate_limit_exceeded",
		Message:    "Too many requests from this IP address. Please try again later.",
		RetryAfter: result.RetryAfter,
	})
}
