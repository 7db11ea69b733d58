// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

const (
	headerRateLimitLimit     = "X-RateLimit-Limit"
	headerRateLimitRemaining = "X-RateLimit-Remaining"
	headerRetryAfter         = "Retry-After"
)

// ExecutionRateLimiter throttles ingest requests per execution id, read from
// the chi "id" URL parameter.
type ExecutionRateLimiter struct {
	limiter        *inMemoryRateLimiter
	limitPerMinute int
	logger         *slog.Logger
	now            func() time.Time
}

func NewExecutionRateLimiter(limitPerMinute int, logger *slog.Logger) *ExecutionRateLimiter {
	if logger == nil {
		logger = slog.Default()
	}

	return &ExecutionRateLimiter{
		limiter:        newInMemoryRateLimiter(),
		limitPerMinute: limitPerMinute,
		logger:         logger,
		now:            time.Now,
	}
}

func (l *ExecutionRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			next.ServeHTTP(w, r)
			return
		}

		decision := l.limiter.Allow(id, l.limitPerMinute, l.now())
		w.Header().Set(headerRateLimitLimit, strconv.Itoa(decision.LimitPerMinute))
		w.Header().Set(headerRateLimitRemaining, strconv.Itoa(decision.Remaining))
		if !decision.Allowed {
			l.logger.Warn("ingest rate limited", "execution_id", id, "retry_after_s", decision.RetryAfterSeconds)
			w.Header().Set(headerRetryAfter, strconv.Itoa(decision.RetryAfterSeconds))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Forget releases the bucket of a cleared execution.
func (l *ExecutionRateLimiter) Forget(id string) {
	l.limiter.Forget(id)
}
