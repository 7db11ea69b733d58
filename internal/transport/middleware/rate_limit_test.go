// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func TestInMemoryRateLimiterRefills(t *testing.T) {
	l := newInMemoryRateLimiter()
	now := time.Unix(1_700_000_000, 0)

	for i := 0; i < 2; i++ {
		if d := l.Allow("exec-1", 2, now); !d.Allowed {
			t.Fatalf("expected request %d to be allowed", i+1)
		}
	}

	d := l.Allow("exec-1", 2, now)
	if d.Allowed {
		t.Fatal("expected third request to be rejected")
	}
	if d.RetryAfterSeconds < 30 || d.RetryAfterSeconds > 31 {
		t.Fatalf("expected retry after ~30s got %d", d.RetryAfterSeconds)
	}

	if d := l.Allow("exec-2", 2, now); !d.Allowed {
		t.Fatal("expected separate execution to have its own bucket")
	}

	if d := l.Allow("exec-1", 2, now.Add(31*time.Second)); !d.Allowed {
		t.Fatal("expected bucket to refill after 31s")
	}
}

func TestInMemoryRateLimiterForget(t *testing.T) {
	l := newInMemoryRateLimiter()
	now := time.Unix(1_700_000_000, 0)

	l.Allow("exec-1", 1, now)
	if d := l.Allow("exec-1", 1, now); d.Allowed {
		t.Fatal("expected bucket to be exhausted")
	}

	l.Forget("exec-1")
	if d := l.Allow("exec-1", 1, now); !d.Allowed {
		t.Fatal("expected fresh bucket after Forget")
	}
}

func TestExecutionRateLimiterMiddleware(t *testing.T) {
	limiter := NewExecutionRateLimiter(1, slog.New(slog.NewTextHandler(io.Discard, nil)))
	fixed := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return fixed }

	r := chi.NewRouter()
	r.With(limiter.Middleware).Post("/executions/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/executions/a/events", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status 202 got %d", rec.Code)
	}
	if got := rec.Header().Get(headerRateLimitLimit); got != "1" {
		t.Fatalf("expected limit header 1 got %q", got)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/executions/a/events", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429 got %d", rec.Code)
	}
	if rec.Header().Get(headerRetryAfter) == "" {
		t.Fatal("expected Retry-After header")
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/executions/b/events", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected other execution to pass, got %d", rec.Code)
	}
}
