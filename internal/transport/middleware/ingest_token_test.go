// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestIngestTokenAuth(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("allows all when token is not configured", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/executions/e/events", nil)
		rec := httptest.NewRecorder()

		IngestTokenAuth("", logger)(okHandler()).ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d got %d", http.StatusOK, rec.Code)
		}
	})

	t.Run("rejects missing token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/executions/e/events", nil)
		rec := httptest.NewRecorder()

		IngestTokenAuth("producer-secret", logger)(okHandler()).ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected status %d got %d", http.StatusUnauthorized, rec.Code)
		}
		if got := rec.Header().Get("WWW-Authenticate"); got != "Bearer" {
			t.Fatalf("expected WWW-Authenticate header %q got %q", "Bearer", got)
		}
	})

	t.Run("rejects wrong token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/executions/e/events", nil)
		req.Header.Set("Authorization", "Bearer nope")
		rec := httptest.NewRecorder()

		IngestTokenAuth("producer-secret", logger)(okHandler()).ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected status %d got %d", http.StatusUnauthorized, rec.Code)
		}
	})

	t.Run("accepts valid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/executions/e/events", nil)
		req.Header.Set("Authorization", "bearer producer-secret")
		rec := httptest.NewRecorder()

		IngestTokenAuth("producer-secret", logger)(okHandler()).ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d got %d", http.StatusOK, rec.Code)
		}
	})
}

func TestBearerToken(t *testing.T) {
	cases := []struct {
		in    string
		token string
		ok    bool
	}{
		{in: "", ok: false},
		{in: "Bearer", ok: false},
		{in: "Bearer ", ok: false},
		{in: "Basic abc", ok: false},
		{in: "Bearer abc", token: "abc", ok: true},
	}

	for _, tc := range cases {
		token, ok := bearerToken(tc.in)
		if ok != tc.ok || token != tc.token {
			t.Fatalf("bearerToken(%q): expected (%q,%v) got (%q,%v)", tc.in, tc.token, tc.ok, token, ok)
		}
	}
}
