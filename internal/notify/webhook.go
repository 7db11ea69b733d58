// SPDX-License-Identifier: Apache-2.0

// Package notify delivers signed completion webhooks for finished streams.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/adiadia/execstream/internal/domain"
	"github.com/adiadia/execstream/internal/stream"
)

const (
	webhookRetryAttempts = 3
	webhookRetryBase     = 300 * time.Millisecond
	webhookHeaderSig     = "X-Signature"
)

type completionPayload struct {
	ExecutionID string                 `json:"execution_id"`
	Status      domain.ExecutionStatus `json:"status,omitempty"`
	LogLength   int                    `json:"log_length"`
	LastSeq     int64                  `json:"last_sequence"`
	LastError   string                 `json:"last_error,omitempty"`
	CompletedAt time.Time              `json:"completed_at"`
}

type Config struct {
	URL    string
	Secret string
	Client *http.Client
	Logger *slog.Logger
}

// Notifier posts one webhook per completed stream. A zero URL disables it.
type Notifier struct {
	url       string
	secret    string
	client    *http.Client
	logger    *slog.Logger
	retryBase time.Duration
	now       func() time.Time

	wg sync.WaitGroup
}

func New(cfg Config) *Notifier {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Notifier{
		url:       strings.TrimSpace(cfg.URL),
		secret:    cfg.Secret,
		client:    client,
		logger:    logger,
		retryBase: webhookRetryBase,
		now:       time.Now,
	}
}

func (n *Notifier) Enabled() bool {
	return n != nil && n.url != ""
}

// Hook returns a completion hook that delivers in the background. Deliveries
// stop retrying once ctx is done; Wait blocks until they have returned.
func (n *Notifier) Hook(ctx context.Context) func(stream.State) {
	return func(st stream.State) {
		if !n.Enabled() {
			return
		}
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			_ = n.Deliver(ctx, st)
		}()
	}
}

func (n *Notifier) Wait() {
	n.wg.Wait()
}

// Deliver posts the completion payload, retrying non-2xx responses with
// exponential backoff.
func (n *Notifier) Deliver(ctx context.Context, st stream.State) error {
	if !n.Enabled() {
		return nil
	}

	body, err := json.Marshal(payloadFor(st, n.now().UTC()))
	if err != nil {
		n.logger.Error("webhook payload marshal failed",
			"execution_id", st.ExecutionID,
			"error", err,
		)
		return err
	}

	signature := sign(n.secret, body)

	var lastErr error
	for attempt := 1; attempt <= webhookRetryAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
		if err != nil {
			n.logger.Error("webhook request build failed",
				"execution_id", st.ExecutionID,
				"error", err,
			)
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if signature != "" {
			req.Header.Set(webhookHeaderSig, signature)
		}

		resp, err := n.client.Do(req)
		if err != nil {
			lastErr = err
			n.logger.Warn("webhook failure",
				"execution_id", st.ExecutionID,
				"attempt", attempt,
				"error", err,
			)
		} else {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()

			if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
				n.logger.Info("webhook delivered",
					"execution_id", st.ExecutionID,
					"attempt", attempt,
					"response_status", resp.StatusCode,
				)
				return nil
			}

			lastErr = fmt.Errorf("non-2xx response: %d", resp.StatusCode)
			n.logger.Warn("webhook failure",
				"execution_id", st.ExecutionID,
				"attempt", attempt,
				"response_status", resp.StatusCode,
			)
		}

		if attempt < webhookRetryAttempts {
			timer := time.NewTimer(n.retryBase * time.Duration(1<<(attempt-1)))
			select {
			case <-ctx.Done():
				timer.Stop()
				n.logger.Warn("webhook canceled before retry",
					"execution_id", st.ExecutionID,
					"attempt", attempt,
					"error", ctx.Err(),
				)
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	n.logger.Error("webhook retries exhausted",
		"execution_id", st.ExecutionID,
		"error", lastErr,
	)
	return lastErr
}

func payloadFor(st stream.State, at time.Time) completionPayload {
	p := completionPayload{
		ExecutionID: st.ExecutionID,
		Status:      st.Status,
		LogLength:   len(st.Log),
		LastSeq:     st.Expected - 1,
		LastError:   st.LastError,
		CompletedAt: at,
	}
	if p.LastSeq < 0 {
		p.LastSeq = 0
	}
	return p
}

func sign(secret string, payload []byte) string {
	if strings.TrimSpace(secret) == "" {
		return ""
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
