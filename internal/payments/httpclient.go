package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"payment-gateway/internal/util"

	"go.uber.org/zap"
)

const (
	defaultMaxRetries   = 3
	defaultInitialDelay = 1 * time.Second
)

// restClient is the shared transport for all provider clients: JSON in/out,
// per-call timeout, bounded exponential backoff on transport errors only.
type restClient struct {
	provider   string
	httpClient *http.Client
	maxRetries int
	delay      time.Duration
	logger     *zap.Logger
}

func newRESTClient(provider string, timeout time.Duration, maxRetries int) *restClient {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &restClient{
		provider:   provider,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		delay:      defaultInitialDelay,
		logger:     util.GetLogger(),
	}
}

type basicAuth struct {
	user, pass string
}

// doJSON performs one logical provider call. Network failures and 429/5xx
// responses are retried with exponential backoff; 4xx responses are not.
// A nil out skips response decoding.
func (c *restClient) doJSON(ctx context.Context, operation, method, url string, auth *basicAuth, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", operation, err)
		}
	}

	start := time.Now()
	defer func() {
		util.ProviderCallLatency.WithLabelValues(c.provider, operation).Observe(time.Since(start).Seconds())
	}()

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			util.ProviderCallRetries.WithLabelValues(c.provider).Inc()
			backoff := c.delay * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return fmt.Errorf("failed to build %s request: %w", operation, err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if auth != nil {
			req.SetBasicAuth(auth.user, auth.pass)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = &ProviderAPIError{Provider: c.provider, Operation: operation, StatusCode: 0, Body: err.Error()}
			c.logger.Warn("Provider call transport error",
				zap.String("provider", c.provider),
				zap.String("operation", operation),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			continue
		}

		raw, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = &ProviderAPIError{Provider: c.provider, Operation: operation, StatusCode: resp.StatusCode, Body: readErr.Error()}
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			apiErr := &ProviderAPIError{
				Provider:   c.provider,
				Operation:  operation,
				StatusCode: resp.StatusCode,
				Body:       string(raw),
			}
			if apiErr.Retryable() {
				lastErr = apiErr
				c.logger.Warn("Provider call failed, will retry",
					zap.String("provider", c.provider),
					zap.String("operation", operation),
					zap.Int("status", resp.StatusCode),
					zap.Int("attempt", attempt+1))
				continue
			}
			return apiErr
		}

		if out != nil && len(raw) > 0 {
			if err := json.Unmarshal(raw, out); err != nil {
				return fmt.Errorf("failed to decode %s response: %w", operation, err)
			}
		}
		return nil
	}

	return lastErr
}
