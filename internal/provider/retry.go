package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"time"

	"textrelay/internal/domain"
)

const maxRetries = 3

// retryBaseDelay is the unit of the quadratic backoff between attempts.
var retryBaseDelay = time.Second

// retryableError indicates a transient failure that can be retried.
type retryableError struct {
	statusCode int
	body       string
}

func (e *retryableError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.statusCode, e.body)
}

// doWithRetry executes an idempotent HTTP request with exponential backoff
// for transient errors (network failures, 5xx, 429). Generation and pull
// requests are never retried.
func doWithRetry(ctx context.Context, client *http.Client, buildReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			base := time.Duration(attempt*attempt) * retryBaseDelay
			jitter := time.Duration(rand.Int64N(int64(base/2 + 1)))
			backoff := base + jitter
			logger.Warn("retrying request", "attempt", attempt+1, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil, classifyTransportErr(ctx.Err())
			case <-time.After(backoff):
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, classifyTransportErr(err)
			}
			if attempt < maxRetries {
				logger.Warn("request failed, will retry", "err", err)
				continue
			}
			return nil, fmt.Errorf("after %d retries: %w", maxRetries, classifyTransportErr(err))
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			lastErr = &retryableError{statusCode: resp.StatusCode, body: string(body)}
			if attempt < maxRetries {
				logger.Warn("server error, will retry", "status", resp.StatusCode, "body", string(body))
				continue
			}
			return nil, fmt.Errorf("%w: server error after %d retries: %w", domain.ErrBackendUnavailable, maxRetries, lastErr)
		}

		return resp, nil
	}

	return nil, lastErr
}

// classifyTransportErr maps a failed round trip onto the error taxonomy.
// Deadlines carry both ErrBackendUnavailable and ErrTimeout.
func classifyTransportErr(err error) error {
	if isTimeout(err) {
		return fmt.Errorf("%w: %w: %w", domain.ErrBackendUnavailable, domain.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrBackendUnavailable, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// readErrorBody returns a short excerpt of a failed response body for logs and errors.
func readErrorBody(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, 512))
	return string(body)
}
