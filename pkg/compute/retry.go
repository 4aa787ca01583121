package compute

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/digitalocean/godo"

	"github.com/ebb-cloud/ebb/pkg/log"
	"github.com/ebb-cloud/ebb/pkg/metrics"
)

const (
	maxRetries      = 3
	initialInterval = 1 * time.Second
	maxInterval     = 30 * time.Second
)

// ErrRetriesExhausted wraps the last provider error after all retries failed.
var ErrRetriesExhausted = errors.New("provider retries exhausted")

func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialInterval
	b.MaxInterval = maxInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// withRetry runs one provider call with bounded retries. Rate limits honor
// the server's Retry-After when it asks for more than the backoff would
// wait; server errors and transport failures back off exponentially; any
// other client error fails immediately.
func withRetry[T any](ctx context.Context, c *Client, op string, fn func() (T, *godo.Response, error)) (T, error) {
	var zero T
	bo := newBackOff()

	for attempt := 0; ; attempt++ {
		result, _, err := fn()
		if err == nil {
			return result, nil
		}

		retryable, retryAfter := classify(err)
		if !retryable {
			return zero, fmt.Errorf("%s: %w", op, err)
		}
		if attempt >= maxRetries {
			return zero, fmt.Errorf("%s: %w: %w", op, ErrRetriesExhausted, err)
		}

		delay := bo.NextBackOff()
		if retryAfter > delay {
			delay = retryAfter
		}
		metrics.ProviderRetries.WithLabelValues(op).Inc()
		logger := log.WithComponent("compute")
		logger.Warn().
			Str("op", op).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Err(err).
			Msg("Provider call failed, retrying")

		if err := c.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
}

// IsNotFound reports whether err is the provider saying the resource does
// not exist. Deletes treat this as already done.
func IsNotFound(err error) bool {
	var errResp *godo.ErrorResponse
	return errors.As(err, &errResp) && errResp.Response != nil &&
		errResp.Response.StatusCode == http.StatusNotFound
}

// classify reports whether the error is worth retrying and how long the
// server asked us to wait, when it did.
func classify(err error) (retryable bool, retryAfter time.Duration) {
	var errResp *godo.ErrorResponse
	if errors.As(err, &errResp) && errResp.Response != nil {
		code := errResp.Response.StatusCode
		switch {
		case code == http.StatusTooManyRequests:
			return true, parseRetryAfter(errResp.Response.Header.Get("Retry-After"))
		case code >= 500:
			return true, 0
		default:
			return false, 0
		}
	}
	if errors.Is(err, context.Canceled) {
		return false, 0
	}
	// Transport-level failure: connection reset, DNS, timeout.
	return true, 0
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	var seconds int
	if _, err := fmt.Sscanf(header, "%d", &seconds); err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// sleepContext waits for d or until ctx ends, whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
