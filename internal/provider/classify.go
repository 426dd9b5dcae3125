package provider

import (
	"context"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/marketcore/aggregator/internal/domain"
)

// classifyHTTPStatus maps an upstream HTTP status to the spec's error
// taxonomy (spec.md §4.1): 429 -> RateLimited, 5xx -> Transient, other 4xx
// -> PermanentClient.
func classifyHTTPStatus(provider string, status int, retryAfter string) error {
	switch {
	case status == http.StatusTooManyRequests:
		return &domain.AggregatorError{
			Kind:         domain.ErrRateLimited,
			Provider:     provider,
			Message:      "rate limited",
			RetryAfterMS: parseRetryAfterMS(retryAfter),
		}
	case status >= 500:
		return domain.NewError(domain.ErrTransient, provider, "upstream 5xx", nil)
	case status >= 400:
		return domain.NewError(domain.ErrPermanentClient, provider, "upstream 4xx", nil)
	default:
		return nil
	}
}

func parseRetryAfterMS(header string) int64 {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return int64(secs) * 1000
	}
	return 0
}

// classifyTransportError maps a transport-level failure (DNS, TLS,
// connection refused, context deadline) to Network or Timeout.
func classifyTransportError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewError(domain.ErrTimeout, provider, "request timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.NewError(domain.ErrTimeout, provider, "request timed out", err)
	}
	return domain.NewError(domain.ErrNetwork, provider, "network error", err)
}

// validatePrice rejects non-finite prices as Schema errors, per spec.md §4.1.
func validatePrice(provider string, price float64) error {
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return domain.NewError(domain.ErrSchema, provider, "non-finite or non-positive price", nil)
	}
	return nil
}
