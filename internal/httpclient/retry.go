package httpclient

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"net"
	"net/url"
	"strings"
	"time"

	"lunchfinder/discovery/internal/domain"
)

// RetryConfig controls how many extra attempts the client makes and how long
// it waits before each of them.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     bool
}

// DefaultRetryConfig returns 3 retries with delays of 1s, 2s and 4s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// Delay returns baseDelay * 2^retry, where retry is zero for the first retry.
func (c RetryConfig) Delay(retry int) time.Duration {
	if retry < 0 {
		retry = 0
	}
	delay := c.BaseDelay
	for i := 0; i < retry; i++ {
		delay *= 2
		if c.MaxDelay > 0 && delay >= c.MaxDelay {
			delay = c.MaxDelay
			break
		}
	}
	if c.Jitter {
		delay = applyJitter(delay)
	}
	return delay
}

// applyJitter adds ±25% randomization to a delay.
func applyJitter(d time.Duration) time.Duration {
	factor := 0.75 + rand.Float64()*0.5
	return time.Duration(float64(d) * factor)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// classifyTransportError maps an error from http.Client.Do (or from reading
// the body) onto the client taxonomy. parent is the caller's context; an
// expired per-attempt context is a timeout, a cancelled parent is not retried.
func classifyTransportError(parent context.Context, err error) *domain.PlacesError {
	// url.Error carries the full request URL, including the API key.
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		lower := strings.ToLower(urlErr.Err.Error())
		if strings.Contains(lower, "unsupported protocol scheme") || strings.Contains(lower, "no host in request url") {
			return &domain.PlacesError{Kind: domain.PlacesErrInvalidURL, Err: urlErr.Err}
		}
		err = urlErr.Err
	}

	if parentErr := parent.Err(); parentErr != nil {
		if errors.Is(parentErr, context.DeadlineExceeded) {
			return &domain.PlacesError{Kind: domain.PlacesErrTimeout, Err: parentErr}
		}
		return &domain.PlacesError{Kind: domain.PlacesErrUnknown, Message: "request cancelled", Err: parentErr}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.PlacesError{Kind: domain.PlacesErrTimeout, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &domain.PlacesError{Kind: domain.PlacesErrTimeout, Err: err}
		}
		return &domain.PlacesError{Kind: domain.PlacesErrNetworkUnavailable, Err: err}
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &domain.PlacesError{Kind: domain.PlacesErrNetworkUnavailable, Err: err}
	}

	// Anything else that failed before a response arrived is a transport failure.
	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded") {
		return &domain.PlacesError{Kind: domain.PlacesErrTimeout, Err: err}
	}
	return &domain.PlacesError{Kind: domain.PlacesErrNetworkUnavailable, Err: err}
}
