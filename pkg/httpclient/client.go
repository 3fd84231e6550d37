package httpclient

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"net/http"
	"time"
)

// Config holds HTTP client configuration for outbound calls, such as fetching
// the identity provider's signing keys.
type Config struct {
	Timeout         time.Duration
	MaxRetries      int
	RetryWaitMin    time.Duration
	RetryWaitMax    time.Duration
	MaxConnsPerHost int
}

// DefaultConfig returns defaults sized for calls made inline with a user
// request.
func DefaultConfig() Config {
	return Config{
		Timeout:         10 * time.Second,
		MaxRetries:      2,
		RetryWaitMin:    100 * time.Millisecond,
		RetryWaitMax:    time.Second,
		MaxConnsPerHost: 20,
	}
}

// NewTransport returns a pooled transport with conservative dial and TLS
// timeouts.
func NewTransport(cfg Config) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   cfg.MaxConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

// New returns an *http.Client that retries idempotent requests.
func New(cfg Config) *http.Client {
	return &http.Client{
		Transport: NewRetryTransport(NewTransport(cfg), cfg),
		Timeout:   cfg.Timeout,
	}
}

// RetryTransport retries bodyless GET and HEAD requests on network errors and
// 5xx responses (except 501) with jittered exponential backoff.
type RetryTransport struct {
	next http.RoundTripper
	cfg  Config
}

// NewRetryTransport wraps next with retry behaviour.
func NewRetryTransport(next http.RoundTripper, cfg Config) *RetryTransport {
	return &RetryTransport{next: next, cfg: cfg}
}

func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !retryable(req) {
		return t.next.RoundTrip(req)
	}

	ctx := req.Context()
	for attempt := 0; ; attempt++ {
		resp, err := t.next.RoundTrip(req)
		last := attempt >= t.cfg.MaxRetries

		switch {
		case err != nil:
			if last || !isRetryableError(err) {
				return nil, err
			}
		case resp.StatusCode >= 500 && resp.StatusCode != http.StatusNotImplemented && !last:
			_ = resp.Body.Close()
		default:
			return resp, nil
		}

		wait := t.cfg.RetryWaitMin << attempt
		if wait > t.cfg.RetryWaitMax {
			wait = t.cfg.RetryWaitMax
		}

		timer := time.NewTimer(addJitter(wait))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}

func retryable(req *http.Request) bool {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return false
	}
	return req.Body == nil || req.Body == http.NoBody
}

// isRetryableError reports whether err is a transient network failure.
// Cancellation and deadline errors are never retried.
func isRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// addJitter spreads d by up to ±25%.
func addJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	quarter := int64(d) / 4
	if quarter == 0 {
		return d
	}
	return d - time.Duration(quarter) + time.Duration(rand.Int64N(2*quarter+1))
}
