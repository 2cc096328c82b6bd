// Package fetch wraps outbound HTTP calls to synthesis providers with bounded
// exponential backoff.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

// Retry defaults.
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 300 * time.Millisecond
	drainLimit        = 64 << 10
	maxBackoffShift   = 62
)

// MaxBackoff is the longest single wait between attempts.
const MaxBackoff = time.Duration(math.MaxInt64)

// ErrNilRequest is returned when a RequestFunc yields no request.
var ErrNilRequest = errors.New("request builder returned nil request")

// RequestFunc builds a fresh request for every attempt, so bodies can be replayed.
type RequestFunc func(ctx context.Context) (*http.Request, error)

// Doer sends a single HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Fetcher retries requests that fail at the network level or return 429, 502, 503
// or 504. It makes at most MaxRetries+1 attempts and waits BaseDelay*2^(n-1) before
// retry n.
type Fetcher struct {
	client     Doer
	maxRetries int
	baseDelay  time.Duration
	sleep      SleepFunc
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithMaxRetries sets the number of retries after the first attempt.
func WithMaxRetries(n int) Option {
	return func(f *Fetcher) {
		if n >= 0 {
			f.maxRetries = n
		}
	}
}

// WithBaseDelay sets the delay before the first retry.
func WithBaseDelay(d time.Duration) Option {
	return func(f *Fetcher) {
		if d >= 0 {
			f.baseDelay = d
		}
	}
}

// WithSleep replaces the wait between attempts.
func WithSleep(sleep SleepFunc) Option {
	return func(f *Fetcher) {
		if sleep != nil {
			f.sleep = sleep
		}
	}
}

// New creates a Fetcher around client. A nil client uses http.DefaultClient.
func New(client Doer, opts ...Option) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}

	fetcher := &Fetcher{
		client:     client,
		maxRetries: DefaultMaxRetries,
		baseDelay:  DefaultBaseDelay,
		sleep:      sleepContext,
	}

	for _, opt := range opts {
		opt(fetcher)
	}

	return fetcher
}

// IsRetryableStatus reports whether status warrants another attempt.
func IsRetryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// Do runs build and sends the request until it gets a non-retryable response or runs
// out of attempts. The last response or network error is returned unchanged; the
// caller owns the returned body.
func (f *Fetcher) Do(ctx context.Context, build RequestFunc) (*http.Response, error) {
	var (
		resp    *http.Response
		lastErr error
	)

	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			sleepErr := f.sleep(ctx, f.backoff(attempt))
			if sleepErr != nil {
				return nil, fmt.Errorf("retry wait interrupted after %d attempts: %w", attempt, sleepErr)
			}
		}

		req, err := build(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to build request: %w", err)
		}

		if req == nil {
			return nil, ErrNilRequest
		}

		resp, lastErr = f.client.Do(req)
		if lastErr != nil {
			if ctx.Err() != nil {
				return nil, lastErr
			}

			continue
		}

		if !IsRetryableStatus(resp.StatusCode) || attempt == f.maxRetries {
			return resp, nil
		}

		discardBody(resp)
	}

	return nil, lastErr
}

// backoff returns the wait before retry n (n >= 1), saturating at MaxBackoff
// instead of overflowing.
func (f *Fetcher) backoff(retry int) time.Duration {
	if f.baseDelay <= 0 {
		return 0
	}

	shift := retry - 1
	if shift >= maxBackoffShift || f.baseDelay > MaxBackoff>>shift {
		return MaxBackoff
	}

	return f.baseDelay << shift
}

func discardBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, drainLimit))
	_ = resp.Body.Close()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
