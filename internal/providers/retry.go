package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// RetryConfig bounds a provider invocation.
type RetryConfig struct {
	Attempts int           // extra attempts after the first, connection failures only
	MinDelay time.Duration // backoff before the first retry, doubled each time
	MaxDelay time.Duration
	Timeout  time.Duration // per attempt
}

// DefaultRetryConfig returns 2 retries with 250ms..2s backoff and a 60s timeout.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts: 2,
		MinDelay: 250 * time.Millisecond,
		MaxDelay: 2 * time.Second,
		Timeout:  60 * time.Second,
	}
}

// IsConnectError reports whether err happened while establishing the connection,
// before any request bytes were written: dial failures and DNS lookups.
func IsConnectError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return !dnsErr.IsTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial" && !opErr.Timeout()
	}
	return false
}

// RetryDo runs fn, retrying only connection failures with exponential backoff.
// Upstream responses, timeouts and cancellation are returned immediately.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	delay := cfg.MinDelay
	for attempt := 0; ; attempt++ {
		result, err := fn()
		if err == nil || attempt >= cfg.Attempts || !IsConnectError(err) {
			return result, err
		}

		slog.Warn("provider.connect_retry", "attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
}

// Invoke makes one logical provider call with a per-attempt timeout and
// connection-level retry.
func Invoke(ctx context.Context, p Provider, req GenerateRequest, cfg RetryConfig) (string, error) {
	out, err := RetryDo(ctx, cfg, func() (string, error) {
		callCtx := ctx
		if cfg.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
			defer cancel()
		}
		return p.GenerateResponse(callCtx, req)
	})
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return "", fmt.Errorf("%s: call timed out after %s: %w", p.Name(), cfg.Timeout, err)
	}
	return out, err
}
