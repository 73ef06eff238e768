package elexon

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

// BackoffStrategy selects how retry delays grow.
type BackoffStrategy string

const (
	BackoffExponential BackoffStrategy = "exponential"
	BackoffLinear      BackoffStrategy = "linear"
)

const (
	defaultMaxAttempts = 3
	defaultBackoffBase = time.Second
	defaultMaxBackoff  = 30 * time.Second
)

// RetryPolicy bounds how often and how patiently a request is retried.
type RetryPolicy struct {
	MaxAttempts       int
	Base              time.Duration
	MaxBackoff        time.Duration
	Strategy          BackoffStrategy
	RetryClientErrors bool
}

// DefaultRetryPolicy returns 3 attempts with exponential backoff from 1s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: defaultMaxAttempts,
		Base:        defaultBackoffBase,
		MaxBackoff:  defaultMaxBackoff,
		Strategy:    BackoffExponential,
	}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts <= 0 {
		return defaultMaxAttempts
	}
	return p.MaxAttempts
}

// Delay returns the wait after failed attempt n (1-based): base*2^n for
// exponential, base*n for linear, capped at MaxBackoff when set.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 || p.Base <= 0 {
		return 0
	}
	var d time.Duration
	switch p.Strategy {
	case BackoffLinear:
		d = p.Base * time.Duration(attempt)
	default:
		d = p.Base
		for i := 0; i < attempt; i++ {
			if p.MaxBackoff > 0 && d >= p.MaxBackoff {
				break
			}
			if d > time.Duration(1<<62) {
				break
			}
			d *= 2
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}

// Retryable classifies an attempt error.
func (p RetryPolicy) Retryable(err error) bool {
	if err == nil {
		return false
	}
	var formatErr *UpstreamFormatError
	if errors.As(err, &formatErr) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.Status >= 500:
			return true
		case statusErr.Status == http.StatusTooManyRequests, statusErr.Status == http.StatusRequestTimeout:
			return true
		case statusErr.Status >= 400:
			return p.RetryClientErrors
		default:
			return true
		}
	}
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return true
	}
	var decodeErr *DecodeError
	return errors.As(err, &decodeErr)
}

// ParseBackoffStrategy maps a config string to a strategy.
func ParseBackoffStrategy(raw string) (BackoffStrategy, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(BackoffExponential):
		return BackoffExponential, true
	case string(BackoffLinear):
		return BackoffLinear, true
	default:
		return "", false
	}
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
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
