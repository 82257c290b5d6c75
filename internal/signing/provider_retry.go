package signing

import (
	"context"
	"math/rand"
	"time"

	"esign-backend/internal/shared/telemetry"
)

// RetryPolicy bounds provider retries. Only ProviderUnavailable and
// ProviderTimeout are retried; rejections are fatal for the attempt.
type RetryPolicy struct {
	Attempts int
	Base     time.Duration
	Factor   float64
	Jitter   float64
}

// DefaultRetryPolicy matches the documented defaults: 3 attempts, 200 ms
// base, doubling, ±25% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Base: 200 * time.Millisecond, Factor: 2.0, Jitter: 0.25}
}

type retryingProvider struct {
	base   Provider
	policy RetryPolicy
}

// WithRetry wraps a provider with bounded exponential backoff. Retrying the
// same payload is safe: the payload hash acts as the idempotency key.
func WithRetry(base Provider, policy RetryPolicy) Provider {
	if base == nil {
		return nil
	}
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	return retryingProvider{base: base, policy: policy}
}

func (r retryingProvider) Sign(ctx context.Context, payload []byte) (Result, error) {
	var (
		res Result
		err error
	)
	delay := r.policy.Base
	for attempt := 1; attempt <= r.policy.Attempts; attempt++ {
		res, err = r.base.Sign(ctx, payload)
		if err == nil || !RetryableProviderErr(err) {
			return res, err
		}
		if attempt == r.policy.Attempts {
			break
		}
		telemetry.Warn("signing provider retry", map[string]any{
			"attempt": attempt,
			"error":   err.Error(),
		})
		select {
		case <-time.After(jittered(delay, r.policy.Jitter)):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
		delay = time.Duration(float64(delay) * r.policy.Factor)
	}
	return res, err
}

func jittered(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return d
	}
	spread := 1 + jitter*(2*rand.Float64()-1)
	return time.Duration(float64(d) * spread)
}
