package signing

import (
	"context"
	"errors"
)

// Result is a detached signature over a canonical payload.
type Result struct {
	ProviderID string
	Signature  []byte
	TSAToken   []byte
	CertChain  []string
}

// Provider produces detached signatures. Implementations must be safe for
// concurrent use and observe the context deadline.
type Provider interface {
	Sign(ctx context.Context, payload []byte) (Result, error)
}

var (
	// ErrProviderUnavailable is retryable.
	ErrProviderUnavailable = errors.New("signing provider unavailable")
	// ErrProviderReject is fatal for the attempt.
	ErrProviderReject = errors.New("signing provider rejected payload")
	// ErrProviderTimeout is retryable; the payload hash doubles as the
	// idempotency key.
	ErrProviderTimeout = errors.New("signing provider timed out")
)

// RetryableProviderErr reports whether the signing call may be retried.
func RetryableProviderErr(err error) bool {
	return errors.Is(err, ErrProviderUnavailable) || errors.Is(err, ErrProviderTimeout)
}
