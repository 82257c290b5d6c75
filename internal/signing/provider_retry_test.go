package signing

import (
	"context"
	"errors"
	"testing"
	"time"
)

type scriptedProvider struct {
	errs  []error
	calls int
}

func (p *scriptedProvider) Sign(ctx context.Context, payload []byte) (Result, error) {
	idx := p.calls
	p.calls++
	if idx < len(p.errs) && p.errs[idx] != nil {
		return Result{}, p.errs[idx]
	}
	return Result{ProviderID: "scripted", Signature: []byte("sig")}, nil
}

func fastPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Base: time.Millisecond, Factor: 2.0, Jitter: 0.25}
}

func TestRetryRecoversFromTransientFailure(t *testing.T) {
	base := &scriptedProvider{errs: []error{ErrProviderUnavailable, ErrProviderTimeout, nil}}
	p := WithRetry(base, fastPolicy())

	res, err := p.Sign(context.Background(), []byte("payload"))
	if err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if res.ProviderID != "scripted" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if base.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", base.calls)
	}
}

func TestRetryStopsAfterAttemptBudget(t *testing.T) {
	base := &scriptedProvider{errs: []error{ErrProviderUnavailable, ErrProviderUnavailable, ErrProviderUnavailable, nil}}
	p := WithRetry(base, fastPolicy())

	_, err := p.Sign(context.Background(), []byte("payload"))
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected surfaced unavailable, got %v", err)
	}
	if base.calls != 3 {
		t.Fatalf("budget is 3 attempts, got %d", base.calls)
	}
}

func TestRetryDoesNotRetryRejection(t *testing.T) {
	base := &scriptedProvider{errs: []error{ErrProviderReject, nil}}
	p := WithRetry(base, fastPolicy())

	_, err := p.Sign(context.Background(), []byte("payload"))
	if !errors.Is(err, ErrProviderReject) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if base.calls != 1 {
		t.Fatalf("rejection must not be retried, got %d calls", base.calls)
	}
}

func TestRetryObservesCancellation(t *testing.T) {
	base := &scriptedProvider{errs: []error{ErrProviderUnavailable, ErrProviderUnavailable, nil}}
	p := WithRetry(base, RetryPolicy{Attempts: 3, Base: time.Minute, Factor: 2.0})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Sign(ctx, []byte("payload"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

func TestSoftwareProviderRoundTrip(t *testing.T) {
	p, err := NewSoftwareProvider()
	if err != nil {
		t.Fatalf("NewSoftwareProvider: %v", err)
	}
	payload := []byte(`{"intent":"approve_and_sign"}`)
	res, err := p.Sign(context.Background(), payload)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if res.ProviderID != "software-dev" || len(res.CertChain) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if err := p.Verify(payload, res.Signature); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := p.Verify([]byte("other payload"), res.Signature); err == nil {
		t.Fatal("signature must not verify over different bytes")
	}
}
