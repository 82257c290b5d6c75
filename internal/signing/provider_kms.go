package signing

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
)

// KMSAPI is the subset of the KMS client the provider uses.
type KMSAPI interface {
	Sign(ctx context.Context, params *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error)
}

// KMSProvider signs digests with an asymmetric KMS key.
type KMSProvider struct {
	Client KMSAPI
	KeyID  string
}

func NewKMSProvider(client KMSAPI, keyID string) *KMSProvider {
	return &KMSProvider{Client: client, KeyID: keyID}
}

func (p *KMSProvider) Sign(ctx context.Context, payload []byte) (Result, error) {
	digest := sha256.Sum256(payload)
	out, err := p.Client.Sign(ctx, &kms.SignInput{
		KeyId:            &p.KeyID,
		Message:          digest[:],
		MessageType:      kmstypes.MessageTypeDigest,
		SigningAlgorithm: kmstypes.SigningAlgorithmSpecRsassaPkcs1V15Sha256,
	})
	if err != nil {
		return Result{}, mapKMSError(err)
	}
	return Result{
		ProviderID: "kms:" + p.KeyID,
		Signature:  out.Signature,
	}, nil
}

func mapKMSError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrProviderTimeout, err)
	}
	var invalidState *kmstypes.KMSInvalidStateException
	var notFound *kmstypes.NotFoundException
	var disabled *kmstypes.DisabledException
	if errors.As(err, &invalidState) || errors.As(err, &notFound) || errors.As(err, &disabled) {
		return fmt.Errorf("%w: %v", ErrProviderReject, err)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline") {
		return fmt.Errorf("%w: %v", ErrProviderTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}

var _ Provider = (*KMSProvider)(nil)
