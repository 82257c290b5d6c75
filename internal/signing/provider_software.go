package signing

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"
)

// SoftwareProvider signs with an in-process RSA key under a self-signed
// certificate. Development and test use only.
type SoftwareProvider struct {
	key     *rsa.PrivateKey
	certPEM string
}

// NewSoftwareProvider generates a fresh 2048-bit key and self-signed chain.
func NewSoftwareProvider() (*SoftwareProvider, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "esign-backend software signer", Organization: []string{"esign-backend"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().AddDate(1, 0, 0),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("self-sign certificate: %w", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	return &SoftwareProvider{key: key, certPEM: string(certPEM)}, nil
}

// NewSoftwareProviderFromPEM loads a PKCS#1 or PKCS#8 RSA key so signatures
// stay stable across restarts.
func NewSoftwareProviderFromPEM(pemBytes []byte) (*SoftwareProvider, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in signing key")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		parsed, err8 := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err8 != nil {
			return nil, fmt.Errorf("parse signing key: %w", err)
		}
		rsaKey, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("signing key is not RSA")
		}
		key = rsaKey
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "esign-backend software signer", Organization: []string{"esign-backend"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().AddDate(1, 0, 0),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("self-sign certificate: %w", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	return &SoftwareProvider{key: key, certPEM: string(certPEM)}, nil
}

func (p *SoftwareProvider) Sign(ctx context.Context, payload []byte) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, ErrProviderTimeout
	}
	digest := sha256.Sum256(payload)
	sig, err := rsa.SignPKCS1v15(rand.Reader, p.key, crypto.SHA256, digest[:])
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrProviderReject, err)
	}
	return Result{
		ProviderID: "software-dev",
		Signature:  sig,
		CertChain:  []string{p.certPEM},
	}, nil
}

// Verify checks a signature produced by this provider. Used in tests.
func (p *SoftwareProvider) Verify(payload, signature []byte) error {
	digest := sha256.Sum256(payload)
	return rsa.VerifyPKCS1v15(&p.key.PublicKey, crypto.SHA256, digest[:], signature)
}

var _ Provider = (*SoftwareProvider)(nil)
