package kms

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/time/rate"
	cloudkms "google.golang.org/api/cloudkms/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// CloudKMS uses a Google Cloud KMS asymmetric decryption key.
type CloudKMS struct {
	versions *cloudkms.ProjectsLocationsKeyRingsCryptoKeysCryptoKeyVersionsService
	cfg      Config
	limiter  *rate.Limiter
}

// NewCloudKMS creates a Cloud KMS client for cfg. A nil limiter disables
// client side throttling.
func NewCloudKMS(ctx context.Context, cfg Config, limiter *rate.Limiter, opts ...option.ClientOption) (*CloudKMS, error) {
	svc, err := cloudkms.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Cloud KMS client: %w", err)
	}
	return &CloudKMS{
		versions: svc.Projects.Locations.KeyRings.CryptoKeys.CryptoKeyVersions,
		cfg:      cfg,
		limiter:  limiter,
	}, nil
}

// Config implements Service.
func (c *CloudKMS) Config() Config { return c.cfg }

func (c *CloudKMS) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// GetPublicKey implements Service.
func (c *CloudKMS) GetPublicKey(ctx context.Context) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	pk, err := c.versions.GetPublicKey(c.cfg.KeyVersionName()).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get public key %s: %w", c.cfg.KeyVersionName(), err)
	}
	if pk.PemCrc32c != 0 && int64(Checksum([]byte(pk.Pem))) != pk.PemCrc32c {
		return nil, fmt.Errorf("get public key %s: %w", c.cfg.KeyVersionName(), ErrChecksumMismatch)
	}
	return []byte(pk.Pem), nil
}

// AsymmetricDecrypt implements Service.
func (c *CloudKMS) AsymmetricDecrypt(ctx context.Context, ciphertext []byte) (*DecryptResult, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	req := &cloudkms.AsymmetricDecryptRequest{
		Ciphertext:       base64.StdEncoding.EncodeToString(ciphertext),
		CiphertextCrc32c: int64(Checksum(ciphertext)),
	}
	resp, err := c.versions.AsymmetricDecrypt(c.cfg.KeyVersionName(), req).Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusBadRequest {
			return nil, invalidCiphertext(err)
		}
		return nil, fmt.Errorf("asymmetric decrypt with %s: %w", c.cfg.KeyVersionName(), err)
	}
	if !resp.VerifiedCiphertextCrc32c {
		return nil, fmt.Errorf("asymmetric decrypt request: %w", ErrChecksumMismatch)
	}

	plaintext, err := base64.StdEncoding.DecodeString(resp.Plaintext)
	if err != nil {
		return nil, fmt.Errorf("decode plaintext: %w", err)
	}
	return &DecryptResult{Plaintext: plaintext, CRC32C: uint32(resp.PlaintextCrc32c)}, nil
}
