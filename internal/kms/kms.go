// Package kms is the key service client: it hands out the relocation public
// key and decrypts wrapped data keys with the private half, which never
// leaves the key service.
package kms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/libops/relocation/internal/archive"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Checksum is the CRC32C key services use to detect corruption in transit.
func Checksum(b []byte) uint32 {
	return crc32.Checksum(b, castagnoli)
}

// ErrChecksumMismatch means data was corrupted between us and the key service.
var ErrChecksumMismatch = errors.New("kms: checksum mismatch")

// Config identifies the relocation key. It is also the kms-config.json
// descriptor handed to the remote validator.
type Config struct {
	Backend   string `json:"backend"`
	ProjectID string `json:"project_id,omitempty"`
	Location  string `json:"location,omitempty"`
	KeyRing   string `json:"keyring,omitempty"`
	Key       string `json:"key"`
	Version   string `json:"version"`
	Mount     string `json:"mount,omitempty"`
}

// KeyVersionName is the Cloud KMS resource name of the key version.
func (c Config) KeyVersionName() string {
	return fmt.Sprintf("projects/%s/locations/%s/keyRings/%s/cryptoKeys/%s/cryptoKeyVersions/%s",
		c.ProjectID, c.Location, c.KeyRing, c.Key, c.Version)
}

// MarshalDescriptor renders the config as kms-config.json.
func (c Config) MarshalDescriptor() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// DecryptResult is a decrypted small ciphertext and the checksum the key
// service reported for it.
type DecryptResult struct {
	Plaintext []byte
	CRC32C    uint32
}

// Service is the key service contract.
type Service interface {
	GetPublicKey(ctx context.Context) ([]byte, error)
	AsymmetricDecrypt(ctx context.Context, ciphertext []byte) (*DecryptResult, error)
	Config() Config
}

// Decryptor adapts a Service to archive.Decryptor.
type Decryptor struct {
	Service Service
}

// DecryptDataKey implements archive.Decryptor.
func (d Decryptor) DecryptDataKey(ctx context.Context, wrapped []byte) ([]byte, error) {
	res, err := d.Service.AsymmetricDecrypt(ctx, wrapped)
	if err != nil {
		return nil, err
	}
	if Checksum(res.Plaintext) != res.CRC32C {
		return nil, fmt.Errorf("verify data key: %w", ErrChecksumMismatch)
	}
	return res.Plaintext, nil
}

func invalidCiphertext(err error) error {
	return &archive.DecryptionError{Reason: "key service rejected the wrapped data key", Err: err}
}
