package kms

import (
	"context"
	"crypto/rsa"
	"fmt"
	"os"

	"github.com/libops/relocation/internal/archive"
)

// Local holds the private key in process. It is meant for development
// deployments and tests.
type Local struct {
	key *rsa.PrivateKey
	pub []byte
	cfg Config
}

// NewLocal wraps an RSA private key.
func NewLocal(key *rsa.PrivateKey, cfg Config) (*Local, error) {
	pub, err := archive.MarshalPublicKey(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	return &Local{key: key, pub: pub, cfg: cfg}, nil
}

// NewLocalFromFile loads a PEM private key from path.
func NewLocalFromFile(path string, cfg Config) (*Local, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	key, err := archive.ParsePrivateKey(data)
	if err != nil {
		return nil, err
	}
	return NewLocal(key, cfg)
}

// Config implements Service.
func (l *Local) Config() Config { return l.cfg }

// GetPublicKey implements Service.
func (l *Local) GetPublicKey(context.Context) ([]byte, error) {
	return l.pub, nil
}

// AsymmetricDecrypt implements Service.
func (l *Local) AsymmetricDecrypt(ctx context.Context, ciphertext []byte) (*DecryptResult, error) {
	plaintext, err := (&archive.PrivateKeyDecryptor{Key: l.key}).DecryptDataKey(ctx, ciphertext)
	if err != nil {
		return nil, err
	}
	return &DecryptResult{Plaintext: plaintext, CRC32C: Checksum(plaintext)}, nil
}
