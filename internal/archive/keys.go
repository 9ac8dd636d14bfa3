package archive

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// PrivateKeyDecryptor unwraps data keys with an in-process RSA key. It
// backs the local key service and tests.
type PrivateKeyDecryptor struct {
	Key *rsa.PrivateKey
}

// DecryptDataKey implements Decryptor.
func (d *PrivateKeyDecryptor) DecryptDataKey(_ context.Context, wrapped []byte) ([]byte, error) {
	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, d.Key, wrapped, nil)
	if err != nil {
		return nil, &DecryptionError{Reason: "unwrap data key", Err: err}
	}
	return key, nil
}

// ParsePrivateKey decodes a PEM encoded RSA private key in PKCS#8 or PKCS#1 form.
func ParsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("private key is not PEM encoded")
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		priv, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is %T, want RSA", key)
		}
		return priv, nil
	}

	priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return priv, nil
}

// MarshalPublicKey encodes pub as a PKIX PEM block, the form key services
// hand out.
func MarshalPublicKey(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}
