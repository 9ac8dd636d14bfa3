package kms

import (
	"context"
	"fmt"
	"strconv"

	"github.com/libops/relocation/internal/vault"
)

// VaultTransit keeps the relocation key pair in a Vault transit engine.
type VaultTransit struct {
	transit *vault.Transit
	cfg     Config
	version int
}

// NewVaultTransit wraps client for the key named in cfg.
func NewVaultTransit(client *vault.Client, cfg Config) (*VaultTransit, error) {
	version, err := strconv.Atoi(cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("invalid transit key version %q: %w", cfg.Version, err)
	}
	return &VaultTransit{
		transit: vault.NewTransit(client, cfg.Mount),
		cfg:     cfg,
		version: version,
	}, nil
}

// Config implements Service.
func (v *VaultTransit) Config() Config { return v.cfg }

// GetPublicKey implements Service.
func (v *VaultTransit) GetPublicKey(ctx context.Context) ([]byte, error) {
	return v.transit.PublicKey(ctx, v.cfg.Key, v.version)
}

// AsymmetricDecrypt implements Service.
func (v *VaultTransit) AsymmetricDecrypt(ctx context.Context, ciphertext []byte) (*DecryptResult, error) {
	plaintext, err := v.transit.Decrypt(ctx, v.cfg.Key, v.version, ciphertext)
	if err != nil {
		if vault.IsBadRequest(err) {
			return nil, invalidCiphertext(err)
		}
		return nil, err
	}
	return &DecryptResult{Plaintext: plaintext, CRC32C: Checksum(plaintext)}, nil
}
