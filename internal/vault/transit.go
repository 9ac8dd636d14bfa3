package vault

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
)

// Transit talks to a transit secrets engine holding the relocation key pair.
type Transit struct {
	client *Client
	mount  string
}

// NewTransit returns a helper for the transit engine mounted at mount.
func NewTransit(client *Client, mount string) *Transit {
	return &Transit{client: client, mount: mount}
}

// PublicKey returns the PEM public key of one version of an asymmetric key.
// A zero version selects the latest.
func (t *Transit) PublicKey(ctx context.Context, key string, version int) ([]byte, error) {
	path := fmt.Sprintf("%s/keys/%s", t.mount, key)
	secret, err := t.client.read(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read transit key %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("transit key %s not found", path)
	}

	if version == 0 {
		latest, err := intField(secret.Data["latest_version"])
		if err != nil {
			return nil, fmt.Errorf("transit key %s: latest_version: %w", path, err)
		}
		version = latest
	}

	versions, ok := secret.Data["keys"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("transit key %s has no key versions", path)
	}
	entry, ok := versions[strconv.Itoa(version)].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("transit key %s has no version %d", path, version)
	}
	pub, ok := entry["public_key"].(string)
	if !ok || pub == "" {
		return nil, fmt.Errorf("transit key %s version %d is not asymmetric", path, version)
	}

	return []byte(pub), nil
}

// Decrypt asks Vault to decrypt ciphertext that was produced outside Vault
// with the public half of key.
func (t *Transit) Decrypt(ctx context.Context, key string, version int, ciphertext []byte) ([]byte, error) {
	path := fmt.Sprintf("%s/decrypt/%s", t.mount, key)
	if version == 0 {
		version = 1
	}
	secret, err := t.client.write(ctx, path, map[string]any{
		"ciphertext": fmt.Sprintf("vault:v%d:%s", version, base64.StdEncoding.EncodeToString(ciphertext)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt with %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("empty decrypt response from %s", path)
	}

	encoded, ok := secret.Data["plaintext"].(string)
	if !ok {
		return nil, fmt.Errorf("decrypt response from %s has no plaintext", path)
	}
	plaintext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode plaintext from %s: %w", path, err)
	}
	return plaintext, nil
}

func intField(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case float64:
		return int(n), nil
	case string:
		return strconv.Atoi(n)
	case interface{ Int64() (int64, error) }:
		i, err := n.Int64()
		return int(i), err
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
