// Package archive wraps exported model data in the encrypted tarball that
// relocations are uploaded as.
//
// A relocation archive is a tar stream with four members:
//
//	manifest.json  format version, algorithms and a checksum of export.json
//	key.pub        PEM public key the data key was wrapped with
//	data.key       32 byte data key, RSA-OAEP-SHA256 encrypted
//	export.json    24 byte nonce followed by the XChaCha20-Poly1305 sealed payload
package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	memberManifest  = "manifest.json"
	memberPublicKey = "key.pub"
	memberDataKey   = "data.key"
	memberPayload   = "export.json"

	formatVersion = 1
	cipherName    = "xchacha20-poly1305"
	keyWrapName   = "rsa-oaep-sha256"

	// maxMemberSize bounds any single member we are willing to buffer.
	maxMemberSize = 1 << 30
)

// Manifest describes how the payload was produced.
type Manifest struct {
	Version       int    `json:"version"`
	Cipher        string `json:"cipher"`
	KeyWrap       string `json:"key_wrap"`
	PayloadSHA256 string `json:"payload_sha256"`
}

// Contents is a structurally valid archive that has not been decrypted.
type Contents struct {
	Manifest   Manifest
	PublicKey  []byte
	WrappedKey []byte
	Payload    []byte
}

// Decryptor unwraps the data key with the private half of the key pair.
type Decryptor interface {
	DecryptDataKey(ctx context.Context, wrapped []byte) ([]byte, error)
}

// Encrypt seals plaintext under a fresh data key wrapped with publicKeyPEM.
func Encrypt(plaintext, publicKeyPEM []byte) ([]byte, error) {
	pub, err := ParsePublicKey(publicKeyPEM)
	if err != nil {
		return nil, err
	}

	dataKey := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(dataKey); err != nil {
		return nil, fmt.Errorf("generate data key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(dataKey)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	payload := aead.Seal(nonce, nonce, plaintext, []byte(memberPayload))

	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, dataKey, nil)
	if err != nil {
		return nil, fmt.Errorf("wrap data key: %w", err)
	}

	sum := sha256.Sum256(payload)
	manifest, err := json.Marshal(Manifest{
		Version:       formatVersion,
		Cipher:        cipherName,
		KeyWrap:       keyWrapName,
		PayloadSHA256: hex.EncodeToString(sum[:]),
	})
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	members := []struct {
		name string
		data []byte
	}{
		{memberManifest, manifest},
		{memberPublicKey, publicKeyPEM},
		{memberDataKey, wrapped},
		{memberPayload, payload},
	}
	for _, m := range members {
		hdr := &tar.Header{
			Name:    m.name,
			Mode:    0o600,
			Size:    int64(len(m.data)),
			ModTime: time.Unix(0, 0),
			Format:  tar.FormatPAX,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("write %s header: %w", m.name, err)
		}
		if _, err := tw.Write(m.data); err != nil {
			return nil, fmt.Errorf("write %s: %w", m.name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}

	return buf.Bytes(), nil
}

// Unwrap checks the archive structure without decrypting anything.
func Unwrap(data []byte) (*Contents, error) {
	members := make(map[string][]byte, 4)
	tr := tar.NewReader(bytes.NewReader(data))
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, malformed("read tar", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if hdr.Size > maxMemberSize {
			return nil, malformed(fmt.Sprintf("member %s is too large", hdr.Name), nil)
		}
		if _, dup := members[hdr.Name]; dup {
			return nil, malformed(fmt.Sprintf("duplicate member %s", hdr.Name), nil)
		}
		body, err := io.ReadAll(tr)
		if err != nil {
			return nil, malformed(fmt.Sprintf("read member %s", hdr.Name), err)
		}
		members[hdr.Name] = body
	}

	for _, name := range []string{memberManifest, memberPublicKey, memberDataKey, memberPayload} {
		if _, ok := members[name]; !ok {
			return nil, malformed(fmt.Sprintf("missing member %s", name), nil)
		}
	}

	c := &Contents{
		PublicKey:  members[memberPublicKey],
		WrappedKey: members[memberDataKey],
		Payload:    members[memberPayload],
	}
	if err := json.Unmarshal(members[memberManifest], &c.Manifest); err != nil {
		return nil, malformed("parse manifest", err)
	}
	if c.Manifest.Version != formatVersion || c.Manifest.Cipher != cipherName || c.Manifest.KeyWrap != keyWrapName {
		return nil, malformed(fmt.Sprintf("unsupported format v%d %s/%s", c.Manifest.Version, c.Manifest.Cipher, c.Manifest.KeyWrap), nil)
	}

	sum := sha256.Sum256(c.Payload)
	if hex.EncodeToString(sum[:]) != c.Manifest.PayloadSHA256 {
		return nil, malformed("payload checksum mismatch", nil)
	}
	if len(c.Payload) < chacha20poly1305.NonceSizeX {
		return nil, malformed("payload shorter than nonce", nil)
	}

	return c, nil
}

// Decrypt unwraps the archive, recovers the data key through d and opens
// the payload.
func Decrypt(ctx context.Context, data []byte, d Decryptor) ([]byte, error) {
	c, err := Unwrap(data)
	if err != nil {
		return nil, err
	}

	dataKey, err := d.DecryptDataKey(ctx, c.WrappedKey)
	if err != nil {
		var de *DecryptionError
		if errors.As(err, &de) {
			return nil, err
		}
		return nil, fmt.Errorf("unwrap data key: %w", err)
	}
	if len(dataKey) != chacha20poly1305.KeySize {
		return nil, &DecryptionError{Reason: fmt.Sprintf("data key is %d bytes", len(dataKey))}
	}

	aead, err := chacha20poly1305.NewX(dataKey)
	if err != nil {
		return nil, &DecryptionError{Reason: "init cipher", Err: err}
	}
	nonce, sealed := c.Payload[:aead.NonceSize()], c.Payload[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, []byte(memberPayload))
	if err != nil {
		return nil, &DecryptionError{Reason: "payload authentication failed", Err: err}
	}

	return plaintext, nil
}

// ParsePublicKey decodes a PEM encoded RSA public key in PKIX or PKCS#1 form.
func ParsePublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("public key is not PEM encoded")
	}

	if key, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		pub, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("public key is %T, want RSA", key)
		}
		return pub, nil
	}

	pub, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return pub, nil
}
