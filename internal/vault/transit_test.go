package vault

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPEM = "-----BEGIN PUBLIC KEY-----\nMIIB\n-----END PUBLIC KEY-----\n"

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(&Config{Address: srv.URL, Token: "test-token"})
	require.NoError(t, err)
	return client
}

func writeData(w http.ResponseWriter, data map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func TestTransit_PublicKey(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transit/keys/relocation", r.URL.Path)
		assert.Equal(t, "test-token", r.Header.Get("X-Vault-Token"))
		writeData(w, map[string]any{
			"latest_version": 2,
			"keys": map[string]any{
				"1": map[string]any{"public_key": "old"},
				"2": map[string]any{"public_key": testPEM},
			},
		})
	}))

	transit := NewTransit(client, "transit")

	pub, err := transit.PublicKey(context.Background(), "relocation", 0)
	require.NoError(t, err)
	assert.Equal(t, testPEM, string(pub))

	pub, err = transit.PublicKey(context.Background(), "relocation", 1)
	require.NoError(t, err)
	assert.Equal(t, "old", string(pub))

	_, err = transit.PublicKey(context.Background(), "relocation", 9)
	assert.Error(t, err)
}

func TestTransit_DecryptRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "/v1/transit/decrypt/relocation", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "vault:v1:"+base64.StdEncoding.EncodeToString([]byte("wrapped")), body["ciphertext"])

		writeData(w, map[string]any{"plaintext": base64.StdEncoding.EncodeToString([]byte("data-key"))})
	}))

	plaintext, err := NewTransit(client, "transit").Decrypt(context.Background(), "relocation", 1, []byte("wrapped"))
	require.NoError(t, err)
	assert.Equal(t, "data-key", string(plaintext))
	assert.Equal(t, int32(2), calls.Load())
}

func TestTransit_DecryptBadRequest(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errors":["crypto/rsa: decryption error"]}`))
	}))

	_, err := NewTransit(client, "transit").Decrypt(context.Background(), "relocation", 1, []byte("wrapped"))
	require.Error(t, err)
	assert.True(t, IsBadRequest(err))
	assert.Equal(t, int32(1), calls.Load(), "bad requests must not be retried")
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "opaque error", err: assert.AnError, want: false},
		{name: "timeout text", err: &timeoutErr{}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryableError(tt.err))
		})
	}
}

type timeoutErr struct{}

func (*timeoutErr) Error() string { return "dial tcp 10.0.0.1:8200: i/o timeout" }
