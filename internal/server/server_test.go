package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libops/relocation/internal/config"
)

// TestNew_BadDatabaseURL checks that New fails fast on a DSN the driver
// cannot parse.
func TestNew_BadDatabaseURL(t *testing.T) {
	cfg := &config.Config{
		Port:             "8080",
		ReadTimeout:      30 * time.Second,
		WriteTimeout:     30 * time.Second,
		IdleTimeout:      120 * time.Second,
		DatabaseURL:      "not a dsn",
		RelocationBucket: "runs",
		KMSBackend:       config.KMSBackendLocal,
		AllowedOrigins:   []string{"*"},
		Pipeline:         config.DefaultPipelineConfig(),
	}

	reloader, err := config.NewReloader(cfg, config.NewVaultLoader())
	require.NoError(t, err)
	defer func() { _ = reloader.Stop() }()

	_, err = New(reloader)
	assert.Error(t, err)
}

func TestSetupKMS_Local(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "relocation.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), 0600))

	svc, err := setupKMS(context.Background(), &config.Config{
		KMSBackend:      config.KMSBackendLocal,
		KMSLocalKeyFile: path,
		KMSKey:          "relocation",
		KMSKeyVersion:   "1",
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, config.KMSBackendLocal, svc.Config().Backend)
	pub, err := svc.GetPublicKey(context.Background())
	require.NoError(t, err)
	assert.Contains(t, string(pub), "PUBLIC KEY")
}

func TestSetupKMS_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  *config.Config
	}{
		{name: "unknown backend", cfg: &config.Config{KMSBackend: "hsm"}},
		{name: "missing key file", cfg: &config.Config{KMSBackend: config.KMSBackendLocal, KMSLocalKeyFile: "/nonexistent/key.pem"}},
		{name: "bad transit version", cfg: &config.Config{KMSBackend: config.KMSBackendVault, VaultAddr: "http://127.0.0.1:8200", VaultToken: "t", KMSKeyVersion: "latest"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := setupKMS(context.Background(), tt.cfg, nil)
			assert.Error(t, err)
		})
	}
}

// TestSetupEvents_Disabled tests that notifications fall back to the log
// sender without a topic.
func TestSetupEvents_Disabled(t *testing.T) {
	emitter, queueProcessor, closer := setupEvents(context.Background(), &config.Config{}, nil)

	assert.NotNil(t, emitter)
	assert.NotNil(t, queueProcessor)
	assert.Nil(t, closer)
}

func TestTaskQueueConfig(t *testing.T) {
	p := config.DefaultPipelineConfig()
	p.Workers = 8

	cfg := taskQueueConfig(p)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, int32(32), cfg.BatchSize)
	assert.Positive(t, cfg.MaxDeliveries)
}
