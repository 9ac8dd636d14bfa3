package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// VaultSecretsDir is the default mount path for Vault secrets
	VaultSecretsDir = "/vault/secrets"
	// DefaultTimeout is the default timeout for waiting for secrets
	DefaultTimeout = 120 * time.Second
	// PollInterval is how often to check for secret files
	PollInterval = 2 * time.Second
)

// timeSource lets tests run the secret wait loop on a fake clock.
type timeSource interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realTime struct{}

func (realTime) Now() time.Time                         { return time.Now() }
func (realTime) After(d time.Duration) <-chan time.Time { return time.After(d) }

// VaultLoader resolves settings from the environment first and then from
// files rendered by the Vault agent.
type VaultLoader struct {
	secretsDir string
	timeout    time.Duration
	timeSource timeSource
}

// NewVaultLoader creates a new vault loader
func NewVaultLoader() *VaultLoader {
	secretsDir := os.Getenv("VAULT_SECRETS_DIR")
	if secretsDir == "" {
		secretsDir = VaultSecretsDir
	}

	return &VaultLoader{
		secretsDir: secretsDir,
		timeout:    DefaultTimeout,
		timeSource: realTime{},
	}
}

// SecretsDir is the directory the loader reads secret files from.
func (v *VaultLoader) SecretsDir() string {
	return v.secretsDir
}

// LoadEnv loads a setting from the environment or the secrets directory.
// Required settings wait up to the loader timeout for the file to appear.
func (v *VaultLoader) LoadEnv(key string, required bool) (string, error) {
	if value := os.Getenv(key); value != "" {
		slog.Debug("Using environment variable", "key", key)
		return value, nil
	}

	secretPath := filepath.Join(v.secretsDir, key)
	if !required {
		if value, err := readSecretFile(secretPath); err == nil && value != "" {
			slog.Debug("Loaded optional variable from Vault", "key", key)
			return value, nil
		}
		return "", nil
	}

	slog.Info("Waiting for required variable", "key", key, "timeout", v.timeout)
	return v.waitForSecret(key, secretPath)
}

// readSecretFile reads a secret, trimming the trailing newline vault-agent writes.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (v *VaultLoader) waitForSecret(key, path string) (string, error) {
	start := v.timeSource.Now()
	deadline := start.Add(v.timeout)

	for {
		value, err := readSecretFile(path)
		if err == nil && value != "" {
			slog.Info("Loaded required variable from Vault",
				"key", key,
				"elapsed", v.timeSource.Now().Sub(start).Round(time.Second))
			return value, nil
		}

		if v.timeSource.Now().After(deadline) {
			return "", fmt.Errorf("timeout waiting for required variable %s after %v", key, v.timeout)
		}

		<-v.timeSource.After(PollInterval)
	}
}

// LoadEnvWithDefault loads an optional setting with a default fallback
func (v *VaultLoader) LoadEnvWithDefault(key, defaultValue string) string {
	value, err := v.LoadEnv(key, false)
	if err != nil || value == "" {
		return defaultValue
	}
	return value
}

// LoadIntWithDefault loads an optional integer setting. Unparsable values
// are logged and replaced by the default.
func (v *VaultLoader) LoadIntWithDefault(key string, defaultValue int) int {
	raw := v.LoadEnvWithDefault(key, "")
	if raw == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("Ignoring invalid integer setting", "key", key, "value", raw, "err", err)
		return defaultValue
	}
	return n
}

// LoadFloatWithDefault loads an optional float setting.
func (v *VaultLoader) LoadFloatWithDefault(key string, defaultValue float64) float64 {
	raw := v.LoadEnvWithDefault(key, "")
	if raw == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		slog.Warn("Ignoring invalid float setting", "key", key, "value", raw, "err", err)
		return defaultValue
	}
	return f
}

// LoadDurationWithDefault loads an optional duration setting such as "90s".
func (v *VaultLoader) LoadDurationWithDefault(key string, defaultValue time.Duration) time.Duration {
	raw := v.LoadEnvWithDefault(key, "")
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn("Ignoring invalid duration setting", "key", key, "value", raw, "err", err)
		return defaultValue
	}
	return d
}
