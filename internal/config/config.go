package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// KMS backends understood by the key service client.
const (
	KMSBackendCloud = "cloudkms"
	KMSBackendVault = "vault"
	KMSBackendLocal = "local"
)

// Config holds all application configuration.
type Config struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	DatabaseURL   string
	RunMigrations bool

	GCPProjectID     string
	RelocationBucket string
	EventsTopicID    string

	AllowedOrigins []string

	// Key service
	KMSBackend      string
	KMSLocation     string
	KMSKeyRing      string
	KMSKey          string
	KMSKeyVersion   string
	KMSLocalKeyFile string

	// Vault Configuration
	VaultAddr         string
	VaultToken        string
	VaultTransitMount string

	// Remote validation builds
	BuildProjectID     string
	BuildImage         string
	BuildRatePerSecond float64
	BuildTimeout       time.Duration

	// Pipeline
	Pipeline PipelineConfig
}

// PipelineConfig holds the retry ceilings and limits threaded into the
// orchestrator.
type PipelineConfig struct {
	Workers                   int
	MaxFastTaskAttempts       int
	MaxValidationPollAttempts int
	MaxValidationRuns         int
	MaxUsersPerRelocation     int
	MaxOrgsPerRelocation      int
	ValidationPollInterval    time.Duration
}

// DefaultPipelineConfig returns the production ceilings.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Workers:                   4,
		MaxFastTaskAttempts:       3,
		MaxValidationPollAttempts: 61,
		MaxValidationRuns:         3,
		MaxUsersPerRelocation:     200,
		MaxOrgsPerRelocation:      20,
		ValidationPollInterval:    60 * time.Second,
	}
}

// Load loads configuration from environment variables and Vault secrets.
// Priority: 1) Environment variables, 2) Vault secrets at /vault/secrets
// Waits up to 120 seconds for required variables to appear in Vault.
func Load() (*Config, error) {
	loader := NewVaultLoader()

	databaseURL, err := loadDatabaseURL(loader)
	if err != nil {
		return nil, err
	}

	kmsBackend := loader.LoadEnvWithDefault("KMS_BACKEND", KMSBackendCloud)

	var vaultToken string
	if kmsBackend == KMSBackendVault {
		vaultToken, err = loader.LoadEnv("VAULT_TOKEN", true)
		if err != nil {
			return nil, fmt.Errorf("failed to load VAULT_TOKEN: %w", err)
		}
	}

	defaults := DefaultPipelineConfig()
	pipeline := PipelineConfig{
		Workers:                   loader.LoadIntWithDefault("WORKER_COUNT", defaults.Workers),
		MaxFastTaskAttempts:       loader.LoadIntWithDefault("MAX_FAST_TASK_ATTEMPTS", defaults.MaxFastTaskAttempts),
		MaxValidationPollAttempts: loader.LoadIntWithDefault("MAX_VALIDATION_POLL_ATTEMPTS", defaults.MaxValidationPollAttempts),
		MaxValidationRuns:         loader.LoadIntWithDefault("MAX_VALIDATION_RUNS", defaults.MaxValidationRuns),
		MaxUsersPerRelocation:     loader.LoadIntWithDefault("MAX_USERS_PER_RELOCATION", defaults.MaxUsersPerRelocation),
		MaxOrgsPerRelocation:      loader.LoadIntWithDefault("MAX_ORGS_PER_RELOCATION", defaults.MaxOrgsPerRelocation),
		ValidationPollInterval:    loader.LoadDurationWithDefault("VALIDATION_POLL_INTERVAL", defaults.ValidationPollInterval),
	}

	projectID := loader.LoadEnvWithDefault("GCP_PROJECT_ID", "")

	cfg := &Config{
		Port:         loader.LoadEnvWithDefault("PORT", "8080"),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,

		DatabaseURL:   databaseURL,
		RunMigrations: loader.LoadEnvWithDefault("RUN_MIGRATIONS", "true") == "true",

		GCPProjectID:     projectID,
		RelocationBucket: loader.LoadEnvWithDefault("RELOCATION_BUCKET", ""),
		EventsTopicID:    loader.LoadEnvWithDefault("EVENTS_TOPIC_ID", ""),

		AllowedOrigins: parseAllowedOrigins(loader.LoadEnvWithDefault("ALLOWED_ORIGINS", "")),

		KMSBackend:      kmsBackend,
		KMSLocation:     loader.LoadEnvWithDefault("KMS_LOCATION", "global"),
		KMSKeyRing:      loader.LoadEnvWithDefault("KMS_KEY_RING", "relocation"),
		KMSKey:          loader.LoadEnvWithDefault("KMS_KEY", "relocation"),
		KMSKeyVersion:   loader.LoadEnvWithDefault("KMS_KEY_VERSION", "1"),
		KMSLocalKeyFile: loader.LoadEnvWithDefault("KMS_LOCAL_KEY_FILE", ""),

		VaultAddr:         loader.LoadEnvWithDefault("VAULT_ADDR", "http://vault.libops.io"),
		VaultToken:        vaultToken,
		VaultTransitMount: loader.LoadEnvWithDefault("VAULT_TRANSIT_MOUNT", "transit"),

		BuildProjectID:     loader.LoadEnvWithDefault("BUILD_PROJECT_ID", projectID),
		BuildImage:         loader.LoadEnvWithDefault("BUILD_IMAGE", "us-docker.pkg.dev/libops/relocation/validator:latest"),
		BuildRatePerSecond: loader.LoadFloatWithDefault("BUILD_RATE_PER_SECOND", 1),
		BuildTimeout:       loader.LoadDurationWithDefault("BUILD_TIMEOUT", 40*time.Minute),

		Pipeline: pipeline,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadDatabaseURL prefers DATABASE_URL and falls back to assembling the DSN
// from a mounted MariaDB password file.
func loadDatabaseURL(loader *VaultLoader) (string, error) {
	if dsn := loader.LoadEnvWithDefault("DATABASE_URL", ""); dsn != "" {
		return dsn, nil
	}

	databasePasswordFile := os.Getenv("MARIADB_PASSWORD_FILE")
	if databasePasswordFile == "" {
		return "", fmt.Errorf("DATABASE_URL or MARIADB_PASSWORD_FILE is required")
	}
	databasePassword, err := os.ReadFile(databasePasswordFile)
	if err != nil || strings.TrimSpace(string(databasePassword)) == "" {
		return "", fmt.Errorf("failed to read %s: %w", databasePasswordFile, err)
	}

	return fmt.Sprintf("relocation:%s@tcp(mariadb:3306)/relocation?parseTime=true", strings.TrimSpace(string(databasePassword))), nil
}

// Validate checks that required configuration is present.
func (cfg *Config) Validate() error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.RelocationBucket == "" {
		return fmt.Errorf("RELOCATION_BUCKET is required")
	}

	switch cfg.KMSBackend {
	case KMSBackendCloud:
		if cfg.GCPProjectID == "" {
			return fmt.Errorf("GCP_PROJECT_ID is required for the %s backend", KMSBackendCloud)
		}
	case KMSBackendVault:
		if cfg.VaultToken == "" {
			return fmt.Errorf("VAULT_TOKEN is required for the %s backend", KMSBackendVault)
		}
	case KMSBackendLocal:
		if cfg.KMSLocalKeyFile == "" {
			return fmt.Errorf("KMS_LOCAL_KEY_FILE is required for the %s backend", KMSBackendLocal)
		}
	default:
		return fmt.Errorf("unknown KMS_BACKEND %q", cfg.KMSBackend)
	}

	return cfg.Pipeline.Validate()
}

// Validate checks that every ceiling leaves room for at least one attempt.
func (p PipelineConfig) Validate() error {
	if p.Workers < 1 {
		return fmt.Errorf("WORKER_COUNT must be at least 1")
	}
	if p.MaxFastTaskAttempts < 1 {
		return fmt.Errorf("MAX_FAST_TASK_ATTEMPTS must be at least 1")
	}
	if p.MaxValidationPollAttempts < 1 {
		return fmt.Errorf("MAX_VALIDATION_POLL_ATTEMPTS must be at least 1")
	}
	if p.MaxValidationRuns < 1 {
		return fmt.Errorf("MAX_VALIDATION_RUNS must be at least 1")
	}
	if p.MaxUsersPerRelocation < 1 || p.MaxOrgsPerRelocation < 1 {
		return fmt.Errorf("per-relocation user and org limits must be positive")
	}
	if p.ValidationPollInterval < 0 {
		return fmt.Errorf("VALIDATION_POLL_INTERVAL must not be negative")
	}
	return nil
}

// parseAllowedOrigins parses ALLOWED_ORIGINS env var or returns secure defaults
// Format: comma-separated list of origins (e.g., "https://admin.libops.io,http://localhost:8080")
func parseAllowedOrigins(originsEnv string) []string {
	if originsEnv != "" {
		origins := strings.Split(originsEnv, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		return origins
	}

	return []string{
		"https://admin.libops.io",
		"http://localhost:8080",
	}
}
