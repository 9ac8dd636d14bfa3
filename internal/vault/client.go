// Package vault wraps the HashiCorp Vault API for the relocation service.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
)

// Client wraps the Vault API client.
type Client struct {
	client *api.Client
}

// Config holds Vault client configuration.
type Config struct {
	Address string
	Token   string
	Timeout time.Duration
}

const (
	// Retry configuration for Vault requests
	maxRetries     = 3
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = 2 * time.Second
	backoffFactor  = 2.0
)

// NewClient creates a new Vault client wrapper.
func NewClient(config *Config) (*Client, error) {
	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = config.Address
	if config.Timeout > 0 {
		vaultConfig.Timeout = config.Timeout
	}
	// Retries are handled by retryWithBackoff so they are logged and bounded by ctx.
	vaultConfig.MaxRetries = 0

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	if config.Token != "" {
		client.SetToken(config.Token)
	} else if token := os.Getenv("VAULT_TOKEN"); token != "" {
		client.SetToken(token)
	}

	return &Client{
		client: client,
	}, nil
}

// SetToken swaps the token, e.g. after the agent rotates it on disk.
func (c *Client) SetToken(token string) {
	c.client.SetToken(token)
}

// read performs a logical read with retries.
func (c *Client) read(ctx context.Context, path string) (*api.Secret, error) {
	return retryWithBackoff(ctx, "read "+path, func() (*api.Secret, error) {
		return c.client.Logical().ReadWithContext(ctx, path)
	})
}

// write performs a logical write with retries.
func (c *Client) write(ctx context.Context, path string, data map[string]any) (*api.Secret, error) {
	return retryWithBackoff(ctx, "write "+path, func() (*api.Secret, error) {
		return c.client.Logical().WriteWithContext(ctx, path, data)
	})
}

// retryWithBackoff executes an operation with exponential backoff retry logic.
// It retries transient errors up to maxRetries times with exponentially increasing delays.
func retryWithBackoff[T any](ctx context.Context, operation string, fn func() (T, error)) (T, error) {
	var result T
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		result, lastErr = fn()
		if lastErr == nil {
			return result, nil
		}

		if !isRetryableError(lastErr) {
			return result, lastErr
		}

		if attempt == maxRetries {
			break
		}

		backoff := time.Duration(float64(initialBackoff) * math.Pow(backoffFactor, float64(attempt)))
		if backoff > maxBackoff {
			backoff = maxBackoff
		}

		slog.WarnContext(ctx, "Vault operation failed, retrying",
			"operation", operation,
			"attempt", attempt+1,
			"max_attempts", maxRetries+1,
			"backoff", backoff,
			"error", lastErr)

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return result, fmt.Errorf("vault operation %s failed after %d attempts: %w", operation, maxRetries+1, lastErr)
}

// retryablePatterns are fragments of the network errors the Vault client
// surfaces without a typed wrapper.
var retryablePatterns = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"temporary failure",
	"no such host",
	"tls handshake timeout",
}

// isRetryableError retries throttling, server errors and network faults,
// but never auth or permission errors.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var respErr *api.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == http.StatusTooManyRequests || respErr.StatusCode >= 500
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range retryablePatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// IsBadRequest reports whether Vault rejected the request itself, which for
// transit decrypt means the ciphertext does not match the key.
func IsBadRequest(err error) bool {
	var respErr *api.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusBadRequest
}
