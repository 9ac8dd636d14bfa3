package config

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// TokenChangeCallback is called when the Vault token changes
type TokenChangeCallback func(newToken string)

// Reloader watches the Vault agent secrets directory and swaps the
// in-memory configuration when a rendered secret changes.
type Reloader struct {
	config   atomic.Pointer[Config]
	loader   *VaultLoader
	load     func() (*Config, error)
	watcher  *fsnotify.Watcher
	stopOnce sync.Once
	stopCh   chan struct{}
	debounce time.Duration

	mu                   sync.Mutex
	tokenChangeCallbacks []TokenChangeCallback
}

// NewReloader creates a new config reloader
func NewReloader(initialConfig *Config, loader *VaultLoader) (*Reloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	r := &Reloader{
		loader:   loader,
		load:     Load,
		watcher:  watcher,
		stopCh:   make(chan struct{}),
		debounce: 500 * time.Millisecond,
	}
	r.config.Store(initialConfig)

	return r, nil
}

// GetConfig returns the current configuration atomically
func (r *Reloader) GetConfig() *Config {
	return r.config.Load()
}

// OnTokenChange registers a callback to be called when the Vault token changes
func (r *Reloader) OnTokenChange(callback TokenChangeCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokenChangeCallbacks = append(r.tokenChangeCallbacks, callback)
}

// Start begins watching for configuration changes
func (r *Reloader) Start(ctx context.Context) error {
	if err := r.watcher.Add(r.loader.SecretsDir()); err != nil {
		return fmt.Errorf("failed to watch secrets directory: %w", err)
	}

	go r.watchLoop(ctx)
	slog.Info("Config reloader started", "secrets_dir", r.loader.SecretsDir())
	return nil
}

// Stop stops watching for configuration changes
func (r *Reloader) Stop() error {
	var err error
	r.stopOnce.Do(func() {
		close(r.stopCh)
		err = r.watcher.Close()
	})
	return err
}

func (r *Reloader) watchLoop(ctx context.Context) {
	// Vault Agent may write a file several times in a row.
	debounceTimer := time.NewTimer(r.debounce)
	debounceTimer.Stop()
	defer debounceTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				slog.Debug("Config file changed", "file", event.Name, "op", event.Op)
				debounceTimer.Reset(r.debounce)
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("File watcher error", "error", err)

		case <-debounceTimer.C:
			if err := r.reload(); err != nil {
				slog.Error("Failed to reload configuration", "error", err)
			}
		}
	}
}

func (r *Reloader) reload() error {
	newConfig, err := r.load()
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	oldConfig := r.config.Swap(newConfig)
	r.logChanges(oldConfig, newConfig)

	slog.Info("Configuration reloaded")
	return nil
}

// logChanges logs what changed between old and new config. Secrets are
// reported by key only.
func (r *Reloader) logChanges(old, new *Config) {
	if old.DatabaseURL != new.DatabaseURL {
		slog.Info("Config changed", "key", "DATABASE_URL")
	}
	if old.RelocationBucket != new.RelocationBucket {
		slog.Info("Config changed", "key", "RELOCATION_BUCKET", "old", old.RelocationBucket, "new", new.RelocationBucket)
	}
	if old.Pipeline != new.Pipeline {
		slog.Warn("Pipeline limits changed; restart workers to apply", "old", old.Pipeline, "new", new.Pipeline)
	}
	if old.VaultToken != new.VaultToken {
		slog.Info("Config changed", "key", "VAULT_TOKEN")
		r.mu.Lock()
		callbacks := append([]TokenChangeCallback(nil), r.tokenChangeCallbacks...)
		r.mu.Unlock()
		for _, callback := range callbacks {
			callback(new.VaultToken)
		}
	}
}
