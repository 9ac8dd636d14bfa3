// Package server wires the relocation service together and runs it.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/libops/relocation/db"
	"github.com/libops/relocation/internal/backup"
	"github.com/libops/relocation/internal/blobstore"
	"github.com/libops/relocation/internal/cloudbuild"
	"github.com/libops/relocation/internal/config"
	"github.com/libops/relocation/internal/database"
	"github.com/libops/relocation/internal/events"
	"github.com/libops/relocation/internal/kms"
	"github.com/libops/relocation/internal/metrics"
	"github.com/libops/relocation/internal/notify"
	"github.com/libops/relocation/internal/orchestrator"
	"github.com/libops/relocation/internal/relocation"
	"github.com/libops/relocation/internal/router"
	"github.com/libops/relocation/internal/store"
	"github.com/libops/relocation/internal/taskqueue"
	"github.com/libops/relocation/internal/vault"
)

// queueDepthInterval is how often the pending task gauge is refreshed.
const queueDepthInterval = 15 * time.Second

// Server represents the relocation service with all its dependencies.
type Server struct {
	config         *config.Config
	reloader       *config.Reloader
	httpServer     *http.Server
	dbPool         *sql.DB
	closers        []io.Closer
	queueProcessor *events.QueueProcessor
	taskProcessor  *taskqueue.Processor
	cancel         context.CancelFunc
}

// New creates a new Server instance with all dependencies initialized.
func New(reloader *config.Reloader) (*Server, error) {
	cfg := reloader.GetConfig()
	ctx := context.Background()

	dbPool, err := database.NewPool(cfg.DatabaseURL, database.DefaultConfig().ForWorkers(cfg.Pipeline.Workers))
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	slog.Info("Database connection pool established")

	s := &Server{config: cfg, reloader: reloader, dbPool: dbPool}
	if err := s.init(ctx, cfg); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func (s *Server) init(ctx context.Context, cfg *config.Config) error {
	if cfg.RunMigrations {
		if err := database.Migrate(s.dbPool); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}
	queries := db.New(s.dbPool)

	keys, err := setupKMS(ctx, cfg, s.reloader)
	if err != nil {
		return fmt.Errorf("failed to setup key service: %w", err)
	}

	bucket, err := blobstore.NewGCS(ctx, cfg.RelocationBucket)
	if err != nil {
		return err
	}
	s.closers = append(s.closers, bucket)

	builds, err := cloudbuild.NewService(ctx, cloudbuild.Config{
		ProjectID:     cfg.BuildProjectID,
		RatePerSecond: cfg.BuildRatePerSecond,
	})
	if err != nil {
		return err
	}

	emitter, queueProcessor, sender := setupEvents(ctx, cfg, queries)
	if sender != nil {
		s.closers = append(s.closers, sender)
	}
	s.queueProcessor = queueProcessor

	orch := orchestrator.New(orchestrator.Deps{
		Store:    store.New(s.dbPool),
		Bucket:   bucket,
		KMS:      keys,
		Builds:   builds,
		Engine:   backup.NewSQLEngine(s.dbPool),
		Notifier: notify.NewEventGateway(emitter),
	}, orchestrator.Config{
		PipelineConfig: cfg.Pipeline,
		BuildImage:     cfg.BuildImage,
		BuildTimeout:   cfg.BuildTimeout,
	})

	s.taskProcessor = taskqueue.NewProcessor(queries, orch, instanceID(), taskQueueConfig(cfg.Pipeline))
	s.taskProcessor.Observe(func(task relocation.Task, outcome string) {
		metrics.RecordQueueDelivery(task.String(), outcome)
	})

	s.httpServer = &http.Server{
		Addr: fmt.Sprintf(":%s", cfg.Port),
		Handler: router.New(&router.Dependencies{
			Relocations:    orch,
			AllowedOrigins: cfg.AllowedOrigins,
		}),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	logServerConfig(cfg)
	return nil
}

// Start runs the background processors and listens for HTTP requests.
func (s *Server) Start() error {
	if err := s.reloader.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start config reloader: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.queueProcessor.Start(ctx)
	go s.taskProcessor.Start(ctx)
	go s.reportQueueDepth(ctx)

	slog.Info("Starting relocation service", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) reportQueueDepth(ctx context.Context) {
	ticker := time.NewTicker(queueDepthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.taskProcessor.Pending(ctx)
			if err != nil {
				slog.Warn("Failed to count pending tasks", "error", err)
				continue
			}
			metrics.SetQueueDepth(n)
		}
	}
}

// Shutdown gracefully stops the server. In-flight tasks finish before the
// database pool is closed.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Starting graceful shutdown")

	if err := s.reloader.Stop(); err != nil {
		slog.Error("Error stopping config reloader", "error", err)
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		_ = s.httpServer.Close()
		slog.Error("Could not stop HTTP server gracefully", "error", err)
	}

	if s.cancel != nil {
		slog.Info("Stopping task processor")
		s.taskProcessor.Stop()
		slog.Info("Stopping event queue processor")
		s.queueProcessor.Stop()
		s.cancel()
	}

	if err := s.close(); err != nil {
		return err
	}
	slog.Info("Server stopped gracefully")
	return nil
}

func (s *Server) close() error {
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			slog.Warn("Error closing client", "error", err)
		}
	}
	if err := s.dbPool.Close(); err != nil {
		return fmt.Errorf("error closing database: %w", err)
	}
	return nil
}

// setupKMS connects the configured key service backend.
func setupKMS(ctx context.Context, cfg *config.Config, reloader *config.Reloader) (kms.Service, error) {
	switch cfg.KMSBackend {
	case config.KMSBackendCloud:
		return kms.NewCloudKMS(ctx, kms.Config{
			Backend:   config.KMSBackendCloud,
			ProjectID: cfg.GCPProjectID,
			Location:  cfg.KMSLocation,
			KeyRing:   cfg.KMSKeyRing,
			Key:       cfg.KMSKey,
			Version:   cfg.KMSKeyVersion,
		}, rate.NewLimiter(rate.Limit(10), 10))

	case config.KMSBackendVault:
		client, err := vault.NewClient(&vault.Config{
			Address: cfg.VaultAddr,
			Token:   cfg.VaultToken,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize vault client: %w", err)
		}
		if reloader != nil {
			reloader.OnTokenChange(client.SetToken)
		}
		return kms.NewVaultTransit(client, kms.Config{
			Backend: config.KMSBackendVault,
			Mount:   cfg.VaultTransitMount,
			Key:     cfg.KMSKey,
			Version: cfg.KMSKeyVersion,
		})

	case config.KMSBackendLocal:
		return kms.NewLocalFromFile(cfg.KMSLocalKeyFile, kms.Config{
			Backend: config.KMSBackendLocal,
			Key:     cfg.KMSKey,
			Version: cfg.KMSKeyVersion,
		})

	default:
		return nil, fmt.Errorf("unknown KMS backend %q", cfg.KMSBackend)
	}
}

// setupEvents initializes the notification outbox and its publisher. The
// returned closer is nil when events are only logged.
func setupEvents(ctx context.Context, cfg *config.Config, queries db.Querier) (*events.Emitter, *events.QueueProcessor, io.Closer) {
	var (
		sender events.Sender = events.LogSender{}
		closer io.Closer
	)

	if cfg.GCPProjectID != "" && cfg.EventsTopicID != "" {
		pubsubSender, err := events.NewPubSubSender(ctx, cfg.GCPProjectID, cfg.EventsTopicID)
		if err != nil {
			slog.Warn("Failed to create Pub/Sub sender, notifications will only be logged", "error", err)
		} else {
			slog.Info("Notifications publish to Pub/Sub",
				"project", cfg.GCPProjectID,
				"topic", cfg.EventsTopicID)
			sender, closer = pubsubSender, pubsubSender
		}
	} else {
		slog.Info("Notifications will only be logged (no GCP_PROJECT_ID or EVENTS_TOPIC_ID)")
	}

	emitter := events.NewEmitter(queries, events.EventSourceRelocation)
	queueProcessor := events.NewQueueProcessor(
		queries,
		events.NewSenderClient(sender),
		instanceID(),
		events.DefaultQueueProcessorConfig(),
	)
	queueProcessor.Observe(metrics.RecordNotification)

	return emitter, queueProcessor, closer
}

// taskQueueConfig sizes the task queue from the pipeline settings.
func taskQueueConfig(p config.PipelineConfig) taskqueue.Config {
	cfg := taskqueue.DefaultConfig()
	cfg.Workers = p.Workers
	cfg.BatchSize = int32(max(p.Workers*4, 1))
	return cfg
}

func instanceID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

// logServerConfig logs the server configuration at startup.
func logServerConfig(cfg *config.Config) {
	slog.Info("Relocation pipeline configured",
		"kms_backend", cfg.KMSBackend,
		"bucket", cfg.RelocationBucket,
		"build_project", cfg.BuildProjectID,
		"workers", cfg.Pipeline.Workers,
		"max_fast_attempts", cfg.Pipeline.MaxFastTaskAttempts,
		"max_poll_attempts", cfg.Pipeline.MaxValidationPollAttempts,
		"max_validation_runs", cfg.Pipeline.MaxValidationRuns)
}
