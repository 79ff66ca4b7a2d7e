package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dfs-io/dfsd/pkg/auth"
	"github.com/dfs-io/dfsd/pkg/config"
	"github.com/dfs-io/dfsd/pkg/handler"
	"github.com/dfs-io/dfsd/pkg/maintenance"
	"github.com/dfs-io/dfsd/pkg/metrics"
	"github.com/dfs-io/dfsd/pkg/queue"
	"github.com/dfs-io/dfsd/pkg/storage"
	"github.com/dfs-io/dfsd/pkg/store"
	"github.com/dfs-io/dfsd/pkg/worker"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ingestion HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func serve() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.AppVersion == "dev" && Version != "dev" {
		cfg.AppVersion = Version
	}

	logger := newLogger(cfg)
	audit := logger.With().Str("log_type", "audit").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open metadata store: %w", err)
	}
	defer st.Close()

	objects, err := buildStorage(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build storage backend: %w", err)
	}

	m := metrics.New()
	limiter := worker.NewUploadLimiter(cfg.MaxInflightChunksPerUpload, cfg.FairShareCap())

	opts := handler.Options{
		Config:  cfg,
		Store:   st,
		Storage: objects,
		Limiter: limiter,
		Metrics: m,
		Logger:  logger,
		Audit:   audit,
	}

	if cfg.UsesExternalQueue() {
		q, err := buildQueue(ctx, cfg)
		if err != nil {
			return fmt.Errorf("build queue backend: %w", err)
		}
		results := queue.NewResultStore()
		pollTimeout := time.Duration(cfg.QueuePollTimeoutSeconds) * time.Second
		for i := 0; i < cfg.QueueConsumerCount; i++ {
			consumer := queue.NewConsumer(q, results, objects, pollTimeout, logger)
			go consumer.Run(ctx)
		}
		opts.Queue = q
		opts.Results = results
		logger.Info().
			Str("queue_backend", cfg.QueueBackend).
			Int("consumers", cfg.QueueConsumerCount).
			Msg("durable queue path enabled")
	} else {
		pool := worker.NewPool(cfg.WorkerCount, cfg.TaskQueueMaxsize, cfg.MaxGlobalInflightChunks, m)
		defer pool.Close()
		opts.Pool = pool

		if cfg.AutoscaleEnabled {
			scaler := worker.NewAutoscaler(pool, worker.AutoscalerConfig{
				MinWorkers:      cfg.MinWorkers,
				MaxWorkers:      cfg.MaxWorkers,
				Cooldown:        time.Duration(cfg.AutoscaleCooldownSeconds) * time.Second,
				UpQueue:         cfg.ScaleUpQueueThreshold,
				UpUtilization:   cfg.ScaleUpUtilizationThreshold,
				DownUtilization: cfg.ScaleDownUtilizationThreshold,
			}, logger)
			go scaler.Run(ctx)
		}
	}

	sweeper := maintenance.NewSweeper(st, objects,
		time.Duration(cfg.StaleUploadTTLSeconds)*time.Second,
		time.Duration(cfg.IdempotencyTTLSeconds)*time.Second,
		time.Duration(cfg.CleanupIntervalSeconds)*time.Second,
		logger)
	if cfg.CleanupEnabled {
		go sweeper.Run(ctx)
	}
	opts.Sweeper = sweeper

	opts.Auth, err = buildAuthenticator(cfg)
	if err != nil {
		return fmt.Errorf("build authenticator: %w", err)
	}
	opts.Rate = auth.NewRateLimiter(cfg.APIRateLimitPerMinute)

	h := handler.New(opts)
	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: h.Routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", server.Addr).
			Str("storage_backend", cfg.StorageBackend).
			Str("queue_backend", cfg.QueueBackend).
			Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.LogFormat == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}

func buildStorage(ctx context.Context, cfg *config.Config) (storage.ChunkStorage, error) {
	switch cfg.StorageBackend {
	case "local":
		return storage.NewLocalStore(cfg.StorageRoot)
	case "s3":
		client, err := storage.NewAWSClient(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, err
		}
		return storage.NewS3Store(client, cfg.S3Bucket), nil
	case "r2":
		client, err := storage.NewR2Client(ctx, cfg.R2AccountID, cfg.R2AccessKeyID, cfg.R2SecretAccessKey, cfg.R2EndpointURL)
		if err != nil {
			return nil, err
		}
		return storage.NewS3Store(client, cfg.R2Bucket), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

func buildQueue(ctx context.Context, cfg *config.Config) (queue.DurableQueue, error) {
	taskTimeout := time.Duration(cfg.QueueTaskTimeoutSeconds) * time.Second
	switch cfg.QueueBackend {
	case "redis":
		return queue.NewRedisQueue(cfg.RedisURL, cfg.RedisQueueName)
	case "sqs":
		return queue.NewSQSQueue(ctx, cfg.SQSQueueURL, taskTimeout)
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
	}
}

func buildAuthenticator(cfg *config.Config) (auth.Authenticator, error) {
	switch cfg.AuthMode {
	case "api_key":
		return auth.NewAPIKeyAuthenticator(cfg.APIKeyMappings, cfg.AdminUserIDs)
	case "jwt":
		return auth.NewJWTAuthenticator(cfg.JWTSecret, cfg.JWTAlgorithm, cfg.JWTAudience, cfg.JWTIssuer, cfg.AdminUserIDs), nil
	case "hybrid":
		apiKeys, err := auth.NewAPIKeyAuthenticator(cfg.APIKeyMappings, cfg.AdminUserIDs)
		if err != nil {
			return nil, err
		}
		jwtAuth := auth.NewJWTAuthenticator(cfg.JWTSecret, cfg.JWTAlgorithm, cfg.JWTAudience, cfg.JWTIssuer, cfg.AdminUserIDs)
		return auth.NewHybridAuthenticator(jwtAuth, apiKeys), nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.AuthMode)
	}
}
