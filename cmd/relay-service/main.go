package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/speech-relay/internal/api/handler"
	"github.com/cuongbtq/speech-relay/internal/api/router"
	"github.com/cuongbtq/speech-relay/internal/config"
	"github.com/cuongbtq/speech-relay/internal/relay"
	"github.com/cuongbtq/speech-relay/internal/speech"
	"github.com/cuongbtq/speech-relay/internal/worker"
	"github.com/cuongbtq/speech-relay/internal/worker/filestore"
	"github.com/cuongbtq/speech-relay/internal/worker/queue"
	"github.com/cuongbtq/speech-relay/internal/worker/schedule"
	"github.com/cuongbtq/speech-relay/internal/worker/stage"
	"github.com/cuongbtq/speech-relay/internal/worker/status"
	"github.com/cuongbtq/speech-relay/internal/worker/storage"
	"github.com/cuongbtq/speech-relay/shared/logger"
	"github.com/cuongbtq/speech-relay/shared/postgresql"
	"github.com/cuongbtq/speech-relay/shared/rabbitmq"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("RELAY_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/relay-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting speech relay service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Root context for startup and background work
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Deletion scheduler shared by the file store and the status table
	scheduler := schedule.New(clockwork.NewRealClock(), appLogger.Component("scheduler"))
	defer scheduler.Stop()

	// Initialize file store and clear leftovers of a previous run
	files, err := filestore.New(&filestore.Config{
		Root:         cfg.Storage.Root,
		OutputGrace:  cfg.Retention.OutputGrace,
		OutputMaxAge: cfg.Retention.OutputMaxAge,
		Scheduler:    scheduler,
		Logger:       appLogger.Component("filestore"),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize file store: %w", err)
	}
	if err := files.Sweep(); err != nil {
		appLogger.Warn("Startup sweep incomplete", slog.Any("error", err))
	}

	statuses := status.NewTable(scheduler, appLogger.Component("status"))

	// Initialize speech engine
	engine, err := initSpeech(ctx, &cfg.Speech, appLogger.Component("speech"))
	if err != nil {
		return fmt.Errorf("failed to initialize speech engine: %w", err)
	}

	// Initialize job queue
	jobQueue, err := initQueue(&cfg.Queue, cfg.Worker.PoolSize, appLogger.Component("queue"))
	if err != nil {
		return fmt.Errorf("failed to initialize job queue: %w", err)
	}
	defer jobQueue.Close()

	// Initialize optional history archive
	var (
		history  *storage.Storage
		dbClient *postgresql.Client
	)
	if cfg.History.Enabled {
		dbClient, err = initPostgreSQL(ctx, &cfg.History.Database, appLogger.Component("postgresql"))
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer dbClient.Close()

		history = storage.NewStorage(dbClient.GetDB(), appLogger.Component("history"))
		if err := history.EnsureSchema(ctx); err != nil {
			return err
		}
		appLogger.Info("Session history enabled")
	}

	// Create worker instance
	workerCfg := &worker.Config{
		Logger:          appLogger.Component("worker"),
		Queue:           jobQueue,
		Statuses:        statuses,
		Inputs:          files,
		Transcription:   stage.NewTranscription(engine, cfg.Worker.StageTimeout),
		Synthesis:       stage.NewSynthesis(engine, files, cfg.Worker.StageTimeout),
		Concurrency:     cfg.Worker.PoolSize,
		InputRetention:  cfg.Retention.Input,
		StatusRetention: cfg.Retention.Status,
	}
	relayCfg := &relay.Config{
		Logger:   appLogger.Component("relay"),
		Files:    files,
		Statuses: statuses,
		Queue:    jobQueue,
	}
	// Assigned only when enabled so the interfaces stay nil otherwise
	if history != nil {
		workerCfg.History = history
		relayCfg.History = history
		relayCfg.HistoryCheck = dbClient.HealthCheck
	}

	workerInstance, err := worker.NewWorker(workerCfg)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}
	if err := workerInstance.Start(ctx); err != nil {
		return err
	}

	service := relay.NewService(relayCfg)

	// Initialize router
	r := initRouter(cfg, appLogger.Logger, service)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Int("pool_size", cfg.Worker.PoolSize),
		slog.String("queue_backend", cfg.Queue.Backend),
		slog.String("speech_provider", cfg.Speech.Provider),
	)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal or server failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-serverErr:
		appLogger.Error("Server failed", slog.Any("error", err))
		runErr = err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Stop accepting submissions first
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", slog.Any("error", err))
	}

	// Then let in-flight jobs reach a terminal state
	cancel()
	done := make(chan struct{})
	go func() {
		workerInstance.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	appLogger.Info("Speech relay service shutdown complete",
		slog.Int("pending_deletions", scheduler.Pending()),
	)
	return runErr
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}

// initSpeech builds the configured engine and optionally probes it
func initSpeech(ctx context.Context, cfg *config.SpeechConfig, logger *slog.Logger) (speech.Engine, error) {
	engine, err := speech.NewEngine(speech.Config{
		Provider: cfg.Provider,
		OpenAI: speech.OpenAIConfig{
			APIKey:             cfg.OpenAI.APIKey,
			BaseURL:            cfg.OpenAI.BaseURL,
			TranscriptionModel: cfg.OpenAI.TranscriptionModel,
			Language:           cfg.OpenAI.Language,
			SpeechModel:        cfg.OpenAI.SpeechModel,
			Voice:              cfg.OpenAI.Voice,
			ResponseFormat:     cfg.OpenAI.ResponseFormat,
		},
		Command: speech.CommandConfig{
			WhisperPath:  cfg.Command.WhisperPath,
			WhisperModel: cfg.Command.WhisperModel,
			Language:     cfg.Command.Language,
			PiperPath:    cfg.Command.PiperPath,
			PiperModel:   cfg.Command.PiperModel,
		},
	}, logger)
	if err != nil {
		return nil, err
	}

	if cfg.Warmup {
		warmCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if err := speech.WarmUp(warmCtx, engine, cfg.WarmupPhrase); err != nil {
			return nil, err
		}
		logger.Info("Speech engine warmed up")
	}

	return engine, nil
}

// initQueue creates the configured queue backend
func initQueue(cfg *config.QueueConfig, poolSize int, logger *slog.Logger) (queue.Queue, error) {
	switch cfg.Backend {
	case queue.BackendRabbitMQ:
		client, err := initRabbitMQ(&cfg.RabbitMQ, logger)
		if err != nil {
			return nil, err
		}
		prefetch := cfg.RabbitMQ.Consumer.PrefetchCount
		if prefetch <= 0 {
			prefetch = poolSize
		}
		return queue.NewRabbitMQ(client, queue.RabbitMQConfig{
			ConsumerTag: cfg.RabbitMQ.Consumer.Tag,
			Prefetch:    prefetch,
			Logger:      logger,
		}), nil
	default:
		return queue.NewMemory(cfg.Capacity), nil
	}
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(ctx, dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, logger *slog.Logger, service *relay.Service) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(&handler.Dependencies{
		Logger:         logger,
		Service:        service,
		ServiceName:    cfg.App.Name,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	})
}
