// main package for the tts-service
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/logger"
	"github.com/book-expert/story-tts-service/internal/config"
	"github.com/book-expert/story-tts-service/internal/core"
	"github.com/book-expert/story-tts-service/internal/fetch"
	"github.com/book-expert/story-tts-service/internal/ledger"
	"github.com/book-expert/story-tts-service/internal/objectstore"
	"github.com/book-expert/story-tts-service/internal/provider"
	"github.com/book-expert/story-tts-service/internal/server"
	"github.com/book-expert/story-tts-service/internal/tts"
	"github.com/book-expert/story-tts-service/internal/worker"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
)

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "tts-service-bootstrap.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create bootstrap logger: %w", err)
	}

	return log, nil
}

// backends holds the storage collaborators and whatever must be closed on exit.
type backends struct {
	natsConnection *nats.Conn
	jetstream      nats.JetStreamContext
	store          core.BlobStore
	texts          core.ObjectStore
	ledger         core.UsageLedger
	closers        []io.Closer
}

func (b *backends) close(log *logger.Logger) {
	for _, closer := range b.closers {
		closeErr := closer.Close()
		if closeErr != nil {
			log.Warn("Failed to close backend: %v", closeErr)
		}
	}

	if b.natsConnection != nil {
		drainErr := b.natsConnection.Drain()
		if drainErr != nil {
			log.Warn("Failed to drain NATS connection: %v", drainErr)
		}
	}
}

func connectBackends(cfg *config.Config, log *logger.Logger) (*backends, error) {
	var b backends

	if cfg.NeedsNATS() {
		natsConnection, err := nats.Connect(cfg.NATS.URL, nats.Name("story-tts-service"))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
		}

		b.natsConnection = natsConnection

		jetstreamContext, err := natsConnection.JetStream()
		if err != nil {
			natsConnection.Close()

			return nil, fmt.Errorf("failed to create JetStream context: %w", err)
		}

		b.jetstream = jetstreamContext

		log.Info("Connected to NATS at %s", cfg.NATS.URL)
	}

	err := b.openBlobStore(cfg)
	if err != nil {
		b.close(log)

		return nil, err
	}

	err = b.openLedger(cfg)
	if err != nil {
		b.close(log)

		return nil, err
	}

	return &b, nil
}

func (b *backends) openBlobStore(cfg *config.Config) error {
	if b.jetstream != nil {
		textStore, err := objectstore.New(b.jetstream, cfg.NATS.TextObjectStoreBucket)
		if err != nil {
			return fmt.Errorf("failed to open text object store: %w", err)
		}

		b.texts = textStore
	}

	if cfg.Blob.Backend == config.BackendFile {
		b.store = objectstore.NewFileStore(cfg.Blob.FileDir)

		return nil
	}

	audioStore, err := objectstore.New(b.jetstream, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		return fmt.Errorf("failed to open audio object store: %w", err)
	}

	b.store = audioStore

	return nil
}

func (b *backends) openLedger(cfg *config.Config) error {
	switch cfg.Usage.Backend {
	case config.BackendNATS:
		usage, err := ledger.NewNatsLedger(b.jetstream, cfg.NATS.UsageKVBucket)
		if err != nil {
			return fmt.Errorf("failed to open usage ledger: %w", err)
		}

		b.ledger = usage
	case config.BackendSQLite:
		usage, err := ledger.NewSQLiteLedger(cfg.Usage.SQLitePath)
		if err != nil {
			return fmt.Errorf("failed to open usage ledger: %w", err)
		}

		b.ledger = usage
		b.closers = append(b.closers, usage)
	}

	return nil
}

// newProvider returns nil when credentials are missing so requests fail with a
// configuration error instead of the service refusing to start.
func newProvider(cfg *config.Config, log *logger.Logger) core.SynthesisProvider {
	if cfg.TTS.APIKey == "" {
		log.Warn("No API key configured for provider %s; synthesis requests will fail", cfg.TTS.Provider)

		return nil
	}

	fetcher := fetch.New(
		&http.Client{Timeout: cfg.ProviderTimeout()},
		fetch.WithMaxRetries(cfg.TTS.MaxRetries),
		fetch.WithBaseDelay(cfg.BaseDelay()),
	)

	if cfg.TTS.Provider == config.ProviderElevenLabs {
		return provider.NewElevenLabs(fetcher, cfg.TTS.Endpoint, cfg.TTS.APIKey, cfg.TTS.ModelID)
	}

	return provider.NewGoogle(fetcher, cfg.TTS.Endpoint, cfg.TTS.APIKey)
}

func newOrchestrator(cfg *config.Config, b *backends, log *logger.Logger) *tts.Orchestrator {
	opts := tts.Options{
		Store:                b.store,
		Ledger:               b.ledger,
		Provider:             nil,
		Logger:               log,
		QuotaLimit:           cfg.Usage.QuotaLimit,
		Period:               tts.Period(cfg.Usage.Period),
		BucketPrefix:         cfg.Usage.BucketPrefix,
		Namespace:            cfg.TTS.CacheNamespace,
		DefaultVoice:         cfg.TTS.DefaultVoice,
		DefaultLanguage:      cfg.TTS.LanguageCode,
		DefaultEncoding:      core.ParseAudioEncoding(cfg.TTS.AudioEncoding),
		IncludeLanguageInKey: cfg.TTS.IncludeLanguageInKey,
		Now:                  nil,
	}

	// A nil provider must stay an untyped nil interface.
	synthesisProvider := newProvider(cfg, log)
	if synthesisProvider != nil {
		opts.Provider = synthesisProvider
	}

	return tts.NewOrchestrator(opts)
}

func serve(ctx context.Context, cfg *config.Config, b *backends, log *logger.Logger) error {
	orchestrator := newOrchestrator(cfg, b, log)

	httpServer := server.New(orchestrator, log, server.Options{
		ListenAddr:     cfg.Server.ListenAddr,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: cfg.RequestTimeout(),
	})

	var natsWorker *worker.NatsWorker

	if b.natsConnection != nil && b.texts != nil {
		var err error

		natsWorker, err = worker.NewNatsWorker(b.natsConnection, b.texts, orchestrator, log, worker.Options{
			Subject:       cfg.NATS.TextProcessedSubject,
			ResultSubject: cfg.NATS.AudioChunkCreatedSubject,
		})
		if err != nil {
			return fmt.Errorf("failed to create NATS worker: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errChan := make(chan error, 2)
	running := 1

	go func() {
		errChan <- httpServer.Run(ctx)
	}()

	if natsWorker != nil {
		running++

		go func() {
			errChan <- natsWorker.Run(ctx)
		}()
	}

	var runErr error

	for range running {
		err := <-errChan
		if err != nil && runErr == nil {
			runErr = err

			cancel()
		}
	}

	return runErr
}

func run() error {
	// 1. Load .env if present; real environment variables take precedence
	envErr := godotenv.Load()
	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "WARN: failed to read .env: %v\n", envErr)
	}

	// 2. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir())
	if err != nil {
		// If bootstrap logger fails, we can only print to stderr
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	bootstrapLog.Info("Bootstrap logger created.")

	// 3. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	// 4. Initialize the final logger based on the loaded configuration
	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	// 5. Connect storage and run the HTTP surface plus the NATS worker
	b, err := connectBackends(cfg, finalLog)
	if err != nil {
		finalLog.Error("Failed to connect backends: %v", err)

		return err
	}
	defer b.close(finalLog)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	finalLog.System("TTS-Service initialized. Provider: %s, blob backend: %s, usage backend: %s",
		cfg.TTS.Provider, cfg.Blob.Backend, cfg.Usage.Backend)

	return serve(ctx, cfg, b, finalLog)
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
