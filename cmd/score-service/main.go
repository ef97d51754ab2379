// main package for the score-service
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/score-service/internal/audiocache"
	"github.com/book-expert/score-service/internal/config"
	"github.com/book-expert/score-service/internal/midi"
	"github.com/book-expert/score-service/internal/musicxml"
	"github.com/book-expert/score-service/internal/objectstore"
	"github.com/book-expert/score-service/internal/pipeline"
	"github.com/book-expert/score-service/internal/worker"
)

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "score-service.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir())
	if err != nil {
		// If bootstrap logger fails, we can only print to stderr
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	bootstrapLog.Info("Bootstrap logger created.")

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	// 3. Initialize the final logger based on the loaded configuration
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

	return serve(cfg, finalLog)
}

// serve wires the NATS transport, stores, and pipeline together and runs
// the worker until a shutdown signal arrives.
func serve(cfg *config.Config, log *logger.Logger) error {
	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to get JetStream context: %w", err)
	}

	stores, err := buildStores(jetstreamContext, cfg)
	if err != nil {
		return err
	}

	natsWorker, err := worker.NewNatsWorker(
		natsConnection,
		worker.Subjects{
			ScoreSubmitted: cfg.NATS.ScoreSubmittedSubject,
			AudioRequested: cfg.NATS.AudioRequestedSubject,
		},
		stores,
		pipeline.New(cfg.Generation, log),
		musicxml.NewModelBuilder(log),
		midi.New(log),
		audiocache.New(),
		cfg.Generation.AudioWorkers,
		log,
	)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-signalChan
		log.System("Received shutdown signal: %s", sig)
		cancel()
	}()

	log.System(
		"Score service initialized. Listening for jobs on subjects: %s, %s",
		cfg.NATS.ScoreSubmittedSubject,
		cfg.NATS.AudioRequestedSubject,
	)

	err = natsWorker.Run(ctx)
	if err != nil {
		return fmt.Errorf("worker stopped: %w", err)
	}

	return nil
}

func buildStores(jetstreamContext nats.JetStreamContext, cfg *config.Config) (worker.Stores, error) {
	scoreStore, err := objectstore.New(jetstreamContext, cfg.NATS.ScoreObjectStoreBucket)
	if err != nil {
		return worker.Stores{}, fmt.Errorf("failed to open score bucket: %w", err)
	}

	bundleStore, err := objectstore.New(jetstreamContext, cfg.NATS.BundleObjectStoreBucket)
	if err != nil {
		return worker.Stores{}, fmt.Errorf("failed to open bundle bucket: %w", err)
	}

	audioStore, err := objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		return worker.Stores{}, fmt.Errorf("failed to open audio bucket: %w", err)
	}

	return worker.Stores{Score: scoreStore, Bundle: bundleStore, Audio: audioStore}, nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
