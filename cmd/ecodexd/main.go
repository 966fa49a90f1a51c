// Ecodexd extracts structured ecological data from free-text passages
// using an LLM provider, with per-sentence evidence grounding and a
// reviewer feedback loop.
//
// Configuration is loaded from ~/.config/ecodexd/config.yaml and
// ECODEX_-prefixed environment variables. See internal/config.
//
// Usage:
//
//	# Start the daemon with defaults
//	ecodexd
//
//	# Point at a config file
//	ecodexd -config /etc/ecodexd/config.yaml
//
//	# Configure via environment
//	ECODEX_SERVER_HTTP_PORT=8000 ECODEX_PROVIDER_NAME=ollama ecodexd
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/szefer-piotr/eco-data-extractor/internal/config"
	"github.com/szefer-piotr/eco-data-extractor/internal/feedback"
	"github.com/szefer-piotr/eco-data-extractor/internal/httpapi"
	"github.com/szefer-piotr/eco-data-extractor/internal/job"
	"github.com/szefer-piotr/eco-data-extractor/internal/logging"
	"github.com/szefer-piotr/eco-data-extractor/internal/provider"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default: ~/.config/ecodexd/config.yaml)")
	flag.Parse()
	args := flag.Args()

	// Handle subcommands
	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  ecodexd           Start the ecodexd daemon\n")
			fmt.Fprintf(os.Stderr, "  ecodexd version   Show version information\n")
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("ecodexd\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the ecodexd server and blocks until the context is
// cancelled or the server fails.
//
// Initialization order:
//  1. Load and validate configuration
//  2. Build the logger
//  3. Create the model provider
//  4. Open the feedback store and aggregator
//  5. Wire the orchestrator and job manager
//  6. Start the HTTP server, shut down gracefully on cancellation
func run(ctx context.Context, configPath string) error {
	if err := config.EnsureConfigDir(); err != nil {
		return err
	}

	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logging.Sync(logger) // Best-effort sync on shutdown
	}()

	logger.Info("Starting ecodexd",
		zap.String("version", version),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout))

	prov, err := provider.New(provider.Config{
		Name:        cfg.Provider.Name,
		Model:       cfg.Provider.Model,
		APIKey:      cfg.Provider.APIKey,
		BaseURL:     cfg.Provider.BaseURL,
		Timeout:     cfg.Provider.Timeout,
		Temperature: cfg.Provider.Temperature,
		MaxTokens:   cfg.Provider.MaxTokens,
	})
	if err != nil {
		return fmt.Errorf("failed to create provider: %w", err)
	}

	logger.Info("Provider initialized",
		zap.String("provider", cfg.Provider.Name),
		zap.Bool("available", prov.Available()))

	store, err := feedback.NewFileStore(cfg.Feedback.Dir, logger)
	if err != nil {
		return fmt.Errorf("failed to open feedback store: %w", err)
	}

	aggregator, err := feedback.NewAggregator(store, logger)
	if err != nil {
		return fmt.Errorf("failed to create feedback aggregator: %w", err)
	}

	orchestrator, err := job.NewOrchestrator(job.Config{
		Concurrency:    cfg.Extraction.Concurrency,
		MaxAttempts:    cfg.Extraction.MaxAttempts,
		BaseBackoff:    cfg.Extraction.BaseBackoff,
		FatalThreshold: cfg.Extraction.FatalThreshold,
		MaxExamples:    cfg.Extraction.MaxExamples,
	}, prov, aggregator, logger)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	srv, err := httpapi.NewServer(job.NewManager(), orchestrator, store, logger, &httpapi.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	if err := <-errCh; err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}
