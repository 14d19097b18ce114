package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/tendant/simple-content/pkg/simplecontent/presets"
	"github.com/tendant/simple-resize-pipeline/internal/config"
	"github.com/tendant/simple-resize-pipeline/internal/dbosruntime"
	"github.com/tendant/simple-resize-pipeline/internal/dedupe"
	"github.com/tendant/simple-resize-pipeline/internal/handlers"
	"github.com/tendant/simple-resize-pipeline/internal/logging"
	"github.com/tendant/simple-resize-pipeline/internal/metrics"
	"github.com/tendant/simple-resize-pipeline/internal/resize"
	"github.com/tendant/simple-resize-pipeline/internal/storage"
	"github.com/tendant/simple-resize-pipeline/internal/upload"
	"github.com/tendant/simple-resize-pipeline/internal/workflows"
	"github.com/tendant/simple-resize-pipeline/pkg/pipeline"
)

func main() {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gate := resize.NewGate(cfg.MaxConcurrentResizes)
	resizer := resize.NewResizer(gate)
	m := metrics.New(gate)

	transport := upload.NewSchemeRouter().Handle(upload.NewHTTPTransport(cfg.UploadTimeout), "http", "https")
	if s3Transport, err := upload.NewS3TransportFromEnv(ctx); err != nil {
		log.Warn().Err(err).Msg("S3 uploads disabled")
	} else {
		transport.Handle(s3Transport, "s3")
	}
	dispatcher := upload.NewDispatcher(transport,
		upload.WithTimeout(cfg.UploadTimeout),
		upload.WithObserver(m),
	)

	source, variants, cleanup, err := openContentStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simple-content service")
	}
	defer cleanup()

	// Async processing needs the DBOS system database
	var dbosRuntime *dbosruntime.Runtime
	var ledger handlers.SubmissionLedger
	if cfg.AsyncEnabled() {
		dbosRuntime, err = dbosruntime.NewRuntime(ctx, dbosruntime.Config{
			DatabaseURL: cfg.DatabaseURL,
			AppName:     cfg.AppName,
			QueueName:   cfg.QueueName,
			Concurrency: cfg.MaxConcurrentResizes,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize DBOS")
		}

		tracker, err := dedupe.NewTracker(ctx, dbosRuntime.DB())
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize dedupe ledger")
		}
		ledger = tracker
	} else {
		log.Info().Msg("No workflow database configured, /v1/process runs synchronously")
	}

	// Workflows must be registered before DBOS is launched
	runner := workflows.NewWorkflowRunner(dbosRuntime)
	resizeWorkflow := workflows.NewResizeWorkflow(source, variants, resizer,
		workflows.WithDispatcher(dispatcher),
		workflows.WithBatchObserver(m),
		workflows.WithMinDifference(cfg.MinDifference),
	)
	runner.Register(pipeline.JobResize, resizeWorkflow)
	log.Info().Str("workflow", resizeWorkflow.Name()).Str("job", pipeline.JobResize).Msg("Registered workflow")

	if dbosRuntime != nil {
		if err := dbosRuntime.Launch(); err != nil {
			log.Fatal().Err(err).Msg("Failed to launch DBOS")
		}
		defer func() {
			if err := dbosRuntime.Shutdown(10 * time.Second); err != nil {
				log.Warn().Err(err).Msg("DBOS shutdown")
			}
		}()
		log.Info().
			Str("queue", dbosRuntime.QueueName()).
			Int("concurrency", dbosRuntime.Concurrency()).
			Msg("DBOS runtime launched")
	}

	asyncOpts := []handlers.AsyncOption{
		handlers.WithDefaultMinDifference(cfg.MinDifference),
		handlers.WithSynchronous(dbosRuntime == nil),
	}
	if ledger != nil {
		asyncOpts = append(asyncOpts, handlers.WithLedger(ledger))
	}

	routerOpts := handlers.RouterOptions{
		Resize: handlers.NewResizeHandler(resizer, cfg.MinDifference,
			handlers.WithUploads(dispatcher),
			handlers.WithResizeObserver(m),
		),
		Async:        handlers.NewAsyncHandler(runner, asyncOpts...),
		Metrics:      m.Handler(),
		MaxBodyBytes: cfg.MaxBodyBytes,
	}
	if dbosRuntime != nil {
		routerOpts.Ready = dbosRuntime.Ping
	}
	if cfg.RateLimit > 0 {
		limiter := handlers.NewRateLimiter(cfg.RateLimit, cfg.RateBurst)
		limiter.StartJanitor(ctx, 2*time.Minute)
		routerOpts.RateLimiter = limiter
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handlers.NewRouter(routerOpts),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", cfg.HTTPAddr).
			Int("max_concurrent_resizes", cfg.MaxConcurrentResizes).
			Float64("min_difference", cfg.MinDifference).
			Msg("Resize server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

// openContentStore uses the simple-content HTTP API when configured and
// the embedded development preset otherwise.
func openContentStore(cfg *config.Config) (storage.ContentSource, storage.VariantStore, func(), error) {
	if cfg.ContentAPIURL != "" {
		log.Info().Str("url", cfg.ContentAPIURL).Msg("Using simple-content HTTP API")
		return storage.NewHTTPContentReader(cfg.ContentAPIURL), storage.NewHTTPDerivedWriter(cfg.ContentAPIURL), func() {}, nil
	}

	log.Info().Str("storage_dir", cfg.StorageDir).Msg("Using embedded simple-content service (development preset)")
	svc, cleanup, err := presets.NewDevelopment(presets.WithDevStorage(cfg.StorageDir))
	if err != nil {
		return nil, nil, nil, err
	}
	return storage.NewContentReader(svc), storage.NewDerivedWriter(svc), cleanup, nil
}
