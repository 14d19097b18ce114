package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/tendant/simple-resize-pipeline/internal/dbosruntime"
	"github.com/tendant/simple-resize-pipeline/internal/resize"
	"github.com/tendant/simple-resize-pipeline/internal/storage"
	"github.com/tendant/simple-resize-pipeline/internal/upload"
	"github.com/tendant/simple-resize-pipeline/internal/workflows"
	"github.com/tendant/simple-resize-pipeline/pkg/pipeline"
)

// Config holds the configuration for initializing the resize runner
type Config struct {
	DatabaseURL        string  // DBOS PostgreSQL connection string
	AppName            string  // Application name for DBOS
	QueueName          string  // DBOS queue name
	Concurrency        int     // Number of concurrent resize workflows
	ContentAPIURL      string  // URL of the simple-content API server
	MinDifference      float64 // Threshold for requests without one (default 0.20)
	UploadTimeout      time.Duration
	ApplicationVersion string // Optional: Override binary hash for version matching
}

// Runner enqueues resize workflows through DBOS. A runner created by New
// also executes them; one created by NewClient leaves that to workers.
type Runner struct {
	runtime *dbosruntime.Runtime
	runner  *workflows.WorkflowRunner
}

// New creates a runner that enqueues and executes resize workflows
func New(cfg Config) (*Runner, error) {
	dbosRuntime, err := dbosruntime.NewRuntime(context.Background(), dbosruntime.Config{
		DatabaseURL:        cfg.DatabaseURL,
		AppName:            cfg.AppName,
		QueueName:          cfg.QueueName,
		Concurrency:        cfg.Concurrency,
		ApplicationVersion: cfg.ApplicationVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize DBOS: %w", err)
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = dbosruntime.DefaultConcurrency
	}
	minDifference := cfg.MinDifference
	if minDifference <= 0 {
		minDifference = pipeline.DefaultMinDifference
	}
	uploadTimeout := cfg.UploadTimeout
	if uploadTimeout <= 0 {
		uploadTimeout = 30 * time.Second
	}

	workflowRunner := workflows.NewWorkflowRunner(dbosRuntime)
	transport := upload.NewHTTPTransport(uploadTimeout)
	workflowRunner.Register(pipeline.JobResize, workflows.NewResizeWorkflow(
		storage.NewHTTPContentReader(cfg.ContentAPIURL),
		storage.NewHTTPDerivedWriter(cfg.ContentAPIURL),
		resize.NewResizer(resize.NewGate(concurrency)),
		workflows.WithDispatcher(upload.NewDispatcher(transport, upload.WithTimeout(uploadTimeout))),
		workflows.WithMinDifference(minDifference),
	))

	// Launch DBOS (must be after workflow registration)
	if err := dbosRuntime.Launch(); err != nil {
		return nil, fmt.Errorf("failed to launch DBOS: %w", err)
	}

	return &Runner{runtime: dbosRuntime, runner: workflowRunner}, nil
}

// NewClient creates a runner that only enqueues workflows. Workers must be
// running separately to execute them.
func NewClient(cfg Config) (*Runner, error) {
	dbosRuntime, err := dbosruntime.NewRuntime(context.Background(), dbosruntime.Config{
		DatabaseURL:        cfg.DatabaseURL,
		AppName:            cfg.AppName,
		QueueName:          cfg.QueueName,
		ClientOnly:         true,
		ApplicationVersion: cfg.ApplicationVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize DBOS: %w", err)
	}

	workflowRunner := workflows.NewWorkflowRunner(dbosRuntime)
	workflowRunner.RegisterRemote(pipeline.JobResize)

	if err := dbosRuntime.Launch(); err != nil {
		return nil, fmt.Errorf("failed to launch DBOS: %w", err)
	}

	return &Runner{runtime: dbosRuntime, runner: workflowRunner}, nil
}

// RunResize enqueues a resize of contentID into one derived content per
// size. uploadURL is optional.
func (r *Runner) RunResize(ctx context.Context, contentID string, sizes []string, uploadURL string) (string, error) {
	req := pipeline.ProcessRequest{
		ContentID: contentID,
		Job:       pipeline.JobResize,
		Sizes:     sizes,
		UploadURL: uploadURL,
	}
	if _, err := workflows.ParseResizeRequest(req, pipeline.DefaultMinDifference); err != nil {
		return "", err
	}
	return r.runner.RunAsync(ctx, req)
}

// Status returns the state of a run started by RunResize
func (r *Runner) Status(ctx context.Context, runID string) (*workflows.WorkflowStatus, error) {
	return r.runner.GetStatus(ctx, runID)
}

// Shutdown gracefully shuts down the runner
func (r *Runner) Shutdown(timeout time.Duration) error {
	if r.runtime == nil {
		return nil
	}
	return r.runtime.Shutdown(timeout)
}
