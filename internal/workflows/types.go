package workflows

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
	"github.com/tendant/simple-resize-pipeline/internal/dbosruntime"
	"github.com/tendant/simple-resize-pipeline/pkg/pipeline"
)

// WorkflowContext contains context for workflow execution
type WorkflowContext struct {
	Ctx     context.Context
	Request pipeline.ProcessRequest
	RunID   string
}

// WorkflowResult contains the result of workflow execution.
// It is checkpointed by DBOS, so every field is plain data.
type WorkflowResult struct {
	Success    bool                    `json:"success"`
	Error      string                  `json:"error,omitempty"`
	Results    []pipeline.ResizeResult `json:"results,omitempty"`
	DerivedIDs []string                `json:"derived_ids,omitempty"`
	Skipped    int                     `json:"skipped"`
	Existing   int                     `json:"existing"`
}

func failed(err error) *WorkflowResult {
	return &WorkflowResult{Success: false, Error: err.Error()}
}

// Workflow defines the interface for processing workflows
type Workflow interface {
	// Execute runs the workflow
	Execute(wctx *WorkflowContext) (*WorkflowResult, error)

	// Name returns the workflow name
	Name() string
}

// StatusLookup reads workflow status rows.
type StatusLookup interface {
	GetWorkflowStatus(ctx context.Context, workflowUUID string) (*dbosruntime.WorkflowStatusInfo, error)
}

// WorkflowRunner executes workflows synchronously or through DBOS
type WorkflowRunner struct {
	workflows   map[string]Workflow
	remote      map[string]bool
	dbosRuntime *dbosruntime.Runtime
	status      StatusLookup
}

// NewWorkflowRunner creates a new workflow runner. A nil runtime gives a
// runner that can only Run synchronously.
func NewWorkflowRunner(dbosRuntime *dbosruntime.Runtime) *WorkflowRunner {
	runner := &WorkflowRunner{
		workflows:   make(map[string]Workflow),
		remote:      make(map[string]bool),
		dbosRuntime: dbosRuntime,
	}

	if dbosRuntime != nil {
		runner.status = dbosRuntime
		dbos.RegisterWorkflow(dbosRuntime.Context(), runner.executeWorkflowDBOS)
	}

	return runner
}

// Register registers a workflow
func (r *WorkflowRunner) Register(job string, workflow Workflow) {
	r.workflows[job] = workflow
}

// RegisterRemote accepts job for RunAsync without a local workflow. Workers
// in another process execute it.
func (r *WorkflowRunner) RegisterRemote(job string) {
	r.remote[job] = true
}

// Run executes a workflow for the given job type in the calling goroutine
func (r *WorkflowRunner) Run(wctx *WorkflowContext) (*WorkflowResult, error) {
	workflow, ok := r.workflows[wctx.Request.Job]
	if !ok {
		return failed(ErrWorkflowNotFound), ErrWorkflowNotFound
	}

	return workflow.Execute(wctx)
}

// RunAsync enqueues a workflow for async execution via DBOS
func (r *WorkflowRunner) RunAsync(ctx context.Context, req pipeline.ProcessRequest) (string, error) {
	if r.dbosRuntime == nil {
		return "", ErrRuntimeUnavailable
	}
	if _, ok := r.workflows[req.Job]; !ok && !r.remote[req.Job] {
		return "", fmt.Errorf("%w: job %q", ErrWorkflowNotFound, req.Job)
	}

	// Workflow ID doubles as the run ID returned to callers
	workflowID := fmt.Sprintf("%s-%s-%d", req.Job, req.ContentID, time.Now().UnixNano())

	handle, err := dbos.RunWorkflow[pipeline.ProcessRequest, *WorkflowResult](
		r.dbosRuntime.Context(),
		r.executeWorkflowDBOS,
		req,
		dbos.WithWorkflowID(workflowID),
		dbos.WithQueue(r.dbosRuntime.QueueName()),
	)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue workflow: %w", err)
	}

	return handle.GetWorkflowID(), nil
}

// executeWorkflowDBOS is the DBOS workflow function that wraps registered workflows
func (r *WorkflowRunner) executeWorkflowDBOS(dbosCtx dbos.DBOSContext, req pipeline.ProcessRequest) (*WorkflowResult, error) {
	workflow, ok := r.workflows[req.Job]
	if !ok {
		return failed(ErrWorkflowNotFound), ErrWorkflowNotFound
	}

	workflowID, err := dbosCtx.GetWorkflowID()
	if err != nil {
		return failed(err), err
	}

	// DBOSContext implements context.Context
	wctx := &WorkflowContext{
		Ctx:     dbosCtx,
		Request: req,
		RunID:   workflowID,
	}

	return workflow.Execute(wctx)
}

// WorkflowStatus represents the status of a workflow execution
type WorkflowStatus struct {
	RunID      string     `json:"run_id"`
	Workflow   string     `json:"workflow,omitempty"`
	State      string     `json:"state"` // pending, running, succeeded, failed, cancelled
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// GetStatus retrieves the status of a workflow execution from DBOS
func (r *WorkflowRunner) GetStatus(ctx context.Context, runID string) (*WorkflowStatus, error) {
	if r.status == nil {
		return nil, ErrRuntimeUnavailable
	}

	info, err := r.status.GetWorkflowStatus(ctx, runID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, runID)
		}
		return nil, err
	}

	status := &WorkflowStatus{
		RunID:     info.WorkflowUUID,
		Workflow:  info.Name,
		State:     dbosruntime.State(info.Status),
		StartedAt: time.UnixMilli(info.CreatedAt).UTC(),
		Error:     info.Error,
	}
	switch status.State {
	case "succeeded", "failed", "cancelled":
		finished := time.UnixMilli(info.UpdatedAt).UTC()
		status.FinishedAt = &finished
	}

	return status, nil
}
