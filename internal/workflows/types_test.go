package workflows

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-resize-pipeline/internal/dbosruntime"
	"github.com/tendant/simple-resize-pipeline/pkg/pipeline"
)

type stubWorkflow struct {
	calls int
}

func (s *stubWorkflow) Execute(wctx *WorkflowContext) (*WorkflowResult, error) {
	s.calls++
	return &WorkflowResult{Success: true}, nil
}

func (s *stubWorkflow) Name() string { return "stub" }

type stubLookup struct {
	rows map[string]*dbosruntime.WorkflowStatusInfo
}

func (s *stubLookup) GetWorkflowStatus(ctx context.Context, id string) (*dbosruntime.WorkflowStatusInfo, error) {
	info, ok := s.rows[id]
	if !ok {
		return nil, fmt.Errorf("failed to query workflow status: %w", sql.ErrNoRows)
	}
	return info, nil
}

func TestWorkflowRunner_Run(t *testing.T) {
	runner := NewWorkflowRunner(nil)
	wf := &stubWorkflow{}
	runner.Register(pipeline.JobResize, wf)

	result, err := runner.Run(&WorkflowContext{Ctx: context.Background(), Request: pipeline.ProcessRequest{Job: pipeline.JobResize}})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, wf.calls)

	result, err = runner.Run(&WorkflowContext{Ctx: context.Background(), Request: pipeline.ProcessRequest{Job: "ocr"}})
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
	assert.False(t, result.Success)
}

func TestWorkflowRunner_WithoutRuntime(t *testing.T) {
	runner := NewWorkflowRunner(nil)

	_, err := runner.RunAsync(context.Background(), pipeline.ProcessRequest{Job: pipeline.JobResize})
	assert.ErrorIs(t, err, ErrRuntimeUnavailable)

	_, err = runner.GetStatus(context.Background(), "run-1")
	assert.ErrorIs(t, err, ErrRuntimeUnavailable)
}

func TestWorkflowRunner_GetStatus(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	runner := NewWorkflowRunner(nil)
	runner.status = &stubLookup{rows: map[string]*dbosruntime.WorkflowStatusInfo{
		"done": {
			WorkflowUUID: "done",
			Status:       dbosruntime.StatusSuccess,
			Name:         "executeWorkflowDBOS",
			CreatedAt:    created.UnixMilli(),
			UpdatedAt:    created.Add(2 * time.Second).UnixMilli(),
		},
		"queued": {
			WorkflowUUID: "queued",
			Status:       dbosruntime.StatusEnqueued,
			CreatedAt:    created.UnixMilli(),
			UpdatedAt:    created.UnixMilli(),
		},
	}}

	status, err := runner.GetStatus(context.Background(), "done")
	require.NoError(t, err)
	assert.Equal(t, "succeeded", status.State)
	assert.True(t, created.Equal(status.StartedAt))
	require.NotNil(t, status.FinishedAt)
	assert.True(t, created.Add(2*time.Second).Equal(*status.FinishedAt))

	status, err = runner.GetStatus(context.Background(), "queued")
	require.NoError(t, err)
	assert.Equal(t, "pending", status.State)
	assert.Nil(t, status.FinishedAt)

	_, err = runner.GetStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}
