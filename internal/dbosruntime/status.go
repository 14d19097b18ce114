package dbosruntime

import (
	"context"
	"fmt"
	"strings"
)

// WorkflowStatusInfo is one row of dbos.workflow_status
type WorkflowStatusInfo struct {
	WorkflowUUID string
	Status       string
	Name         string
	Error        string
	CreatedAt    int64
	UpdatedAt    int64
}

// DBOS workflow states
const (
	StatusPending         = "PENDING"
	StatusEnqueued        = "ENQUEUED"
	StatusSuccess         = "SUCCESS"
	StatusError           = "ERROR"
	StatusCancelled       = "CANCELLED"
	StatusRetriesExceeded = "RETRIES_EXCEEDED"
)

// GetWorkflowStatus retrieves the status of a workflow from the DBOS status table.
// A missing workflow is reported as a wrapped sql.ErrNoRows.
func (r *Runtime) GetWorkflowStatus(ctx context.Context, workflowUUID string) (*WorkflowStatusInfo, error) {
	query := `
		SELECT workflow_uuid, status, name, COALESCE(error, ''), created_at, updated_at
		FROM dbos.workflow_status
		WHERE workflow_uuid = $1
	`

	var info WorkflowStatusInfo
	err := r.db.QueryRowContext(ctx, query, workflowUUID).Scan(
		&info.WorkflowUUID,
		&info.Status,
		&info.Name,
		&info.Error,
		&info.CreatedAt,
		&info.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow status: %w", err)
	}

	return &info, nil
}

// State maps a DBOS status to pending, running, succeeded, failed or cancelled.
func State(status string) string {
	switch strings.ToUpper(status) {
	case StatusEnqueued:
		return "pending"
	case StatusPending:
		// DBOS marks a workflow PENDING once an executor picked it up
		return "running"
	case StatusSuccess:
		return "succeeded"
	case StatusError, StatusRetriesExceeded:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return strings.ToLower(status)
	}
}
