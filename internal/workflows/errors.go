package workflows

import "errors"

// Sentinels wrapped by the runner and ResizeWorkflow. Match with errors.Is.
var (
	ErrWorkflowNotFound   = errors.New("no workflow registered for job")
	ErrStepFailed         = errors.New("resize workflow step failed")
	ErrInvalidRequest     = errors.New("invalid resize request")
	ErrRuntimeUnavailable = errors.New("async runtime not configured")
)
