package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tendant/simple-resize-pipeline/internal/resize"
	"github.com/tendant/simple-resize-pipeline/internal/upload"
	"github.com/tendant/simple-resize-pipeline/internal/workflows"
	"github.com/tendant/simple-resize-pipeline/pkg/pipeline"
)

// Runner executes resize workflows. *workflows.WorkflowRunner implements it.
type Runner interface {
	Run(wctx *workflows.WorkflowContext) (*workflows.WorkflowResult, error)
	RunAsync(ctx context.Context, req pipeline.ProcessRequest) (string, error)
	GetStatus(ctx context.Context, runID string) (*workflows.WorkflowStatus, error)
}

// SubmissionLedger counts how often the same request was submitted.
type SubmissionLedger interface {
	Record(ctx context.Context, contentID, job string, sizes []string) (int, error)
}

// AsyncHandler handles workflow requests against stored content
type AsyncHandler struct {
	runner        Runner
	ledger        SubmissionLedger
	minDifference float64
	synchronous   bool
}

// AsyncOption configures an AsyncHandler.
type AsyncOption func(*AsyncHandler)

// WithLedger records every accepted submission.
func WithLedger(l SubmissionLedger) AsyncOption {
	return func(h *AsyncHandler) { h.ledger = l }
}

// WithSynchronous runs workflows inline instead of enqueueing them. Used
// when no workflow database is configured.
func WithSynchronous(sync bool) AsyncOption {
	return func(h *AsyncHandler) { h.synchronous = sync }
}

// WithDefaultMinDifference sets the threshold for requests without one.
func WithDefaultMinDifference(v float64) AsyncOption {
	return func(h *AsyncHandler) { h.minDifference = v }
}

// NewAsyncHandler creates a new async handler
func NewAsyncHandler(runner Runner, opts ...AsyncOption) *AsyncHandler {
	h := &AsyncHandler{runner: runner, minDifference: pipeline.DefaultMinDifference}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// processResult is returned by synchronous processing.
type processResult struct {
	pipeline.ProcessResponse
	Result *workflows.WorkflowResult `json:"result"`
}

// HandleProcess handles POST /v1/process
func (h *AsyncHandler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	logger := log.With().Str("path", r.URL.Path).Logger()

	var req pipeline.ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if !errors.As(err, &tooLarge) {
			err = &resize.ValidationError{Location: resize.LocationBody, Field: "request", Message: "Invalid JSON", Err: err}
		}
		writeError(w, logger, err)
		return
	}

	if _, err := workflows.ParseResizeRequest(req, h.minDifference); err != nil {
		writeError(w, logger, err)
		return
	}
	if req.MinDifference == nil {
		diff := h.minDifference
		req.MinDifference = &diff
	}

	if h.synchronous {
		h.process(w, r, req)
		return
	}

	logger.Info().Str("content_id", req.ContentID).Str("job", req.Job).Strs("sizes", req.Sizes).Msg("Enqueueing workflow")

	runID, err := h.runner.RunAsync(r.Context(), req)
	if err != nil {
		if errors.Is(err, workflows.ErrRuntimeUnavailable) {
			logger.Error().Err(err).Msg("Workflow runtime unavailable")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			return
		}
		writeError(w, logger, err)
		return
	}

	resp := pipeline.ProcessResponse{
		RunID:           runID,
		DedupeSeenCount: h.record(r.Context(), req),
	}
	logger.Info().Str("run_id", runID).Int("dedupe_seen_count", resp.DedupeSeenCount).Msg("Workflow enqueued")

	writeJSON(w, http.StatusAccepted, resp)
}

// process runs the workflow inline and answers with its result.
func (h *AsyncHandler) process(w http.ResponseWriter, r *http.Request, req pipeline.ProcessRequest) {
	runID := uuid.NewString()
	logger := log.With().Str("run_id", runID).Logger()

	result, err := h.runner.Run(&workflows.WorkflowContext{
		Ctx:     r.Context(),
		Request: req,
		RunID:   runID,
	})

	resp := processResult{
		ProcessResponse: pipeline.ProcessResponse{RunID: runID},
		Result:          result,
	}
	if err == nil {
		resp.DedupeSeenCount = h.record(r.Context(), req)
		writeJSON(w, http.StatusOK, resp)
		return
	}

	var verr *resize.ValidationError
	var uerr *upload.UploadError
	switch {
	case errors.As(err, &verr):
		writeError(w, logger, verr)
	case errors.Is(err, workflows.ErrInvalidRequest):
		logger.Warn().Err(err).Msg("Rejected workflow request")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.As(err, &uerr):
		logger.Error().Err(err).Msg("Workflow uploads failed")
		writeJSON(w, http.StatusBadGateway, resp)
	default:
		logger.Error().Err(err).Msg("Workflow failed")
		writeJSON(w, http.StatusInternalServerError, resp)
	}
}

func (h *AsyncHandler) record(ctx context.Context, req pipeline.ProcessRequest) int {
	if h.ledger == nil {
		return 0
	}
	count, err := h.ledger.Record(ctx, req.ContentID, req.Job, req.Sizes)
	if err != nil {
		log.Warn().Err(err).Str("content_id", req.ContentID).Msg("Failed to record submission")
		return 0
	}
	return count
}

// HandleStatus handles GET /v1/runs/{runID}
func (h *AsyncHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	logger := log.With().Str("run_id", runID).Logger()

	status, err := h.runner.GetStatus(r.Context(), runID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, status)
	case errors.Is(err, workflows.ErrWorkflowNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Workflow not found"})
	case errors.Is(err, workflows.ErrRuntimeUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	default:
		logger.Error().Err(err).Msg("Failed to get workflow status")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}
