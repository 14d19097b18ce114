package workflows

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tendant/simple-resize-pipeline/internal/metrics"
	"github.com/tendant/simple-resize-pipeline/internal/resize"
	"github.com/tendant/simple-resize-pipeline/internal/storage"
	"github.com/tendant/simple-resize-pipeline/internal/upload"
	"github.com/tendant/simple-resize-pipeline/pkg/pipeline"
)

// BatchObserver is told about every finished batch.
type BatchObserver interface {
	ObserveBatch(result string, produced, skipped int, took time.Duration)
}

// ResizeJob is a validated resize request.
type ResizeJob struct {
	Specs         []pipeline.SizeSpec
	Codec         *resize.ImagingCodec
	MinDifference float64
}

// ParseResizeRequest validates req. Problems are reported as a
// *resize.ValidationError naming the offending JSON field.
func ParseResizeRequest(req pipeline.ProcessRequest, defaultMinDifference float64) (*ResizeJob, error) {
	if req.ContentID == "" {
		return nil, resize.NewValidationError(resize.LocationBody, "content_id", resize.ErrRequired)
	}
	if req.Job == "" {
		return nil, resize.NewValidationError(resize.LocationBody, "job", resize.ErrRequired)
	}
	if req.Job != pipeline.JobResize {
		return nil, resize.NewValidationError(resize.LocationBody, "job", fmt.Sprintf("Job %q is not supported", req.Job))
	}

	specs, err := resize.ParseSizes(resize.LocationBody, "sizes", req.Sizes)
	if err != nil {
		return nil, err
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = pipeline.ContentTypeJPEG
	}
	codec, err := resize.OutputCodec(resize.LocationBody, "content_type", contentType)
	if err != nil {
		return nil, err
	}

	minDifference := defaultMinDifference
	if req.MinDifference != nil {
		minDifference = *req.MinDifference
	}

	return &ResizeJob{Specs: specs, Codec: codec, MinDifference: minDifference}, nil
}

// ResizeWorkflow resizes stored content into derived variants and
// optionally uploads each variant to a URL template.
type ResizeWorkflow struct {
	source        storage.ContentSource
	variants      storage.VariantStore
	resizer       *resize.Resizer
	dispatcher    *upload.Dispatcher
	observer      BatchObserver
	minDifference float64
}

// ResizeOption configures a ResizeWorkflow.
type ResizeOption func(*ResizeWorkflow)

// WithDispatcher enables upload_url handling.
func WithDispatcher(d *upload.Dispatcher) ResizeOption {
	return func(w *ResizeWorkflow) { w.dispatcher = d }
}

// WithBatchObserver reports batch results, typically to metrics.
func WithBatchObserver(o BatchObserver) ResizeOption {
	return func(w *ResizeWorkflow) { w.observer = o }
}

// WithMinDifference sets the threshold used when a request carries none.
func WithMinDifference(v float64) ResizeOption {
	return func(w *ResizeWorkflow) { w.minDifference = v }
}

// NewResizeWorkflow creates a new resize workflow
func NewResizeWorkflow(source storage.ContentSource, variants storage.VariantStore, resizer *resize.Resizer, opts ...ResizeOption) *ResizeWorkflow {
	w := &ResizeWorkflow{
		source:        source,
		variants:      variants,
		resizer:       resizer,
		minDifference: pipeline.DefaultMinDifference,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Name returns the workflow name
func (w *ResizeWorkflow) Name() string {
	return "ResizeWorkflow"
}

// Execute runs the resize workflow
func (w *ResizeWorkflow) Execute(wctx *WorkflowContext) (*WorkflowResult, error) {
	logger := log.With().Str("run_id", wctx.RunID).Str("content_id", wctx.Request.ContentID).Logger()
	logger.Info().Strs("sizes", wctx.Request.Sizes).Msg("Starting resize workflow")

	// Step 1: Validate request
	job, err := ParseResizeRequest(wctx.Request, w.minDifference)
	if err == nil && wctx.Request.UploadURL != "" {
		switch {
		case w.dispatcher == nil:
			err = resize.NewValidationError(resize.LocationBody, "upload_url", "Uploads are not enabled")
		case !w.dispatcher.Supports(wctx.Request.UploadURL):
			err = resize.NewValidationError(resize.LocationBody, "upload_url", "Upload URL scheme is not supported")
		}
	}
	if err != nil {
		logger.Warn().Err(err).Msg("Validation failed")
		w.observe(metrics.ResultInvalid, 0, 0, 0)
		err = fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		return failed(err), err
	}

	// Step 2: Check source content exists
	exists, err := w.source.Exists(wctx.Ctx, wctx.Request.ContentID)
	if err != nil {
		err = fmt.Errorf("%w: content check: %w", ErrStepFailed, err)
		return failed(err), err
	}
	if !exists {
		err = fmt.Errorf("%w: source content not found: %s", ErrInvalidRequest, wctx.Request.ContentID)
		logger.Warn().Msg("Source content not found")
		return failed(err), err
	}
	if meta, err := w.source.Metadata(wctx.Ctx, wctx.Request.ContentID); err != nil {
		logger.Warn().Err(err).Msg("Failed to read source metadata")
	} else if !imageContent(meta.ContentType) {
		err = fmt.Errorf("%w: source content is %s, not an image", ErrInvalidRequest, meta.ContentType)
		logger.Warn().Str("mime_type", meta.ContentType).Msg("Source content is not an image")
		w.observe(metrics.ResultInvalid, 0, 0, 0)
		return failed(err), err
	}

	// Step 3: Collect variants already stored; a listing failure regenerates
	existing := make(map[string]bool)
	names, err := w.variants.ListVariants(wctx.Ctx, wctx.Request.ContentID)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to list existing variants")
	}
	for _, n := range names {
		existing[n] = true
	}

	// Step 4: Download source content
	data, err := w.download(wctx)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrStepFailed, err)
		logger.Error().Err(err).Msg("Download failed")
		return failed(err), err
	}
	logger.Debug().Int("bytes", len(data)).Msg("Source content downloaded")

	// Step 5: Resize while holding a gate permit
	start := time.Now()
	produced, skipped, already, err := w.resize(wctx, job, data, existing)
	took := time.Since(start)
	if err != nil {
		var verr *resize.ValidationError
		if errors.As(err, &verr) {
			w.observe(metrics.ResultInvalid, 0, 0, took)
			err = fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		} else {
			w.observe(metrics.ResultError, 0, 0, took)
		}
		logger.Error().Err(err).Msg("Resize failed")
		return failed(err), err
	}

	// Step 6: Store derived variants and upload, outside the gate
	result := &WorkflowResult{Skipped: skipped, Existing: already}
	var session *upload.Session
	if wctx.Request.UploadURL != "" {
		session = w.dispatcher.Start(wctx.Ctx, wctx.RunID, wctx.Request.UploadURL, job.Codec.ContentType())
	}

	for _, outcome := range produced {
		variant := storage.VariantName(outcome.Width, outcome.Height, outcome.Quality)
		derivedID, err := w.variants.PutVariant(wctx.Ctx, wctx.Request.ContentID, variant, bytes.NewReader(outcome.Payload), storage.VariantMeta{
			ContentType: job.Codec.ContentType(),
			Result:      outcome.Result(),
		})
		if err != nil {
			if session != nil {
				_, _ = session.Wait()
			}
			w.observe(metrics.ResultError, len(produced), skipped, took)
			err = fmt.Errorf("%w: derived write %s: %w", ErrStepFailed, variant, err)
			logger.Error().Err(err).Msg("Failed to write derived content")
			return failed(err), err
		}
		logger.Info().Str("variant", variant).Str("derived_id", derivedID).Int("size", outcome.Size).Msg("Derived content written")

		result.DerivedIDs = append(result.DerivedIDs, derivedID)
		result.Results = append(result.Results, outcome.Result())
		if session != nil {
			session.Submit(outcome)
		}
	}

	if session != nil {
		if _, err := session.Wait(); err != nil {
			w.observe(metrics.ResultUploadFail, len(produced), skipped, took)
			result.Error = err.Error()
			logger.Error().Err(err).Msg("Resize workflow finished with upload failures")
			return result, fmt.Errorf("%w: %w", ErrStepFailed, err)
		}
	}

	w.observe(metrics.ResultSuccess, len(produced), skipped, took)
	result.Success = true
	logger.Info().
		Int("produced", len(produced)).
		Int("skipped", skipped).
		Int("existing", already).
		Msg("Resize workflow completed successfully")
	return result, nil
}

func (w *ResizeWorkflow) download(wctx *WorkflowContext) ([]byte, error) {
	reader, err := w.source.Open(wctx.Ctx, wctx.Request.ContentID)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("image read failed: %w", err)
	}
	return data, nil
}

// resize runs the batch and keeps every produced variant. The permit is
// released before it returns.
func (w *ResizeWorkflow) resize(wctx *WorkflowContext, job *ResizeJob, data []byte, existing map[string]bool) (produced []resize.Outcome, skipped, already int, err error) {
	batch, err := w.resizer.Open(wctx.Ctx, job.Codec, data, job.Specs, job.MinDifference)
	if err != nil {
		return nil, 0, 0, err
	}
	defer batch.Close()

	skipped = batch.Skipped()
	// drop stored variants and repeated sizes before any encode
	planned := make(map[string]bool)
	batch.Exclude(func(o resize.Outcome) bool {
		name := storage.VariantName(o.Width, o.Height, o.Quality)
		switch {
		case existing[name]:
			already++
			return true
		case planned[name]:
			return true
		}
		planned[name] = true
		return false
	})

	for outcome, err := range batch.Outcomes() {
		if err != nil {
			return nil, skipped, already, err
		}
		produced = append(produced, outcome)
	}
	return produced, skipped, already, nil
}

func (w *ResizeWorkflow) observe(result string, produced, skipped int, took time.Duration) {
	if w.observer != nil {
		w.observer.ObserveBatch(result, produced, skipped, took)
	}
}

// imageContent accepts image MIME types and types the store could not
// determine.
func imageContent(mimeType string) bool {
	switch mimeType {
	case "", "application/octet-stream":
		return true
	}
	return strings.HasPrefix(mimeType, "image/")
}
