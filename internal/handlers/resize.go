package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tendant/simple-resize-pipeline/internal/metrics"
	"github.com/tendant/simple-resize-pipeline/internal/resize"
	"github.com/tendant/simple-resize-pipeline/internal/upload"
	"github.com/tendant/simple-resize-pipeline/internal/workflows"
	"github.com/tendant/simple-resize-pipeline/pkg/pipeline"
)

// ResizeHandler serves /resize. The request body is the source image, the
// Accept header selects the output format and every "size" query value
// asks for one variant.
type ResizeHandler struct {
	resizer       *resize.Resizer
	dispatcher    *upload.Dispatcher
	observer      workflows.BatchObserver
	minDifference float64
}

// ResizeHandlerOption configures a ResizeHandler.
type ResizeHandlerOption func(*ResizeHandler)

// WithUploads enables the upload-url batch mode.
func WithUploads(d *upload.Dispatcher) ResizeHandlerOption {
	return func(h *ResizeHandler) { h.dispatcher = d }
}

// WithResizeObserver reports every batch, typically to metrics.
func WithResizeObserver(o workflows.BatchObserver) ResizeHandlerOption {
	return func(h *ResizeHandler) { h.observer = o }
}

// NewResizeHandler creates a handler. minDifference is used when the
// request has no usable diff parameter.
func NewResizeHandler(resizer *resize.Resizer, minDifference float64, opts ...ResizeHandlerOption) *ResizeHandler {
	h := &ResizeHandler{resizer: resizer, minDifference: minDifference}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type batchFailure struct {
	Results []pipeline.ResizeResult `json:"results"`
	Error   string                  `json:"error"`
}

func (h *ResizeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	runID := uuid.NewString()
	logger := log.With().Str("run_id", runID).Logger()

	codec, err := resize.OutputCodec(resize.LocationHeaders, "accept", r.Header.Get("Accept"))
	if err != nil {
		h.observe(metrics.ResultInvalid, 0, 0, 0)
		writeError(w, logger, err)
		return
	}

	query := r.URL.Query()
	specs, err := resize.ParseSizes(resize.LocationQuery, "size", query["size"])
	if err != nil {
		h.observe(metrics.ResultInvalid, 0, 0, 0)
		writeError(w, logger, err)
		return
	}

	uploadURL := query.Get("upload-url")
	switch {
	case uploadURL == "" && len(specs) > 1:
		err = resize.NewValidationError(resize.LocationQuery, "size", "Only one size is allowed without upload-url")
	case uploadURL != "" && h.dispatcher == nil:
		err = resize.NewValidationError(resize.LocationQuery, "upload-url", "Uploads are not enabled")
	case uploadURL != "" && !h.dispatcher.Supports(uploadURL):
		err = resize.NewValidationError(resize.LocationQuery, "upload-url", "Upload URL scheme is not supported")
	}
	if err != nil {
		h.observe(metrics.ResultInvalid, 0, 0, 0)
		writeError(w, logger, err)
		return
	}

	minDifference := pipeline.ParseMinDifferenceOr(query.Get("diff"), h.minDifference)

	data, err := io.ReadAll(r.Body)
	if err != nil {
		h.observe(metrics.ResultInvalid, 0, 0, 0)
		writeError(w, logger, err)
		return
	}

	logger.Info().
		Strs("sizes", query["size"]).
		Str("content_type", codec.ContentType()).
		Int("bytes", len(data)).
		Float64("min_difference", minDifference).
		Msg("Resize request")

	if uploadURL == "" {
		h.single(r.Context(), w, logger, codec, data, specs[0], minDifference)
		return
	}
	h.multiple(r.Context(), w, logger, runID, codec, data, specs, minDifference, uploadURL)
}

func (h *ResizeHandler) single(ctx context.Context, w http.ResponseWriter, logger zerolog.Logger, codec *resize.ImagingCodec, data []byte, spec pipeline.SizeSpec, minDifference float64) {
	start := time.Now()
	outcome, err := h.resizer.ResizeOne(ctx, codec, data, spec, minDifference)
	took := time.Since(start)
	if err != nil {
		h.observeFailure(err, took)
		writeError(w, logger, err)
		return
	}

	if !outcome.Resized {
		h.observe(metrics.ResultSuccess, 0, 1, took)
		logger.Info().Str("size", spec.String()).Msg("Resize not worth producing")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.observe(metrics.ResultSuccess, 1, 0, took)

	header := w.Header()
	header.Set("Content-Type", codec.ContentType())
	header.Set("X-Width", strconv.Itoa(outcome.Width))
	header.Set("X-Height", strconv.Itoa(outcome.Height))
	header.Set("X-Size", strconv.Itoa(outcome.Size))
	header.Set("X-Quality", strconv.Itoa(outcome.Quality))
	header.Set("Content-Length", strconv.Itoa(outcome.Size))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(outcome.Payload); err != nil {
		logger.Warn().Err(err).Msg("Failed to write resized image")
	}
}

func (h *ResizeHandler) multiple(ctx context.Context, w http.ResponseWriter, logger zerolog.Logger, runID string, codec *resize.ImagingCodec, data []byte, specs []pipeline.SizeSpec, minDifference float64, uploadURL string) {
	start := time.Now()
	produced, skipped, err := h.collect(ctx, codec, data, specs, minDifference)
	took := time.Since(start)
	if err != nil {
		h.observeFailure(err, took)
		writeError(w, logger, err)
		return
	}

	// uploads run after the permit was released
	session := h.dispatcher.Start(ctx, runID, uploadURL, codec.ContentType())
	for _, outcome := range produced {
		session.Submit(outcome)
	}
	results, err := session.Wait()
	if results == nil {
		results = []pipeline.ResizeResult{}
	}

	if err != nil {
		h.observe(metrics.ResultUploadFail, len(produced), skipped, took)
		logger.Error().Err(err).Int("produced", len(produced)).Msg("Resize batch finished with upload failures")
		writeJSON(w, http.StatusBadGateway, batchFailure{Results: results, Error: err.Error()})
		return
	}

	h.observe(metrics.ResultSuccess, len(produced), skipped, took)
	logger.Info().Int("produced", len(produced)).Int("skipped", skipped).Msg("Resize batch completed")
	writeJSON(w, http.StatusOK, results)
}

// collect runs the whole batch while holding a permit and returns the
// produced variants once the permit is released.
func (h *ResizeHandler) collect(ctx context.Context, codec *resize.ImagingCodec, data []byte, specs []pipeline.SizeSpec, minDifference float64) ([]resize.Outcome, int, error) {
	batch, err := h.resizer.Open(ctx, codec, data, specs, minDifference)
	if err != nil {
		return nil, 0, err
	}
	defer batch.Close()

	skipped := batch.Skipped()
	var produced []resize.Outcome
	for outcome, err := range batch.Outcomes() {
		if err != nil {
			return nil, skipped, err
		}
		produced = append(produced, outcome)
	}
	return produced, skipped, nil
}

func (h *ResizeHandler) observeFailure(err error, took time.Duration) {
	var verr *resize.ValidationError
	if errors.As(err, &verr) {
		h.observe(metrics.ResultInvalid, 0, 0, took)
		return
	}
	h.observe(metrics.ResultError, 0, 0, took)
}

func (h *ResizeHandler) observe(result string, produced, skipped int, took time.Duration) {
	if h.observer != nil {
		h.observer.ObserveBatch(result, produced, skipped, took)
	}
}
