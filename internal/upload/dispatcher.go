package upload

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tendant/simple-resize-pipeline/internal/resize"
	"github.com/tendant/simple-resize-pipeline/internal/template"
	"github.com/tendant/simple-resize-pipeline/pkg/pipeline"
	"golang.org/x/sync/errgroup"
)

// Observer is told about every finished upload.
type Observer interface {
	ObserveUpload(err error)
}

// Dispatcher pushes produced variants to the destinations of a URL template.
type Dispatcher struct {
	transport Transport
	timeout   time.Duration
	limit     int
	observer  Observer
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithTimeout bounds each individual upload.
func WithTimeout(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) { disp.timeout = d }
}

// WithConcurrency caps the uploads in flight per session. Zero means no cap.
func WithConcurrency(n int) DispatcherOption {
	return func(disp *Dispatcher) { disp.limit = n }
}

// WithObserver reports every upload result to o.
func WithObserver(o Observer) DispatcherOption {
	return func(disp *Dispatcher) { disp.observer = o }
}

// NewDispatcher creates a dispatcher over transport.
func NewDispatcher(transport Transport, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{transport: transport}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Supports reports whether uploads to tmpl can be attempted. Transports
// that cannot tell accept every template.
func (d *Dispatcher) Supports(tmpl string) bool {
	if s, ok := d.transport.(interface{ Supports(string) bool }); ok {
		return s.Supports(tmpl)
	}
	return true
}

// URL materializes the destination of one variant.
func URL(tmpl string, width, height, quality int) string {
	return template.Substitute(
		tmpl,
		pipeline.UploadParameters(width, height, quality),
		pipeline.FormatParameter,
		template.WithAllowedKeys(pipeline.ParamWidth, pipeline.ParamHeight, pipeline.ParamQuality),
		template.WithSanitizer(url.PathEscape),
		// no upload key is a prefix of another
		template.WithLiteralMatch(),
	)
}

// Session is one batch worth of uploads. Submit starts an upload per
// variant; Wait blocks until all of them finished.
type Session struct {
	ctx         context.Context
	d           *Dispatcher
	tmpl        string
	contentType string
	runID       string

	g       errgroup.Group
	mu      sync.Mutex
	results []pipeline.ResizeResult
	errs    []error
}

// Start opens a session uploading to tmpl with the given content type.
func (d *Dispatcher) Start(ctx context.Context, runID, tmpl, contentType string) *Session {
	s := &Session{
		ctx:         ctx,
		d:           d,
		tmpl:        tmpl,
		contentType: contentType,
		runID:       runID,
	}
	if d.limit > 0 {
		s.g.SetLimit(d.limit)
	}
	return s
}

// Submit uploads outcome in the background. Its result is recorded in
// submission order whether or not the upload succeeds.
func (s *Session) Submit(outcome resize.Outcome) {
	s.mu.Lock()
	s.results = append(s.results, outcome.Result())
	s.mu.Unlock()

	dest := URL(s.tmpl, outcome.Width, outcome.Height, outcome.Quality)
	payload := outcome.Payload

	s.g.Go(func() error {
		err := s.put(dest, payload)
		if s.d.observer != nil {
			s.d.observer.ObserveUpload(err)
		}
		if err != nil {
			log.Error().Err(err).Str("run_id", s.runID).Str("url", dest).Msg("Upload failed")
			s.mu.Lock()
			s.errs = append(s.errs, err)
			s.mu.Unlock()
			return err
		}
		log.Info().Str("run_id", s.runID).Str("url", dest).Int("bytes", len(payload)).Msg("Uploaded variant")
		return nil
	})
}

func (s *Session) put(dest string, payload []byte) error {
	ctx := s.ctx
	if s.d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.d.timeout)
		defer cancel()
	}
	return s.d.transport.Put(ctx, dest, s.contentType, payload)
}

// Wait blocks until every submitted upload finished and returns the results
// of all submitted variants. A failure of any upload is reported as the
// joined upload errors; uploads that succeeded are not undone.
func (s *Session) Wait() ([]pipeline.ResizeResult, error) {
	_ = s.g.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results, errors.Join(s.errs...)
}
