package workflows

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-resize-pipeline/internal/metrics"
	"github.com/tendant/simple-resize-pipeline/internal/resize"
	"github.com/tendant/simple-resize-pipeline/internal/storage"
	"github.com/tendant/simple-resize-pipeline/internal/upload"
	"github.com/tendant/simple-resize-pipeline/pkg/pipeline"
)

const contentID = "2b0e8f36-4d2c-4bfa-9a57-9a3f1f0b6c11"

type memorySource struct {
	data  map[string][]byte
	mimes map[string]string
}

func (m *memorySource) Exists(ctx context.Context, id string) (bool, error) {
	_, ok := m.data[id]
	return ok, nil
}

func (m *memorySource) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	d, ok := m.data[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(bytes.NewReader(d)), nil
}

func (m *memorySource) Metadata(ctx context.Context, id string) (*storage.Metadata, error) {
	return &storage.Metadata{Size: int64(len(m.data[id])), ContentType: m.mimes[id]}, nil
}

type memoryVariants struct {
	mu       sync.Mutex
	existing []string
	stored   map[string][]byte
	putErr   error
}

func (m *memoryVariants) ListVariants(ctx context.Context, id string) ([]string, error) {
	return m.existing, nil
}

func (m *memoryVariants) PutVariant(ctx context.Context, id, variant string, r io.Reader, meta storage.VariantMeta) (string, error) {
	if m.putErr != nil {
		return "", m.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stored == nil {
		m.stored = make(map[string][]byte)
	}
	m.stored[variant] = data
	return "derived-" + variant, nil
}

func pngImage(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	return buf.Bytes()
}

func newContext(req pipeline.ProcessRequest) *WorkflowContext {
	return &WorkflowContext{Ctx: context.Background(), Request: req, RunID: "run-test"}
}

func resizeRequest(sizes ...string) pipeline.ProcessRequest {
	return pipeline.ProcessRequest{ContentID: contentID, Job: pipeline.JobResize, Sizes: sizes}
}

func TestParseResizeRequest(t *testing.T) {
	job, err := ParseResizeRequest(resizeRequest("100xq80"), 0.3)
	require.NoError(t, err)
	assert.Len(t, job.Specs, 1)
	assert.Equal(t, 0.3, job.MinDifference)
	assert.Equal(t, pipeline.ContentTypeJPEG, job.Codec.ContentType())

	diff := 0.05
	req := resizeRequest("100xq80")
	req.MinDifference = &diff
	req.ContentType = pipeline.ContentTypePNG
	job, err = ParseResizeRequest(req, 0.3)
	require.NoError(t, err)
	assert.Equal(t, 0.05, job.MinDifference)
	assert.Equal(t, pipeline.ContentTypePNG, job.Codec.ContentType())

	tests := []struct {
		name  string
		req   pipeline.ProcessRequest
		field string
	}{
		{"no content", pipeline.ProcessRequest{Job: "resize", Sizes: []string{"xq1"}}, "content_id"},
		{"no job", pipeline.ProcessRequest{ContentID: contentID, Sizes: []string{"xq1"}}, "job"},
		{"other job", pipeline.ProcessRequest{ContentID: contentID, Job: "thumbnail", Sizes: []string{"xq1"}}, "job"},
		{"no sizes", resizeRequest(), "sizes"},
		{"bad size", resizeRequest("cxq1"), "sizes"},
		{"bad type", pipeline.ProcessRequest{ContentID: contentID, Job: "resize", Sizes: []string{"xq1"}, ContentType: "image/gif"}, "content_type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseResizeRequest(tt.req, 0.2)
			var verr *resize.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, resize.LocationBody, verr.Location)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestResizeWorkflow_WritesVariants(t *testing.T) {
	source := &memorySource{data: map[string][]byte{contentID: pngImage(t, 400, 200)}}
	variants := &memoryVariants{}
	m := metrics.New(nil)
	wf := NewResizeWorkflow(source, variants, resize.NewResizer(resize.NewGate(1)), WithBatchObserver(m))

	result, err := wf.Execute(newContext(resizeRequest("100xq80", "xq90", "390xq80")))
	require.NoError(t, err)
	require.True(t, result.Success)

	assert.Equal(t, 1, result.Skipped)
	require.Len(t, result.Results, 2)
	assert.Equal(t, 400, result.Results[0].Width)
	assert.Equal(t, 200, result.Results[0].Height)
	assert.Equal(t, 100, result.Results[1].Width)
	assert.Equal(t, 50, result.Results[1].Height)
	assert.Equal(t, []string{"derived-resized_400x200q90", "derived-resized_100x50q80"}, result.DerivedIDs)

	assert.Contains(t, variants.stored, "resized_100x50q80")
	assert.Equal(t, result.Results[1].Size, len(variants.stored["resized_100x50q80"]))
}

func TestResizeWorkflow_SkipsExistingVariants(t *testing.T) {
	source := &memorySource{data: map[string][]byte{contentID: pngImage(t, 400, 200)}}
	variants := &memoryVariants{existing: []string{"resized_100x50q80"}}
	wf := NewResizeWorkflow(source, variants, resize.NewResizer(resize.NewGate(1)))

	result, err := wf.Execute(newContext(resizeRequest("100xq80", "200xq80", "200xq80")))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Existing)
	assert.Len(t, result.DerivedIDs, 1)
	assert.Len(t, variants.stored, 1)
	assert.Contains(t, variants.stored, "resized_200x100q80")
}

type batchRecorder struct {
	produced, skipped int
}

func (b *batchRecorder) ObserveBatch(result string, produced, skipped int, took time.Duration) {
	b.produced, b.skipped = produced, skipped
}

func TestResizeWorkflow_EncodesRepeatedSizeOnce(t *testing.T) {
	source := &memorySource{data: map[string][]byte{contentID: pngImage(t, 400, 200)}}
	variants := &memoryVariants{}
	rec := &batchRecorder{}
	wf := NewResizeWorkflow(source, variants, resize.NewResizer(resize.NewGate(1)), WithBatchObserver(rec))

	// 100x50q80 resolves to the same variant as 100xq80
	result, err := wf.Execute(newContext(resizeRequest("100xq80", "100xq80", "100x50q80", "200xq80")))
	require.NoError(t, err)

	assert.Equal(t, 2, rec.produced)
	assert.Equal(t, 0, result.Existing)
	require.Len(t, result.Results, 2)
	assert.Len(t, variants.stored, 2)
}

func TestResizeWorkflow_Failures(t *testing.T) {
	gate := resize.NewGate(1)

	t.Run("invalid request", func(t *testing.T) {
		wf := NewResizeWorkflow(&memorySource{}, &memoryVariants{}, resize.NewResizer(gate))
		result, err := wf.Execute(newContext(resizeRequest()))
		assert.ErrorIs(t, err, ErrInvalidRequest)
		var verr *resize.ValidationError
		assert.ErrorAs(t, err, &verr)
		assert.False(t, result.Success)
		assert.NotEmpty(t, result.Error)
	})

	t.Run("missing content", func(t *testing.T) {
		wf := NewResizeWorkflow(&memorySource{}, &memoryVariants{}, resize.NewResizer(gate))
		_, err := wf.Execute(newContext(resizeRequest("10xq80")))
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})

	t.Run("bad image", func(t *testing.T) {
		source := &memorySource{data: map[string][]byte{contentID: []byte("not an image")}}
		wf := NewResizeWorkflow(source, &memoryVariants{}, resize.NewResizer(gate))
		_, err := wf.Execute(newContext(resizeRequest("10xq80")))
		assert.ErrorIs(t, err, ErrInvalidRequest)
		var verr *resize.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, resize.ErrBadImage, verr.Message)
	})

	t.Run("not an image", func(t *testing.T) {
		source := &memorySource{
			data:  map[string][]byte{contentID: []byte("%PDF-1.7")},
			mimes: map[string]string{contentID: "application/pdf"},
		}
		variants := &memoryVariants{}
		wf := NewResizeWorkflow(source, variants, resize.NewResizer(gate))
		_, err := wf.Execute(newContext(resizeRequest("10xq80")))
		assert.ErrorIs(t, err, ErrInvalidRequest)
		assert.Empty(t, variants.stored)
	})

	t.Run("write failure", func(t *testing.T) {
		source := &memorySource{data: map[string][]byte{contentID: pngImage(t, 40, 20)}}
		wf := NewResizeWorkflow(source, &memoryVariants{putErr: errors.New("disk full")}, resize.NewResizer(gate))
		_, err := wf.Execute(newContext(resizeRequest("10xq80")))
		assert.ErrorIs(t, err, ErrStepFailed)
	})

	t.Run("upload without dispatcher", func(t *testing.T) {
		source := &memorySource{data: map[string][]byte{contentID: pngImage(t, 40, 20)}}
		wf := NewResizeWorkflow(source, &memoryVariants{}, resize.NewResizer(gate))
		req := resizeRequest("10xq80")
		req.UploadURL = "http://example.invalid/:width"
		_, err := wf.Execute(newContext(req))
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})

	assert.Equal(t, 0, gate.InUse())
}

func TestResizeWorkflow_Uploads(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		if r.URL.Path == "/20/10" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	source := &memorySource{data: map[string][]byte{contentID: pngImage(t, 80, 40)}}
	variants := &memoryVariants{}
	dispatcher := upload.NewDispatcher(upload.NewHTTPTransport(5*time.Second))
	wf := NewResizeWorkflow(source, variants, resize.NewResizer(resize.NewGate(1)), WithDispatcher(dispatcher))

	req := resizeRequest("40xq80")
	req.UploadURL = srv.URL + "/:width/:height"
	result, err := wf.Execute(newContext(req))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, []string{"/40/20"}, paths)

	req = resizeRequest("20xq80", "10xq80")
	req.UploadURL = srv.URL + "/:width/:height"
	result, err = wf.Execute(newContext(req))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStepFailed)
	var uerr *upload.UploadError
	assert.ErrorAs(t, err, &uerr)
	assert.False(t, result.Success)
	assert.Len(t, result.DerivedIDs, 2)
	assert.Contains(t, result.Error, fmt.Sprintf("%d", http.StatusInternalServerError))
}
