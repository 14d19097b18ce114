package resize

import (
	"context"
	"errors"
	"fmt"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-resize-pipeline/pkg/pipeline"
)

// fakeCodec decodes any payload to an image of a fixed size and records
// every resize call.
type fakeCodec struct {
	width, height int
	decodeErr     error
	resizeErrAt   int
	encodeErr     error
	resized       []string
}

func (c *fakeCodec) Decode(data []byte) (image.Image, error) {
	if c.decodeErr != nil {
		return nil, c.decodeErr
	}
	return image.NewNRGBA(image.Rect(0, 0, c.width, c.height)), nil
}

func (c *fakeCodec) Resize(img image.Image, width, height int) (image.Image, error) {
	c.resized = append(c.resized, fmt.Sprintf("%dx%d", width, height))
	if c.resizeErrAt > 0 && len(c.resized) == c.resizeErrAt {
		return nil, errors.New("resize exploded")
	}
	return image.NewNRGBA(image.Rect(0, 0, width, height)), nil
}

func (c *fakeCodec) Encode(img image.Image, quality int) ([]byte, error) {
	if c.encodeErr != nil {
		return nil, c.encodeErr
	}
	b := img.Bounds()
	return []byte(fmt.Sprintf("%dx%d@%d", b.Dx(), b.Dy(), quality)), nil
}

func (c *fakeCodec) ContentType() string { return pipeline.ContentTypeJPEG }

func mustSizes(t *testing.T, values ...string) []pipeline.SizeSpec {
	t.Helper()
	specs, err := pipeline.ParseSizes(values)
	require.NoError(t, err)
	return specs
}

func collect(t *testing.T, b *Batch) ([]Outcome, error) {
	t.Helper()
	var out []Outcome
	for o, err := range b.Outcomes() {
		if err != nil {
			return out, err
		}
		out = append(out, o)
	}
	return out, nil
}

func TestBatch_OrdersWidestFirstAndSkips(t *testing.T) {
	codec := &fakeCodec{width: 1000, height: 500}
	r := NewResizer(NewGate(1))

	batch, err := r.Open(context.Background(), codec, []byte("img"), mustSizes(t, "100xq80", "950xq80", "x400q70", "500xq60"), 0.20)
	require.NoError(t, err)
	defer batch.Close()

	assert.Equal(t, 1, batch.Skipped())
	w, h := batch.SourceSize()
	assert.Equal(t, 1000, w)
	assert.Equal(t, 500, h)

	outcomes, err := collect(t, batch)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	assert.Equal(t, 800, outcomes[0].Width)
	assert.Equal(t, 500, outcomes[1].Width)
	assert.Equal(t, 100, outcomes[2].Width)
	for i := 1; i < len(outcomes); i++ {
		assert.GreaterOrEqual(t, outcomes[i-1].Width, outcomes[i].Width)
	}
	assert.Equal(t, []string{"800x400", "500x250", "100x50"}, codec.resized)

	assert.Equal(t, "800x400@70", string(outcomes[0].Payload))
	assert.Equal(t, len(outcomes[0].Payload), outcomes[0].Size)
	assert.Equal(t, 0, r.Gate().InUse())
}

func TestBatch_ReleasesPermitAfterIteration(t *testing.T) {
	gate := NewGate(1)
	r := NewResizer(gate)

	batch, err := r.Open(context.Background(), &fakeCodec{width: 100, height: 100}, []byte("img"), mustSizes(t, "50xq80"), 0.2)
	require.NoError(t, err)
	assert.Equal(t, 1, gate.InUse())

	_, err = collect(t, batch)
	require.NoError(t, err)
	assert.Equal(t, 0, gate.InUse())

	batch.Close()
	assert.Equal(t, 0, gate.InUse())
}

func TestBatch_EarlyStopDoesNoMoreWork(t *testing.T) {
	gate := NewGate(1)
	codec := &fakeCodec{width: 1000, height: 1000}
	r := NewResizer(gate)

	batch, err := r.Open(context.Background(), codec, []byte("img"), mustSizes(t, "100xq80", "200xq80", "300xq80"), 0.2)
	require.NoError(t, err)
	defer batch.Close()

	for o, err := range batch.Outcomes() {
		require.NoError(t, err)
		assert.Equal(t, 300, o.Width)
		break
	}

	assert.Equal(t, []string{"300x300"}, codec.resized)
	assert.Equal(t, 0, gate.InUse())
}

func TestBatch_Exclude(t *testing.T) {
	codec := &fakeCodec{width: 1000, height: 1000}
	r := NewResizer(NewGate(1))

	batch, err := r.Open(context.Background(), codec, []byte("img"), mustSizes(t, "100xq80", "200xq80", "990xq80"), 0.2)
	require.NoError(t, err)
	defer batch.Close()

	dropped := batch.Exclude(func(o Outcome) bool { return o.Width == 200 })
	assert.Equal(t, 1, dropped)
	assert.Equal(t, 1, batch.Skipped())

	outcomes, err := collect(t, batch)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, 100, outcomes[0].Width)
	assert.Equal(t, []string{"100x100"}, codec.resized)

	assert.Zero(t, batch.Exclude(func(Outcome) bool { return true }))
}

func TestBatch_NotRestartable(t *testing.T) {
	r := NewResizer(NewGate(1))
	batch, err := r.Open(context.Background(), &fakeCodec{width: 100, height: 100}, []byte("img"), mustSizes(t, "50xq80"), 0.2)
	require.NoError(t, err)

	_, err = collect(t, batch)
	require.NoError(t, err)

	_, err = collect(t, batch)
	assert.Error(t, err)
}

func TestBatch_CloseWithoutIterating(t *testing.T) {
	gate := NewGate(1)
	r := NewResizer(gate)
	batch, err := r.Open(context.Background(), &fakeCodec{width: 100, height: 100}, []byte("img"), mustSizes(t, "50xq80"), 0.2)
	require.NoError(t, err)

	batch.Close()
	assert.Equal(t, 0, gate.InUse())

	_, err = collect(t, batch)
	assert.Error(t, err)
}

func TestBatch_DecodeFailureIsValidation(t *testing.T) {
	gate := NewGate(1)
	r := NewResizer(gate)

	_, err := r.Open(context.Background(), &fakeCodec{decodeErr: errors.New("garbage")}, []byte("img"), mustSizes(t, "50xq80"), 0.2)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, LocationBody, verr.Location)
	assert.Equal(t, "image", verr.Field)
	assert.Equal(t, ErrBadImage, verr.Message)
	assert.Equal(t, 0, gate.InUse())
}

func TestBatch_EmptyImageRejectedBeforeGate(t *testing.T) {
	gate := NewGate(1)
	hold, err := gate.Acquire(context.Background())
	require.NoError(t, err)
	defer hold()

	r := NewResizer(gate)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = r.Open(ctx, &fakeCodec{width: 1, height: 1}, nil, mustSizes(t, "xq80"), 0.2)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Required", verr.Message)
}

func TestBatch_ProcessingErrorAbortsSequence(t *testing.T) {
	gate := NewGate(1)
	codec := &fakeCodec{width: 1000, height: 1000, resizeErrAt: 2}
	r := NewResizer(gate)

	batch, err := r.Open(context.Background(), codec, []byte("img"), mustSizes(t, "100xq80", "200xq80", "300xq80"), 0.2)
	require.NoError(t, err)
	defer batch.Close()

	outcomes, err := collect(t, batch)
	var perr *ProcessingError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "resize", perr.Op)
	assert.Equal(t, "200xq80", perr.Spec.String())
	assert.Len(t, outcomes, 1)
	assert.Len(t, codec.resized, 2)
	assert.Equal(t, 0, gate.InUse())
}

func TestBatch_EncodeError(t *testing.T) {
	r := NewResizer(NewGate(1))
	codec := &fakeCodec{width: 100, height: 100, encodeErr: errors.New("disk full")}

	_, err := r.ResizeOne(context.Background(), codec, []byte("img"), pipeline.NewSizeSpec(50, 0, 80), 0.2)
	var perr *ProcessingError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "encode", perr.Op)
}

func TestResizeOne(t *testing.T) {
	r := NewResizer(NewGate(1))
	codec := &fakeCodec{width: 1000, height: 500}

	out, err := r.ResizeOne(context.Background(), codec, []byte("img"), pipeline.NewSizeSpec(100, 0, 80), 0.2)
	require.NoError(t, err)
	assert.True(t, out.Resized)
	assert.Equal(t, 100, out.Width)
	assert.Equal(t, 50, out.Height)

	out, err = r.ResizeOne(context.Background(), codec, []byte("img"), pipeline.NewSizeSpec(950, 0, 80), 0.2)
	require.NoError(t, err)
	assert.False(t, out.Resized)
	assert.Equal(t, 0, r.Gate().InUse())
}

func TestBatch_ConcurrentBatchesShareGate(t *testing.T) {
	gate := NewGate(2)
	r := NewResizer(gate)

	held := make([]*Batch, 0, 2)
	for i := 0; i < 2; i++ {
		b, err := r.Open(context.Background(), &fakeCodec{width: 10, height: 10}, []byte("img"), mustSizes(t, "5xq80"), 0.2)
		require.NoError(t, err)
		held = append(held, b)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.Open(ctx, &fakeCodec{width: 10, height: 10}, []byte("img"), mustSizes(t, "5xq80"), 0.2)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	for _, b := range held {
		b.Close()
	}
	assert.Equal(t, 0, gate.InUse())
}
