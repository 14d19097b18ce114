package main

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-resize-pipeline/internal/resize"
	"github.com/tendant/simple-resize-pipeline/internal/storage"
	"github.com/tendant/simple-resize-pipeline/pkg/pipeline"
)

func writeImage(t *testing.T, dir string, width, height int) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: 90, B: uint8(y), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	path := filepath.Join(dir, "photo.png")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func newTestJob(t *testing.T, out string, sizes ...string) *job {
	t.Helper()
	specs, err := pipeline.ParseSizes(sizes)
	require.NoError(t, err)
	codec, err := resize.NewCodec(pipeline.ContentTypePNG)
	require.NoError(t, err)
	fs, err := storage.NewFilesystemStorage(out)
	require.NoError(t, err)
	return &job{
		specs:         specs,
		codec:         codec,
		minDifference: pipeline.DefaultMinDifference,
		resizer:       resize.NewResizer(resize.NewGate(1)),
		out:           fs,
		nameTemplate:  DefaultNameTemplate,
	}
}

func TestJob_ResizeFile(t *testing.T) {
	src := writeImage(t, t.TempDir(), 200, 100)
	out := t.TempDir()
	j := newTestJob(t, out, "100xq80", "190xq80", "50xq80", "100xq80")

	results, err := j.resizeFile(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "photo-100-50-q80.png", results[0].key)
	assert.Equal(t, "photo-50-25-q80.png", results[1].key)

	written, err := imaging.Open(filepath.Join(out, "photo-100-50-q80.png"))
	require.NoError(t, err)
	assert.Equal(t, 100, written.Bounds().Dx())
	assert.Equal(t, 50, written.Bounds().Dy())

	// existing outputs are kept unless overwrite is set
	_, err = j.resizeFile(context.Background(), src)
	assert.ErrorContains(t, err, "already exists")

	j.overwrite = true
	_, err = j.resizeFile(context.Background(), src)
	assert.NoError(t, err)
}

func TestJob_FileName(t *testing.T) {
	j := newTestJob(t, t.TempDir(), "10xq1")
	j.nameTemplate = "thumbs/:width/:name"
	name := j.fileName("cat", resize.Outcome{Width: 64, Height: 32, Quality: 75})
	assert.Equal(t, "thumbs/64/cat.png", name)

	j.nameTemplate = ":name_:widthx:height"
	assert.Equal(t, "cat_64x32.png", j.fileName("cat", resize.Outcome{Width: 64, Height: 32, Quality: 75}))
}
