package resize

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"

	"github.com/disintegration/imaging"
	"github.com/tendant/simple-resize-pipeline/pkg/pipeline"

	_ "golang.org/x/image/bmp"  // Register BMP decoder
	_ "golang.org/x/image/webp" // Register WebP decoder
)

// Codec decodes, resizes and encodes images.
type Codec interface {
	Decode(data []byte) (image.Image, error)
	Resize(img image.Image, width, height int) (image.Image, error)
	Encode(img image.Image, quality int) ([]byte, error)
	ContentType() string
}

// ImagingCodec implements Codec with disintegration/imaging.
type ImagingCodec struct {
	format      imaging.Format
	contentType string
	filter      imaging.ResampleFilter
}

// NewCodec returns a codec that encodes to contentType (image/jpeg or image/png).
func NewCodec(contentType string) (*ImagingCodec, error) {
	var format imaging.Format
	switch contentType {
	case pipeline.ContentTypeJPEG:
		format = imaging.JPEG
	case pipeline.ContentTypePNG:
		format = imaging.PNG
	default:
		return nil, fmt.Errorf("unsupported content type %q", contentType)
	}
	return &ImagingCodec{
		format:      format,
		contentType: contentType,
		filter:      imaging.Lanczos,
	}, nil
}

// SupportedContentType reports whether NewCodec accepts contentType.
func SupportedContentType(contentType string) bool {
	return contentType == pipeline.ContentTypeJPEG || contentType == pipeline.ContentTypePNG
}

// ContentType returns the MIME type of encoded output.
func (c *ImagingCodec) ContentType() string { return c.contentType }

// Decode decodes JPEG, PNG, GIF, BMP or WebP data, applying EXIF orientation.
func (c *ImagingCodec) Decode(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, errors.New("image has no pixels")
	}
	return img, nil
}

// Resize scales img to exactly width x height.
func (c *ImagingCodec) Resize(img image.Image, width, height int) (image.Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid target size %dx%d", width, height)
	}
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return img, nil
	}
	return imaging.Resize(img, width, height, c.filter), nil
}

// Encode writes img in the codec's format. Quality is the JPEG quality;
// for PNG it selects the compression level.
func (c *ImagingCodec) Encode(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	var opts []imaging.EncodeOption
	switch c.format {
	case imaging.JPEG:
		opts = append(opts, imaging.JPEGQuality(clamp(quality, 1, 100)))
	case imaging.PNG:
		opts = append(opts, imaging.PNGCompressionLevel(pngLevel(quality)))
	}
	if err := imaging.Encode(&buf, img, c.format, opts...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// pngLevel maps high quality to faster, lighter compression.
func pngLevel(quality int) png.CompressionLevel {
	switch {
	case quality >= 90:
		return png.BestSpeed
	case quality <= 30:
		return png.BestCompression
	default:
		return png.DefaultCompression
	}
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
