package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/tendant/simple-resize-pipeline/pkg/pipeline"
)

// ContentSource provides read access to source images by content ID
type ContentSource interface {
	// Exists checks if the content is stored
	Exists(ctx context.Context, contentID string) (bool, error)

	// Open returns a reader for the content's bytes
	Open(ctx context.Context, contentID string) (io.ReadCloser, error)

	// Metadata returns size and MIME type of the content
	Metadata(ctx context.Context, contentID string) (*Metadata, error)
}

// VariantStore keeps resized variants of a content
type VariantStore interface {
	// ListVariants returns the names of the resized variants stored for contentID
	ListVariants(ctx context.Context, contentID string) ([]string, error)

	// PutVariant stores one variant and returns its derived content ID
	PutVariant(ctx context.Context, contentID string, variant string, r io.Reader, meta VariantMeta) (string, error)
}

// Metadata contains storage object metadata
type Metadata struct {
	Size        int64
	ContentType string
	ETag        string
}

// VariantMeta describes a variant being stored
type VariantMeta struct {
	FileName    string
	ContentType string
	Result      pipeline.ResizeResult
}

// VariantName returns the derived content variant for a produced size,
// e.g. "resized_100x50q80".
func VariantName(width, height, quality int) string {
	return fmt.Sprintf("%s_%dx%dq%d", pipeline.DerivedTypeResized, width, height, quality)
}

// VariantFileName returns a file name for a variant of the given content type.
func VariantFileName(variant, contentType string) string {
	switch contentType {
	case pipeline.ContentTypePNG:
		return variant + ".png"
	default:
		return variant + ".jpg"
	}
}
