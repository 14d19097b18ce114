package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/tendant/simple-content/pkg/simplecontent"
	"github.com/tendant/simple-resize-pipeline/pkg/pipeline"
)

// DerivedWriter keeps resized variants as derived content of their source,
// one derived content per variant name.
type DerivedWriter struct {
	service simplecontent.Service
}

// NewDerivedWriter wraps service.
func NewDerivedWriter(service simplecontent.Service) *DerivedWriter {
	return &DerivedWriter{service: service}
}

// ListVariants returns the resized variant names already stored for contentID.
func (dw *DerivedWriter) ListVariants(ctx context.Context, contentID string) ([]string, error) {
	parentID, err := parseContentID(contentID)
	if err != nil {
		return nil, err
	}

	derived, err := dw.service.ListDerivedContent(ctx,
		simplecontent.WithParentID(parentID),
		simplecontent.WithDerivationType(pipeline.DerivedTypeResized),
	)
	if err != nil {
		return nil, fmt.Errorf("list variants of %s: %w", contentID, err)
	}

	variants := make([]string, 0, len(derived))
	for _, d := range derived {
		// the filter is advisory on some backends
		if d.DerivationType != pipeline.DerivedTypeResized || d.Variant == "" {
			continue
		}
		variants = append(variants, d.Variant)
	}
	return variants, nil
}

// PutVariant uploads one encoded variant and returns the derived content ID.
func (dw *DerivedWriter) PutVariant(ctx context.Context, contentID string, variant string, r io.Reader, meta VariantMeta) (string, error) {
	parentID, err := parseContentID(contentID)
	if err != nil {
		return "", err
	}

	req := simplecontent.UploadDerivedContentRequest{
		ParentID:       parentID,
		DerivationType: pipeline.DerivedTypeResized,
		Variant:        variant,
		Reader:         r,
		FileName:       meta.FileName,
		Tags:           []string{pipeline.DerivedTypeResized, variant},
	}
	if req.FileName == "" {
		req.FileName = VariantFileName(variant, meta.ContentType)
	}

	derived, err := dw.service.UploadDerivedContent(ctx, req)
	if err != nil {
		return "", fmt.Errorf("store variant %s of %s: %w", variant, contentID, err)
	}
	return derived.ID.String(), nil
}
