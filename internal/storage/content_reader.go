package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/tendant/simple-content/pkg/simplecontent"
)

// ContentReader serves source images out of an embedded simple-content service.
type ContentReader struct {
	service simplecontent.Service
}

// NewContentReader wraps service.
func NewContentReader(service simplecontent.Service) *ContentReader {
	return &ContentReader{service: service}
}

func parseContentID(contentID string) (uuid.UUID, error) {
	id, err := uuid.Parse(contentID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("content id %q is not a uuid: %w", contentID, err)
	}
	return id, nil
}

// Exists reports whether the service knows contentID. The service has no
// typed not-found error, so every lookup failure reads as missing.
func (cr *ContentReader) Exists(ctx context.Context, contentID string) (bool, error) {
	id, err := parseContentID(contentID)
	if err != nil {
		return false, err
	}
	_, err = cr.service.GetContent(ctx, id)
	return err == nil, nil
}

// Open streams the original bytes of contentID.
func (cr *ContentReader) Open(ctx context.Context, contentID string) (io.ReadCloser, error) {
	id, err := parseContentID(contentID)
	if err != nil {
		return nil, err
	}
	rc, err := cr.service.DownloadContent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", contentID, err)
	}
	return rc, nil
}

func (cr *ContentReader) Metadata(ctx context.Context, contentID string) (*Metadata, error) {
	id, err := parseContentID(contentID)
	if err != nil {
		return nil, err
	}
	details, err := cr.service.GetContentDetails(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("details %s: %w", contentID, err)
	}
	return &Metadata{Size: details.FileSize, ContentType: details.MimeType}, nil
}
