package driven

import (
	"context"
	"io"
)

// StagingArea holds a transfer's manifest and received content on the
// receiving side until commit.
type StagingArea interface {
	// Create prepares an empty area for a transfer.
	Create(ctx context.Context, transferID string) error

	// SaveManifest stores the manifest, replacing any previous one.
	SaveManifest(ctx context.Context, transferID string, r io.Reader) error

	// OpenManifest opens the stored manifest.
	OpenManifest(ctx context.Context, transferID string) (io.ReadCloser, error)

	// SaveContent stores one content part under its part name.
	SaveContent(ctx context.Context, transferID, partName string, r io.Reader) error

	// HasContent reports whether a content part was received.
	HasContent(ctx context.Context, transferID, partName string) (bool, error)

	// OpenContent opens a received content part.
	OpenContent(ctx context.Context, transferID, partName string) (io.ReadCloser, error)

	// Remove deletes everything staged for a transfer.
	Remove(ctx context.Context, transferID string) error
}

// ContentStore holds committed content on the receiving side, keyed by
// content URL.
type ContentStore interface {
	// Put stores the payload for url, replacing any previous one.
	Put(ctx context.Context, url string, r io.Reader) error

	// Has reports whether a payload is stored for url.
	Has(ctx context.Context, url string) (bool, error)

	// Open returns the stored payload for url.
	Open(ctx context.Context, url string) (io.ReadCloser, error)
}
