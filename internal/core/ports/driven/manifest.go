package driven

import (
	"context"
	"io"

	"github.com/custodia-labs/ferry/internal/core/domain"
)

// ManifestReader yields manifest records in manifest order.
type ManifestReader interface {
	// Next returns the next record, or io.EOF after the last one.
	Next(ctx context.Context) (domain.ManifestRecord, error)
}

// ManifestCodec serialises manifests for transport.
type ManifestCodec interface {
	// Encode writes the records to w.
	Encode(w io.Writer, records []domain.ManifestRecord) error

	// NewReader reads records from r as they are needed.
	NewReader(r io.Reader) ManifestReader
}

// ManifestProcessor is the per-record step wrapped by the manifest harness.
type ManifestProcessor interface {
	StartManifest(ctx context.Context) error
	ProcessHeader(ctx context.Context, header domain.ManifestHeader) error
	ProcessNormalNode(ctx context.Context, node *domain.NormalNode) error
	ProcessDeletedNode(ctx context.Context, node *domain.DeletedNode) error
	EndManifest(ctx context.Context) error
}

// FailureHook runs local cleanup after a manifest record fails.
// Errors it returns are logged and never replace the record's error.
type FailureHook interface {
	OnRecordFailure(ctx context.Context, transferID string, node *domain.NodeRef, cause error) error
}
