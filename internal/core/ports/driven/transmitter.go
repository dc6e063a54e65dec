package driven

import (
	"context"
	"io"

	"github.com/custodia-labs/ferry/internal/core/domain"
)

// Transmitter drives the transfer protocol against a remote receiver.
// Every failed call returns a *domain.TransmitterError.
type Transmitter interface {
	// VerifyTarget checks that the target is reachable and accepts us.
	VerifyTarget(ctx context.Context, target domain.TransferTarget) error

	// Begin opens a transfer and negotiates versions.
	Begin(ctx context.Context, target domain.TransferTarget, fromRepositoryID string, fromVersion domain.TransferVersion) (*domain.Transfer, error)

	// SendManifest uploads the manifest and streams the receiver's reply
	// (the delta list) into result.
	SendManifest(ctx context.Context, transfer *domain.Transfer, manifest io.Reader, result io.Writer) error

	// SendContent uploads one batch of content in a single request.
	SendContent(ctx context.Context, transfer *domain.Transfer, batch []domain.ContentData) error

	Prepare(ctx context.Context, transfer *domain.Transfer) error
	Commit(ctx context.Context, transfer *domain.Transfer) error
	Abort(ctx context.Context, transfer *domain.Transfer) error

	// GetStatus polls receiver-side progress.
	GetStatus(ctx context.Context, transfer *domain.Transfer) (*domain.TransferProgress, error)

	// GetTransferReport streams the receiver's report into result.
	GetTransferReport(ctx context.Context, transfer *domain.Transfer, result io.Writer) error
}

// ContentSource opens content payloads on the sending side.
type ContentSource interface {
	// Open returns the payload behind a content URL.
	Open(ctx context.Context, url string) (io.ReadCloser, error)
}
