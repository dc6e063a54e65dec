package driving

import (
	"context"
	"io"

	"github.com/custodia-labs/ferry/internal/core/domain"
)

// TransferService pushes subtrees to configured targets.
type TransferService interface {
	// Transfer runs a complete transfer and waits for the receiver to
	// finish committing. Cancelling ctx aborts the transfer.
	Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error)

	// Verify checks that a target is reachable and accepts our credentials.
	Verify(ctx context.Context, target string) error

	// Status returns the receiver's progress for a transfer.
	Status(ctx context.Context, target, transferID string) (*domain.TransferProgress, error)

	// Report writes the receiver's report for a transfer to w.
	Report(ctx context.Context, target, transferID string, w io.Writer) error
}

// TransferRequest describes one push.
type TransferRequest struct {
	// Target names a configured transfer target.
	Target string

	// Manifest holds the records to send, header first and end last.
	Manifest []domain.ManifestRecord

	// OnProgress, when set, is called with every polled status.
	OnProgress func(domain.TransferProgress)
}

// TransferResult summarises a finished transfer.
type TransferResult struct {
	Transfer     *domain.Transfer
	Progress     domain.TransferProgress
	ContentSent  int
	ContentTotal int
}

// TransferReceiver is the receiving end of the transfer protocol.
type TransferReceiver interface {
	// Test confirms the receiver is up.
	Test(ctx context.Context) error

	// Begin opens a transfer. Only one transfer may be open at a time.
	Begin(ctx context.Context, req BeginRequest) (*BeginResponse, error)

	// SaveSnapshot stores the manifest and writes the delta list to out.
	SaveSnapshot(ctx context.Context, transferID string, manifest io.Reader, out io.Writer) error

	// SaveContent stores one content part.
	SaveContent(ctx context.Context, transferID, partName string, r io.Reader) error

	// Prepare checks that everything needed to commit has arrived.
	Prepare(ctx context.Context, transferID string) error

	// Commit starts applying the manifest. It returns once commit has
	// started; progress is observed through Status.
	Commit(ctx context.Context, transferID string) error

	// Abort cancels a transfer. It is a no-op once commit has started.
	Abort(ctx context.Context, transferID string) error

	// Status returns the transfer's progress.
	Status(ctx context.Context, transferID string) (*domain.TransferProgress, error)

	// Report writes the transfer's log to w.
	Report(ctx context.Context, transferID string, w io.Writer) error
}

// BeginRequest carries the parameters of a begin call.
type BeginRequest struct {
	FromRepositoryID    string
	AllowTransferToSelf bool
	FromVersion         domain.TransferVersion

	// RootFileTransfer names the destination root for filesystem targets.
	RootFileTransfer string
}

// BeginResponse is the receiver's answer to a begin call.
type BeginResponse struct {
	TransferID string
	Version    domain.TransferVersion
}
