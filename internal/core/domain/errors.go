package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates an entity already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// Configuration Errors. These are always fatal.

	// ErrConfiguration indicates the transfer cannot run as configured.
	ErrConfiguration = errors.New("configuration error")

	// ErrStoreNotFound indicates a destination store does not exist.
	ErrStoreNotFound = fmt.Errorf("%w: store not found", ErrConfiguration)

	// ErrUnsupportedProtocol indicates a target uses a transport scheme we cannot speak.
	ErrUnsupportedProtocol = fmt.Errorf("%w: unsupported transport protocol", ErrConfiguration)

	// ErrTargetNotFound indicates no target is configured under the given name.
	ErrTargetNotFound = fmt.Errorf("%w: transfer target not found", ErrConfiguration)

	// Transfer Errors.

	// ErrTransferInProgress indicates the receiver is already running a transfer.
	ErrTransferInProgress = errors.New("transfer in progress")

	// ErrUnknownTransfer indicates the transfer id is not known to the receiver.
	ErrUnknownTransfer = errors.New("unknown transfer")

	// ErrTransferToSelf indicates a repository tried to transfer to itself.
	ErrTransferToSelf = errors.New("transfer to self is not allowed")

	// ErrUnsuccessfulResponse indicates a non-success transport status without
	// a structured error body.
	ErrUnsuccessfulResponse = errors.New("unsuccessful response received")

	// ErrCancelled indicates the transfer was cancelled before commit.
	ErrCancelled = errors.New("transfer cancelled")

	// ErrRollbackOnly indicates a commit was attempted on a failed transaction.
	ErrRollbackOnly = errors.New("transaction is marked rollback-only")

	// ErrContentMissing indicates required content never arrived.
	ErrContentMissing = errors.New("required content missing")

	// ErrOrphansRemain indicates nodes whose parent never arrived.
	ErrOrphansRemain = errors.New("orphan nodes remain at end of manifest")

	// Manifest Errors.

	// ErrFatal is the family of per-node errors that abort the manifest.
	ErrFatal = errors.New("fatal manifest error")

	// ErrManifestAborted indicates records arrived after a fatal error.
	ErrManifestAborted = errors.New("manifest processing aborted")
)

// TransferError is the structured error exchanged between sender and receiver.
// It round-trips through the status and error payloads unchanged.
type TransferError struct {
	// Message is free text; it may be empty.
	Message string `json:"errorMessage"`

	// MessageID, when set, identifies the error in place of Message.
	MessageID string `json:"alfrescoMessageId,omitempty"`

	// Params are positional substitution parameters for MessageID.
	Params []string `json:"alfrescoMessageParams,omitempty"`
}

// NewTransferError creates a TransferError identified by a message id.
func NewTransferError(messageID string, params ...string) *TransferError {
	return &TransferError{MessageID: messageID, Message: messageID, Params: params}
}

func (e *TransferError) Error() string {
	id := e.Message
	if e.MessageID != "" {
		id = e.MessageID
	}
	if len(e.Params) == 0 {
		return id
	}
	return fmt.Sprintf("%s [%s]", id, strings.Join(e.Params, ", "))
}

// Is places every TransferError in the ErrConfiguration family, so a
// rehydrated remote failure is fatal to the sender.
func (e *TransferError) Is(target error) bool {
	return target == ErrConfiguration
}

// AsTransferError returns err as a TransferError, converting foreign errors
// into a plain message.
func AsTransferError(err error) *TransferError {
	if err == nil {
		return nil
	}
	var te *TransferError
	if errors.As(err, &te) {
		return te
	}
	return &TransferError{Message: err.Error()}
}

// TransmitterError is returned by every transport phase that fails.
type TransmitterError struct {
	// Phase names the protocol call (e.g., "begin", "post-content").
	Phase string

	// Target identifies the endpoint.
	Target string

	// Err is the rehydrated remote error, ErrUnsuccessfulResponse,
	// or the underlying transport failure.
	Err error
}

func (e *TransmitterError) Error() string {
	return fmt.Sprintf("transfer %s against %s failed: %v", e.Phase, e.Target, e.Err)
}

func (e *TransmitterError) Unwrap() error {
	return e.Err
}

// NodeError is a fatal failure while processing a manifest record.
type NodeError struct {
	// Node is the record's node identity, nil for header/end records.
	Node *NodeRef

	Err error
}

func (e *NodeError) Error() string {
	if e.Node != nil {
		return fmt.Sprintf("processing %s: %v", e.Node, e.Err)
	}
	return fmt.Sprintf("processing manifest: %v", e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

// Is places every NodeError in the ErrFatal family.
func (e *NodeError) Is(target error) bool {
	return target == ErrFatal
}

type recoverableError struct {
	err error
}

func (e *recoverableError) Error() string { return e.err.Error() }
func (e *recoverableError) Unwrap() error { return e.err }

// Recoverable marks a per-node error as one the manifest may continue past.
// The enclosing transaction is still doomed.
func Recoverable(err error) error {
	if err == nil {
		return nil
	}
	return &recoverableError{err: err}
}

// IsRecoverable reports whether err was marked with Recoverable.
func IsRecoverable(err error) bool {
	var r *recoverableError
	return errors.As(err, &r)
}
