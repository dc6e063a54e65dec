package domain

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Transfer identifies one in-flight replication run.
type Transfer struct {
	// ID is the receiver-assigned transfer identifier.
	ID string

	// Target is the endpoint the transfer runs against.
	Target TransferTarget

	// FromVersion is the version of the sending repository.
	FromVersion TransferVersion

	// ToVersion is the version reported by the destination at begin.
	ToVersion TransferVersion

	// Status is the last status observed by the client.
	Status TransferStatus
}

// TransferTarget describes a destination endpoint.
type TransferTarget struct {
	// Name is the configured name of the target.
	Name string

	Protocol string
	Host     string
	Port     int
	Path     string

	Username string
	Password string
}

// Supported target protocols.
const (
	ProtocolHTTP  = "http"
	ProtocolHTTPS = "https"
)

// ParseTransferTarget builds a target from an endpoint URL such as
// https://repo.example.com:8443/transfer.
func ParseTransferTarget(name, endpoint string) (TransferTarget, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return TransferTarget{}, fmt.Errorf("%w: endpoint %q: %w", ErrConfiguration, endpoint, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != ProtocolHTTP && scheme != ProtocolHTTPS {
		return TransferTarget{}, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, u.Scheme)
	}
	if u.Hostname() == "" {
		return TransferTarget{}, fmt.Errorf("%w: endpoint %q has no host", ErrConfiguration, endpoint)
	}

	target := TransferTarget{
		Name:     name,
		Protocol: scheme,
		Host:     u.Hostname(),
		Path:     strings.TrimRight(u.Path, "/"),
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return TransferTarget{}, fmt.Errorf("%w: port %q", ErrConfiguration, p)
		}
		target.Port = port
	}
	if u.User != nil {
		target.Username = u.User.Username()
		target.Password, _ = u.User.Password()
	}
	return target, nil
}

// BaseURL returns the target's base endpoint URL without credentials.
func (t TransferTarget) BaseURL() string {
	host := t.Host
	if t.Port > 0 {
		host = fmt.Sprintf("%s:%d", t.Host, t.Port)
	}
	u := url.URL{Scheme: t.Protocol, Host: host, Path: t.Path}
	return u.String()
}

// String identifies the target in logs and errors.
func (t TransferTarget) String() string {
	if t.Name != "" {
		return t.Name + " (" + t.BaseURL() + ")"
	}
	return t.BaseURL()
}

// TransferVersion is a repository version descriptor.
type TransferVersion struct {
	Major    string
	Minor    string
	Revision string
	Edition  string
}

// UnknownVersion is assumed when a destination does not report its version.
var UnknownVersion = TransferVersion{Major: "0", Minor: "0", Revision: "0", Edition: "Unknown"}

// String returns the version in major.minor.revision/edition form.
func (v TransferVersion) String() string {
	return fmt.Sprintf("%s.%s.%s/%s", v.Major, v.Minor, v.Revision, v.Edition)
}

// TransferStatus is the lifecycle status of a transfer.
type TransferStatus string

const (
	// StatusPreCommit covers everything before commit is requested.
	StatusPreCommit TransferStatus = "PRE_COMMIT"
	// StatusCommitRequested is set when commit has been accepted but not started.
	StatusCommitRequested TransferStatus = "COMMIT_REQUESTED"
	// StatusCommitting is set while the manifest is applied.
	StatusCommitting TransferStatus = "COMMITTING"
	// StatusComplete is terminal: the transfer committed.
	StatusComplete TransferStatus = "COMPLETE"
	// StatusError is terminal: the transfer failed and rolled back.
	StatusError TransferStatus = "ERROR"
	// StatusCancelled is terminal: the transfer was aborted before commit.
	StatusCancelled TransferStatus = "CANCELLED"
)

// AllStatuses lists every known status.
var AllStatuses = []TransferStatus{
	StatusPreCommit,
	StatusCommitRequested,
	StatusCommitting,
	StatusComplete,
	StatusError,
	StatusCancelled,
}

// ParseTransferStatus converts a wire status into a TransferStatus.
func ParseTransferStatus(s string) (TransferStatus, error) {
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: unknown transfer status %q", ErrInvalidInput, s)
}

// IsTerminal reports whether no further status change can happen.
func (s TransferStatus) IsTerminal() bool {
	return s == StatusComplete || s == StatusError || s == StatusCancelled
}

// HasCommitStarted reports whether cancellation can no longer win.
func (s TransferStatus) HasCommitStarted() bool {
	return s == StatusCommitRequested || s == StatusCommitting || s.IsTerminal()
}

// TransferProgress is a snapshot of a transfer's progress at the receiver.
type TransferProgress struct {
	CurrentPosition int
	EndPosition     int
	Status          TransferStatus

	// Error is set when Status is StatusError.
	Error *TransferError
}

// LogEntryKind classifies progress log entries.
type LogEntryKind string

const (
	LogComment LogEntryKind = "comment"
	LogCreated LogEntryKind = "created"
	LogUpdated LogEntryKind = "updated"
	LogMoved   LogEntryKind = "moved"
	LogDeleted LogEntryKind = "deleted"
	LogError   LogEntryKind = "error"
)

// LogEntry is one line of a transfer's progress log.
type LogEntry struct {
	ID         string       `json:"id"`
	TransferID string       `json:"transferId"`
	At         time.Time    `json:"at"`
	Kind       LogEntryKind `json:"kind"`
	Node       *NodeRef     `json:"node,omitempty"`
	Path       string       `json:"path,omitempty"`
	Message    string       `json:"message"`
}
