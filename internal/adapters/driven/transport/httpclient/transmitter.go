// Package httpclient provides the HTTP transmitter that drives the transfer
// protocol against a remote receiver.
package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/ferry/internal/core/domain"
	"github.com/custodia-labs/ferry/internal/core/ports/driven"
	"github.com/custodia-labs/ferry/internal/logger"
)

// Ensure Transmitter implements the interface.
var _ driven.Transmitter = (*Transmitter)(nil)

// Protocol resources, relative to the target's base path.
const (
	PathTest         = "/test"
	PathBegin        = "/begin"
	PathPostSnapshot = "/post-snapshot"
	PathPostContent  = "/post-content"
	PathPrepare      = "/prepare"
	PathCommit       = "/commit"
	PathAbort        = "/abort"
	PathStatus       = "/status"
	PathReport       = "/report"
)

// Request parameter and part names.
const (
	ParamTransferID          = "transferId"
	ParamFromRepositoryID    = "fromRepositoryId"
	ParamAllowTransferToSelf = "allowTransferToSelf"
	ParamVersionMajor        = "versionMajor"
	ParamVersionMinor        = "versionMinor"
	ParamVersionRevision     = "versionRevision"
	ParamVersionEdition      = "versionEdition"
	ParamRootFileTransfer    = "rootFileTransfer"
	PartManifest             = "manifest"
)

// DefaultTimeout bounds non-streaming phase calls.
const DefaultTimeout = 60 * time.Second

// maxErrorBody caps how much of a failed response is read.
const maxErrorBody = 1 << 20

// BeginResponse is the JSON body answered by /begin.
type BeginResponse struct {
	TransferID      string `json:"transferId"`
	VersionMajor    string `json:"versionMajor,omitempty"`
	VersionMinor    string `json:"versionMinor,omitempty"`
	VersionRevision string `json:"versionRevision,omitempty"`
	VersionEdition  string `json:"versionEdition,omitempty"`
}

// StatusResponse is the JSON body answered by /status.
type StatusResponse struct {
	CurrentPosition int                   `json:"currentPosition"`
	EndPosition     int                   `json:"endPosition"`
	Status          string                `json:"status"`
	Error           *domain.TransferError `json:"error,omitempty"`
}

// errorPayload detects a structured error body. Message is a pointer so
// that an empty errorMessage still counts as structured.
type errorPayload struct {
	Message   *string  `json:"errorMessage"`
	MessageID string   `json:"alfrescoMessageId"`
	Params    []string `json:"alfrescoMessageParams"`
}

// Transmitter speaks the transfer protocol over HTTP(S).
type Transmitter struct {
	client           *http.Client
	content          driven.ContentSource
	limiter          *RateLimiter
	rootFileTransfer string
}

// Option configures a Transmitter.
type Option func(*Transmitter)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(t *Transmitter) {
		t.client = client
	}
}

// WithRateLimit caps the request rate against targets.
func WithRateLimit(requestsPerSecond float64, burst int) Option {
	return func(t *Transmitter) {
		t.limiter = NewRateLimiter(requestsPerSecond, burst)
	}
}

// WithRootFileTransfer sends the destination root reference on begin, for
// filesystem-backed receivers.
func WithRootFileTransfer(ref string) Option {
	return func(t *Transmitter) {
		t.rootFileTransfer = ref
	}
}

// New creates a transmitter reading content payloads from content.
// The default client keeps pooled connections and has no overall timeout
// so that large uploads and reports can stream.
func New(content driven.ContentSource, opts ...Option) *Transmitter {
	t := &Transmitter{
		client:  &http.Client{Transport: http.DefaultTransport},
		content: content,
		limiter: NewRateLimiter(0, 0),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// VerifyTarget calls /test.
func (t *Transmitter) VerifyTarget(ctx context.Context, target domain.TransferTarget) error {
	return t.call(ctx, target, "test", PathTest, nil)
}

// Begin opens a transfer. A receiver that reports no version is assumed
// to be 0.0.0/Unknown.
func (t *Transmitter) Begin(
	ctx context.Context,
	target domain.TransferTarget,
	fromRepositoryID string,
	fromVersion domain.TransferVersion,
) (*domain.Transfer, error) {
	const phase = "begin"
	form := url.Values{
		ParamFromRepositoryID:    {fromRepositoryID},
		ParamAllowTransferToSelf: {"false"},
		ParamVersionMajor:        {fromVersion.Major},
		ParamVersionMinor:        {fromVersion.Minor},
		ParamVersionRevision:     {fromVersion.Revision},
		ParamVersionEdition:      {fromVersion.Edition},
	}
	if t.rootFileTransfer != "" {
		form.Set(ParamRootFileTransfer, t.rootFileTransfer)
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()
	resp, err := t.post(ctx, target, phase, PathBegin, nil,
		strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body BeginResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, t.fail(phase, target, fmt.Errorf("decode begin response: %w", err))
	}
	if body.TransferID == "" {
		return nil, t.fail(phase, target, fmt.Errorf("%w: begin response has no transferId", domain.ErrUnsuccessfulResponse))
	}

	return &domain.Transfer{
		ID:          body.TransferID,
		Target:      target,
		FromVersion: fromVersion,
		ToVersion:   body.version(),
		Status:      domain.StatusPreCommit,
	}, nil
}

func (b BeginResponse) version() domain.TransferVersion {
	v := domain.UnknownVersion
	if b.VersionMajor != "" {
		v.Major = b.VersionMajor
	}
	if b.VersionMinor != "" {
		v.Minor = b.VersionMinor
	}
	if b.VersionRevision != "" {
		v.Revision = b.VersionRevision
	}
	if b.VersionEdition != "" {
		v.Edition = b.VersionEdition
	}
	return v
}

// SendManifest uploads the manifest as a multipart body and streams the
// receiver's reply into result.
func (t *Transmitter) SendManifest(ctx context.Context, transfer *domain.Transfer, manifest io.Reader, result io.Writer) error {
	const phase = "post-snapshot"
	resp, err := t.postMultipart(ctx, transfer, phase, PathPostSnapshot, func(mw *multipart.Writer) error {
		part, err := mw.CreateFormFile(PartManifest, "manifest.jsonl")
		if err != nil {
			return err
		}
		_, err = io.Copy(part, manifest)
		return err
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if _, err := io.Copy(result, resp.Body); err != nil {
		return t.fail(phase, transfer.Target, fmt.Errorf("read delta list: %w", err))
	}
	return nil
}

// SendContent uploads a batch of content, one part per item, named after
// the final segment of the content URL.
func (t *Transmitter) SendContent(ctx context.Context, transfer *domain.Transfer, batch []domain.ContentData) error {
	const phase = "post-content"
	resp, err := t.postMultipart(ctx, transfer, phase, PathPostContent, func(mw *multipart.Writer) error {
		for _, c := range batch {
			if err := t.writeContent(ctx, mw, c); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	drain(resp)
	return nil
}

func (t *Transmitter) writeContent(ctx context.Context, mw *multipart.Writer, c domain.ContentData) error {
	rc, err := t.content.Open(ctx, c.URL)
	if err != nil {
		return fmt.Errorf("open content %s: %w", c.URL, err)
	}
	defer rc.Close()

	part, err := mw.CreateFormFile(c.PartName(), c.PartName())
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, rc); err != nil {
		return fmt.Errorf("copy content %s: %w", c.URL, err)
	}
	return nil
}

// Prepare calls /prepare.
func (t *Transmitter) Prepare(ctx context.Context, transfer *domain.Transfer) error {
	return t.call(ctx, transfer.Target, "prepare", PathPrepare, transfer)
}

// Commit calls /commit.
func (t *Transmitter) Commit(ctx context.Context, transfer *domain.Transfer) error {
	return t.call(ctx, transfer.Target, "commit", PathCommit, transfer)
}

// Abort calls /abort.
func (t *Transmitter) Abort(ctx context.Context, transfer *domain.Transfer) error {
	return t.call(ctx, transfer.Target, "abort", PathAbort, transfer)
}

// GetStatus polls /status.
func (t *Transmitter) GetStatus(ctx context.Context, transfer *domain.Transfer) (*domain.TransferProgress, error) {
	const phase = "status"
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()
	resp, err := t.post(ctx, transfer.Target, phase, PathStatus, transferQuery(transfer), nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, t.fail(phase, transfer.Target, fmt.Errorf("decode status response: %w", err))
	}
	status, err := domain.ParseTransferStatus(body.Status)
	if err != nil {
		return nil, t.fail(phase, transfer.Target, err)
	}
	return &domain.TransferProgress{
		CurrentPosition: body.CurrentPosition,
		EndPosition:     body.EndPosition,
		Status:          status,
		Error:           body.Error,
	}, nil
}

// GetTransferReport streams /report into result.
func (t *Transmitter) GetTransferReport(ctx context.Context, transfer *domain.Transfer, result io.Writer) error {
	const phase = "report"
	resp, err := t.post(ctx, transfer.Target, phase, PathReport, transferQuery(transfer), nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if _, err := io.Copy(result, resp.Body); err != nil {
		return t.fail(phase, transfer.Target, fmt.Errorf("read report: %w", err))
	}
	return nil
}

// call performs a phase with no payload and discards the body.
func (t *Transmitter) call(ctx context.Context, target domain.TransferTarget, phase, path string, transfer *domain.Transfer) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()
	resp, err := t.post(ctx, target, phase, path, transferQuery(transfer), nil, "")
	if err != nil {
		return err
	}
	drain(resp)
	return nil
}

// postMultipart streams a multipart body produced by write. The body is
// written by one goroutine while the request runs in another.
//
// The request context outlives the group: the response body is read by
// the caller after both goroutines are done, and is only cancelled when
// the writer fails or the body is closed.
func (t *Transmitter) postMultipart(
	ctx context.Context,
	transfer *domain.Transfer,
	phase, path string,
	write func(*multipart.Writer) error,
) (*http.Response, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	reqCtx, cancel := context.WithCancel(ctx)

	var g errgroup.Group
	g.Go(func() error {
		err := write(mw)
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
		if errors.Is(err, io.ErrClosedPipe) {
			// The request side finished first and reports its own outcome.
			return nil
		}
		if err != nil {
			cancel()
		}
		return err
	})

	var resp *http.Response
	g.Go(func() error {
		var err error
		resp, err = t.post(reqCtx, transfer.Target, phase, path, transferQuery(transfer), pr, mw.FormDataContentType())
		// Unblock the writer if the request ended before the body did.
		pr.Close()
		return err
	})

	if err := g.Wait(); err != nil {
		if resp != nil {
			drain(resp)
		}
		cancel()
		var te *domain.TransmitterError
		if errors.As(err, &te) {
			return nil, err
		}
		return nil, t.fail(phase, transfer.Target, err)
	}
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelBody releases the request context once the body is closed.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// post sends one request. Any failure is returned as a
// *domain.TransmitterError; on success the caller owns resp.Body.
func (t *Transmitter) post(
	ctx context.Context,
	target domain.TransferTarget,
	phase, path string,
	query url.Values,
	body io.Reader,
	contentType string,
) (*http.Response, error) {
	if target.Protocol != domain.ProtocolHTTP && target.Protocol != domain.ProtocolHTTPS {
		return nil, t.fail(phase, target, fmt.Errorf("%w: %q", domain.ErrUnsupportedProtocol, target.Protocol))
	}
	endpoint := target.BaseURL() + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return nil, t.fail(phase, target, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, t.fail(phase, target, fmt.Errorf("create request: %w", err))
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if target.Username != "" {
		req.SetBasicAuth(target.Username, target.Password)
	}

	logger.Debug("POST %s", endpoint)
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, t.fail(phase, target, err)
	}
	t.limiter.Observe(resp)

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, t.fail(phase, target, remoteError(resp))
	}
	return resp, nil
}

// remoteError rehydrates a structured error from a failed response, or
// falls back to domain.ErrUnsuccessfulResponse.
func remoteError(resp *http.Response) error {
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err == nil {
		var payload errorPayload
		if json.Unmarshal(data, &payload) == nil && (payload.Message != nil || payload.MessageID != "") {
			te := &domain.TransferError{MessageID: payload.MessageID, Params: payload.Params}
			if payload.Message != nil {
				te.Message = *payload.Message
			}
			return te
		}
	}
	return fmt.Errorf("%w: %s", domain.ErrUnsuccessfulResponse, strconv.Itoa(resp.StatusCode))
}

func (t *Transmitter) fail(phase string, target domain.TransferTarget, err error) error {
	return &domain.TransmitterError{Phase: phase, Target: target.String(), Err: err}
}

func transferQuery(transfer *domain.Transfer) url.Values {
	if transfer == nil {
		return nil
	}
	return url.Values{ParamTransferID: {transfer.ID}}
}

// drain discards and closes a response body so the connection can be
// reused.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
}
