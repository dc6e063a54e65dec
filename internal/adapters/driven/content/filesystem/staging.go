package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/custodia-labs/ferry/internal/core/domain"
	"github.com/custodia-labs/ferry/internal/core/ports/driven"
)

// Ensure Staging implements the interface.
var _ driven.StagingArea = (*Staging)(nil)

const (
	manifestFile = "manifest.jsonl"
	contentDir   = "content"
)

// Staging keeps each open transfer in its own directory:
//
//	<dir>/<transfer id>/manifest.jsonl
//	<dir>/<transfer id>/content/<part name>
type Staging struct {
	dir string
}

// NewStaging creates a staging area under dir.
func NewStaging(dir string) *Staging {
	return &Staging{dir: dir}
}

func (s *Staging) transferDir(transferID string) (string, error) {
	return partPath(s.dir, transferID)
}

// Create makes the transfer's directory.
func (s *Staging) Create(_ context.Context, transferID string) error {
	dir, err := s.transferDir(transferID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(dir, contentDir), 0o700); err != nil {
		return fmt.Errorf("create staging for %s: %w", transferID, err)
	}
	return nil
}

// SaveManifest stores the transfer's manifest, replacing any earlier one.
func (s *Staging) SaveManifest(_ context.Context, transferID string, r io.Reader) error {
	dir, err := s.existing(transferID)
	if err != nil {
		return err
	}
	return writeFile(filepath.Join(dir, manifestFile), r)
}

// OpenManifest opens the transfer's manifest.
func (s *Staging) OpenManifest(_ context.Context, transferID string) (io.ReadCloser, error) {
	dir, err := s.existing(transferID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(dir, manifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("manifest of %s: %w", transferID, domain.ErrNotFound)
	}
	return f, err
}

// SaveContent stores one content part.
func (s *Staging) SaveContent(_ context.Context, transferID, partName string, r io.Reader) error {
	p, err := s.contentPath(transferID, partName)
	if err != nil {
		return err
	}
	return writeFile(p, r)
}

// HasContent reports whether a content part has been stored.
func (s *Staging) HasContent(_ context.Context, transferID, partName string) (bool, error) {
	p, err := s.contentPath(transferID, partName)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// OpenContent opens a stored content part.
func (s *Staging) OpenContent(_ context.Context, transferID, partName string) (io.ReadCloser, error) {
	p, err := s.contentPath(transferID, partName)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("content %s of %s: %w", partName, transferID, domain.ErrNotFound)
	}
	return f, err
}

// Remove deletes everything staged for the transfer.
func (s *Staging) Remove(_ context.Context, transferID string) error {
	dir, err := s.transferDir(transferID)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

func (s *Staging) existing(transferID string) (string, error) {
	dir, err := s.transferDir(transferID)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("staging for %s: %w", transferID, domain.ErrUnknownTransfer)
		}
		return "", err
	}
	return dir, nil
}

func (s *Staging) contentPath(transferID, partName string) (string, error) {
	dir, err := s.existing(transferID)
	if err != nil {
		return "", err
	}
	return partPath(filepath.Join(dir, contentDir), partName)
}

// writeFile writes r to p through a temporary file so readers never see
// partial content.
func writeFile(p string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".part-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(p), err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p)
}
