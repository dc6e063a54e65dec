package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/custodia-labs/ferry/internal/core/domain"
	"github.com/custodia-labs/ferry/internal/core/ports/driven"
)

// Ensure Store implements the interfaces.
var (
	_ driven.ContentStore  = (*Store)(nil)
	_ driven.ContentSource = (*Store)(nil)
)

// Store keeps committed content below a root directory, one file per
// content URL.
type Store struct {
	root string
}

// NewStore creates a content store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// Put stores content under url, replacing what was there.
func (s *Store) Put(_ context.Context, url string, r io.Reader) error {
	p, err := localPath(s.root, url)
	if err != nil {
		return err
	}
	return writeFile(p, r)
}

// Has reports whether content is held for url.
func (s *Store) Has(_ context.Context, url string) (bool, error) {
	p, err := localPath(s.root, url)
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

// Open opens the content held for url.
func (s *Store) Open(_ context.Context, url string) (io.ReadCloser, error) {
	p, err := localPath(s.root, url)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("content %s: %w", url, domain.ErrNotFound)
	}
	return f, err
}
