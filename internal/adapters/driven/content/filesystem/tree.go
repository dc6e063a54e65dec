package filesystem

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/ferry/internal/core/domain"
	"github.com/custodia-labs/ferry/internal/core/ports/driven"
)

// Node and association types used for trees.
const (
	FolderType      = "cm:folder"
	ContentType     = "cm:content"
	ContainsAssoc   = "cm:contains"
	ContentProperty = "cm:content"
)

// DefaultStore is the store trees are transferred into.
var DefaultStore = domain.StoreRef{Protocol: "workspace", Identifier: "SpacesStore"}

// namespace seeds node identities derived from repository and path.
var namespace = uuid.MustParse("6f1c3c1e-5d1b-4f7a-9b55-2b0f5f3c8a21")

// Tree turns a local directory into a transfer manifest. The directory
// itself becomes a folder node placed at the base path of the destination
// store; hidden files and directories are skipped.
//
// Node identities are derived from the repository id and the path
// relative to the tree, so scanning the same tree twice yields the same
// nodes. Content URLs are derived from the file's SHA-256 digest.
type Tree struct {
	root  string
	store domain.StoreRef
	base  domain.Path
	now   func() time.Time
}

// TreeOption configures a Tree.
type TreeOption func(*Tree)

// WithStore sets the destination store.
func WithStore(store domain.StoreRef) TreeOption {
	return func(t *Tree) {
		t.store = store
	}
}

// WithBasePath sets the destination folder the tree is placed under.
func WithBasePath(base domain.Path) TreeOption {
	return func(t *Tree) {
		t.base = base
	}
}

// NewTree creates a tree rooted at dir.
func NewTree(dir string, opts ...TreeOption) *Tree {
	t := &Tree{root: dir, store: DefaultStore, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Snapshot is a scanned tree: its manifest records and the files behind
// their content.
type Snapshot struct {
	Records []domain.ManifestRecord
	files   map[string]string
}

// Ensure Snapshot implements the interface.
var _ driven.ContentSource = (*Snapshot)(nil)

// Open opens the file behind a content URL.
func (s *Snapshot) Open(_ context.Context, url string) (io.ReadCloser, error) {
	p, ok := s.files[url]
	if !ok {
		return nil, fmt.Errorf("content %s: %w", url, domain.ErrNotFound)
	}
	return os.Open(p)
}

// ContentCount returns the number of distinct content URLs.
func (s *Snapshot) ContentCount() int {
	return len(s.files)
}

// Scan walks the tree and builds a manifest sent as repositoryID.
//
//nolint:gocyclo // Walk callback handles folders, files and skips
func (t *Tree) Scan(ctx context.Context, repositoryID string) (*Snapshot, error) {
	info, err := os.Stat(t.root)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", t.root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", domain.ErrInvalidInput, t.root)
	}

	snap := &Snapshot{files: make(map[string]string)}
	var nodes []domain.ManifestRecord
	parents := make(map[string]domain.NodeRef)
	anchor := t.nodeRef(repositoryID, "..")

	err = filepath.WalkDir(t.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(t.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel != "." && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() && !d.Type().IsRegular() {
			return nil
		}

		name := d.Name()
		parent, parentPath := anchor, t.base
		if rel != "." {
			dir := filepath.ToSlash(filepath.Dir(rel))
			parent = parents[dir]
			parentPath = t.pathOf(dir)
		} else {
			name = filepath.Base(t.root)
		}

		ref := t.nodeRef(repositoryID, rel)
		node := &domain.NormalNode{
			Ref:  ref,
			Type: FolderType,
			Primary: domain.ChildAssociationRef{
				Type:    ContainsAssoc,
				Parent:  parent,
				Name:    name,
				Child:   ref,
				Primary: true,
			},
			Path:       parentPath,
			Properties: map[string]any{"cm:name": name},
		}

		if d.IsDir() {
			parents[rel] = ref
		} else {
			content, err := digest(p)
			if err != nil {
				return err
			}
			content.MimeType = detectMIMEType(name)
			node.Type = ContentType
			node.Content = map[string]domain.ContentData{ContentProperty: content}
			snap.files[content.URL] = p
		}
		if fi, err := d.Info(); err == nil {
			node.Properties["cm:modified"] = fi.ModTime().UTC().Format(time.RFC3339)
		}
		nodes = append(nodes, node)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", t.root, err)
	}

	snap.Records = make([]domain.ManifestRecord, 0, len(nodes)+2)
	snap.Records = append(snap.Records, domain.ManifestHeader{
		NodeCount:    len(nodes),
		CreatedAt:    t.now().UTC(),
		RepositoryID: repositoryID,
	})
	snap.Records = append(snap.Records, nodes...)
	snap.Records = append(snap.Records, domain.ManifestEnd{})
	return snap, nil
}

// pathOf returns the destination path of a directory relative to the
// tree.
func (t *Tree) pathOf(rel string) domain.Path {
	out := append(domain.Path{}, t.base...)
	out = append(out, filepath.Base(t.root))
	if rel == "." {
		return out
	}
	return append(out, strings.Split(rel, "/")...)
}

func (t *Tree) nodeRef(repositoryID, rel string) domain.NodeRef {
	id := uuid.NewSHA1(namespace, []byte(repositoryID+"\x00"+rel))
	return domain.NodeRef{Store: t.store, ID: id.String()}
}

func digest(p string) (domain.ContentData, error) {
	f, err := os.Open(p)
	if err != nil {
		return domain.ContentData{}, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return domain.ContentData{}, fmt.Errorf("hash %s: %w", p, err)
	}
	return domain.ContentData{
		URL:  ContentURL("sha256/" + hex.EncodeToString(h.Sum(nil))),
		Size: n,
	}, nil
}
