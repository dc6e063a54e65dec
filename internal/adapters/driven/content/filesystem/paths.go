// Package filesystem keeps transfer content on the local filesystem.
//
// On the sending side a directory tree is the source repository: Tree
// builds a manifest from it and its Snapshot serves the file content. On the
// receiving side Staging holds the manifest and content parts of open
// transfers and Store holds committed content.
package filesystem

import (
	"fmt"
	"mime"
	"path"
	"path/filepath"
	"strings"

	"github.com/custodia-labs/ferry/internal/core/domain"
)

// ContentScheme prefixes content URLs produced by Tree.
const ContentScheme = "store://"

// ContentURL returns the content URL of a slash-separated path relative to
// a tree root.
func ContentURL(rel string) string {
	return ContentScheme + rel
}

// localPath maps a content URL onto a path below root. URLs that would
// escape root are rejected.
func localPath(root, url string) (string, error) {
	rel := url
	if _, rest, ok := strings.Cut(url, "://"); ok {
		rel = rest
	}
	rel = strings.TrimPrefix(path.Clean("/"+rel), "/")
	if rel == "" || !filepath.IsLocal(filepath.FromSlash(rel)) {
		return "", fmt.Errorf("%w: content url %q", domain.ErrInvalidInput, url)
	}
	return filepath.Join(root, filepath.FromSlash(rel)), nil
}

// partPath maps a multipart part name onto a file in dir.
func partPath(dir, part string) (string, error) {
	if part == "" || part == "." || part == ".." || strings.ContainsAny(part, `/\`) {
		return "", fmt.Errorf("%w: content part %q", domain.ErrInvalidInput, part)
	}
	return filepath.Join(dir, part), nil
}

// fallbackTypes covers extensions the mime package does not know on every
// platform.
var fallbackTypes = map[string]string{
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".go":       "text/x-go",
	".py":       "text/x-python",
	".rs":       "text/x-rust",
	".ts":       "text/typescript",
	".yaml":     "text/yaml",
	".yml":      "text/yaml",
	".toml":     "text/toml",
	".sh":       "text/x-shellscript",
	".sql":      "text/x-sql",
}

func detectMIMEType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return "text/plain"
	}
	if t, ok := fallbackTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		if base, _, err := mime.ParseMediaType(t); err == nil {
			return base
		}
		return t
	}
	return "application/octet-stream"
}
