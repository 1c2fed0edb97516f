// Package pathderive maps cache entry identifiers (URLs) to file paths
// under a cache root.
//
// The layout is <root>/<host>/<path>, with "/index.html" appended when the
// last path segment has no extension or one that is not servable as a
// static file. A front-end server configured with the same root can then
// answer requests straight from disk.
package pathderive

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// IndexFile is appended to identifiers that do not name a servable file.
const IndexFile = "index.html"

var (
	// ErrInvalidIdentifier indicates an identifier that is not a URL with a host.
	ErrInvalidIdentifier = errors.New("pathderive: invalid identifier")

	// ErrPathTraversal indicates an identifier whose path would leave its
	// host directory.
	ErrPathTraversal = errors.New("pathderive: path escapes cache root")
)

// Deriver derives plain file paths from identifiers. It holds no mutable
// state and is safe for concurrent use.
type Deriver struct {
	root       string
	extensions map[string]struct{}
}

// New returns a Deriver rooted at root. Extensions are matched
// case-insensitively and may be given with or without a leading dot.
func New(root string, allowedExtensions []string) *Deriver {
	exts := make(map[string]struct{}, len(allowedExtensions))
	for _, ext := range allowedExtensions {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			exts[ext] = struct{}{}
		}
	}
	return &Deriver{
		root:       filepath.Clean(root),
		extensions: exts,
	}
}

// Root returns the cache root.
func (d *Deriver) Root() string {
	return d.root
}

// Allowed reports whether ext is a servable static extension.
func (d *Deriver) Allowed(ext string) bool {
	_, ok := d.extensions[strings.ToLower(ext)]
	return ok
}

// Derive returns the plain file path for identifier.
// Query string and fragment do not take part in the mapping.
func (d *Deriver) Derive(identifier string) (string, error) {
	if strings.IndexByte(identifier, 0) >= 0 {
		return "", fmt.Errorf("%w: %q contains NUL", ErrInvalidIdentifier, identifier)
	}

	u, err := url.Parse(identifier)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidIdentifier, err)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("%w: %q has no host", ErrInvalidIdentifier, identifier)
	}

	hostDir := filepath.Join(d.root, host)
	if hostDir == d.root || !within(d.root, hostDir) {
		return "", fmt.Errorf("%w: host %q", ErrPathTraversal, host)
	}

	trimmed := strings.Trim(u.Path, "/")
	p := filepath.Join(hostDir, filepath.FromSlash(trimmed))
	if !within(hostDir, p) {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, identifier)
	}

	ext := ""
	if p != hostDir {
		ext = strings.TrimPrefix(path.Ext(filepath.Base(p)), ".")
	}
	if ext == "" || !d.Allowed(ext) {
		p = filepath.Join(p, IndexFile)
	}
	return p, nil
}

// CompressedPath returns the sibling path holding the compressed variant
// of plainPath.
func CompressedPath(plainPath, extension string) string {
	return plainPath + "." + extension
}

// within reports whether p equals base or lies below it.
func within(base, p string) bool {
	rel, err := filepath.Rel(base, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}
