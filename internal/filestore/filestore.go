// Package filestore writes, reads and deletes the on-disk representation
// of cached pages: a plain file and an optional compressed sibling.
package filestore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/staticfilecache/staticcache/internal/pathderive"
)

// ErrNotFound is returned by Read when the plain file does not exist.
var ErrNotFound = errors.New("filestore: file not found")

// File and directory modes. Cached files must stay readable by the
// front-end server, which usually runs as a different user.
const (
	FileMode = 0o644
	DirMode  = 0o755
)

// asideMarker separates the cache root from the suffix of a directory that
// was renamed aside by a flush.
const asideMarker = ".flush-"

// Store manages cache files. It keeps no state besides the compressed
// sibling suffix and is safe for concurrent use; concurrent writers of the
// same path are resolved by the filesystem (last rename wins).
type Store struct {
	compressedExt string
}

// New returns a Store whose compressed siblings use the given extension
// (without the dot).
func New(compressedExt string) *Store {
	return &Store{compressedExt: compressedExt}
}

// CompressedPath returns the compressed sibling of plainPath.
func (s *Store) CompressedPath(plainPath string) string {
	return pathderive.CompressedPath(plainPath, s.compressedExt)
}

// Write replaces the content of plainPath, creating parent directories as
// needed. Readers observe either the old or the new content, never a mix.
func (s *Store) Write(plainPath string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(plainPath), DirMode); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	return writeAtomic(plainPath, content)
}

// WriteCompressed writes the compressed sibling of plainPath. The parent
// directory must already exist (Write creates it).
func (s *Store) WriteCompressed(plainPath string, compressed []byte) error {
	return writeAtomic(s.CompressedPath(plainPath), compressed)
}

// RemoveCompressed deletes the compressed sibling of plainPath, if any.
func (s *Store) RemoveCompressed(plainPath string) error {
	return removeFile(s.CompressedPath(plainPath))
}

// Read returns the content of plainPath.
func (s *Store) Read(plainPath string) ([]byte, error) {
	data, err := os.ReadFile(plainPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || isDirErr(plainPath) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Exists reports whether plainPath is a regular file. A directory at that
// path, or a path below a regular file, counts as absent.
func (s *Store) Exists(plainPath string) (bool, error) {
	info, err := os.Stat(plainPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
			return false, nil
		}
		return false, fmt.Errorf("stat file: %w", err)
	}
	return info.Mode().IsRegular(), nil
}

// Delete removes the compressed sibling and then the plain file. The
// compressed file goes first so that it never outlives the plain file.
// Missing files are not an error.
func (s *Store) Delete(plainPath string) error {
	if err := s.RemoveCompressed(plainPath); err != nil {
		return err
	}
	return removeFile(plainPath)
}

// DeleteTree removes root and everything below it. A missing root is not
// an error.
func (s *Store) DeleteTree(root string) error {
	if err := os.RemoveAll(root); err != nil {
		return fmt.Errorf("removing tree %s: %w", root, err)
	}
	return nil
}

// RenameTree renames root to newRoot. It reports false without error when
// root does not exist.
func (s *Store) RenameTree(root, newRoot string) (bool, error) {
	if err := os.Rename(root, newRoot); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("renaming tree %s: %w", root, err)
	}
	return true, nil
}

// AsidePath returns the sibling directory name a flush renames root to.
// The timestamp keeps names ordered; token keeps concurrent flushes apart.
func AsidePath(root string, now time.Time, token string) string {
	return root + asideMarker + strconv.FormatInt(now.UnixNano(), 10) + "-" + token
}

// AsideDirs lists directories next to root that a previous flush renamed
// aside and that still exist, e.g. because the process died before
// deleting them.
func (s *Store) AsideDirs(root string) ([]string, error) {
	parent, base := filepath.Split(filepath.Clean(root))
	if parent == "" {
		parent = "."
	}
	entries, err := os.ReadDir(parent)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing %s: %w", parent, err)
	}

	prefix := base + asideMarker
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			dirs = append(dirs, filepath.Join(parent, e.Name()))
		}
	}
	return dirs, nil
}

// writeAtomic writes data to a temp file next to path and renames it over
// path.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".staticcache-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	_, err = tmp.Write(data)
	if err == nil {
		err = tmp.Chmod(FileMode)
	}
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, syscall.ENOTDIR) {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	return nil
}

func isDirErr(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
