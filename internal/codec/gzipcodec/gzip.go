// Package gzipcodec provides a gzip compression codec with a fixed level.
package gzipcodec

import (
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/staticfilecache/staticcache/internal/codec"
)

// Compile-time check that Codec implements codec.Codec.
var _ codec.Codec = (*Codec)(nil)

// Codec implements gzip compression at a configured level.
type Codec struct {
	level int
}

// New returns a gzip codec compressing at level.
// The level is passed to the encoder unchanged; callers are expected to
// have validated it (see compress.ResolveLevel).
func New(level int) *Codec {
	return &Codec{level: level}
}

// Reader wraps r to decompress gzip data.
func (c *Codec) Reader(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

// Writer wraps w to compress data with gzip.
func (c *Codec) Writer(w io.Writer) (io.WriteCloser, error) {
	return gzip.NewWriterLevel(w, c.level)
}

// Extension returns "gz".
func (c *Codec) Extension() string {
	return "gz"
}

// Level returns the compression level.
func (c *Codec) Level() int {
	return c.level
}
