// Package codec provides compression for the pre-compressed siblings of
// cached pages.
package codec

import "io"

// Codec provides compression and decompression functionality.
type Codec interface {
	// Reader wraps r to decompress data read from it.
	Reader(r io.Reader) (io.ReadCloser, error)
	// Writer wraps w to compress data written to it.
	Writer(w io.Writer) (io.WriteCloser, error)
	// Extension returns the suffix appended to the plain file name without
	// the dot (e.g. "gz"). Front-end servers look for exactly this suffix.
	Extension() string
}
