// Package compress decides whether and how a pre-compressed sibling is
// produced for cached page content.
package compress

import (
	"bytes"
	"fmt"

	"github.com/staticfilecache/staticcache/internal/codec"
	"github.com/staticfilecache/staticcache/internal/codec/gzipcodec"
)

// Compression level bounds. Levels outside [MinLevel, MaxLevel] fall back to
// DefaultLevel.
const (
	MinLevel     = 1
	MaxLevel     = 9
	DefaultLevel = 3
)

// Policy produces the compressed variant of page content.
// A disabled Policy never produces anything.
type Policy struct {
	enabled bool
	codec   codec.Codec
	level   int
}

// NewPolicy returns a gzip policy. A nil or out-of-range level resolves to
// DefaultLevel.
func NewPolicy(enabled bool, level *int) *Policy {
	resolved := ResolveLevel(level)
	return &Policy{
		enabled: enabled,
		codec:   gzipcodec.New(resolved),
		level:   resolved,
	}
}

// ResolveLevel clamps a configured level to the supported range.
func ResolveLevel(level *int) int {
	if level == nil || *level < MinLevel || *level > MaxLevel {
		return DefaultLevel
	}
	return *level
}

// Enabled reports whether compressed siblings are produced.
func (p *Policy) Enabled() bool {
	return p.enabled
}

// Level returns the resolved compression level.
func (p *Policy) Level() int {
	return p.level
}

// Extension returns the suffix of compressed siblings.
func (p *Policy) Extension() string {
	return p.codec.Extension()
}

// Compress returns the compressed form of content.
// It returns nil, nil when compression is disabled. Callers treat an error
// as "no compressed variant" and keep serving the plain file.
func (p *Policy) Compress(content []byte) ([]byte, error) {
	if !p.enabled {
		return nil, nil
	}

	var buf bytes.Buffer
	w, err := p.codec.Writer(&buf)
	if err != nil {
		return nil, fmt.Errorf("creating compressor: %w", err)
	}
	if _, err := w.Write(content); err != nil {
		w.Close()
		return nil, fmt.Errorf("compressing: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finishing compression: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress. It is used to verify siblings.
func (p *Policy) Decompress(data []byte) ([]byte, error) {
	r, err := p.codec.Reader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating decompressor: %w", err)
	}
	defer r.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("decompressing: %w", err)
	}
	return buf.Bytes(), nil
}
