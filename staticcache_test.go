package staticcache

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/staticfilecache/staticcache/internal/metastore"
	"github.com/staticfilecache/staticcache/internal/metastore/memstore"
)

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// failingStore is a memstore whose writes can be made to fail.
type failingStore struct {
	*memstore.Store
	failPut       bool
	failRemoveAll bool
	failFindByTag bool
}

var errStoreDown = errors.New("store down")

func (s *failingStore) Put(ctx context.Context, r metastore.Record) error {
	if s.failPut {
		return errStoreDown
	}
	return s.Store.Put(ctx, r)
}

func (s *failingStore) RemoveAll(ctx context.Context) error {
	if s.failRemoveAll {
		return errStoreDown
	}
	return s.Store.RemoveAll(ctx)
}

// FindByTag returns the matches along with an error when failFindByTag is
// set, like a store that could not read some of its records.
func (s *failingStore) FindByTag(ctx context.Context, tag string) ([]string, error) {
	ids, err := s.Store.FindByTag(ctx, tag)
	if s.failFindByTag && err == nil {
		err = errStoreDown
	}
	return ids, err
}

// countingCollector records counters.
type countingCollector struct {
	mu       sync.Mutex
	counters map[string]int64
}

func (c *countingCollector) IncCounter(name string, delta int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counters == nil {
		c.counters = make(map[string]int64)
	}
	c.counters[name] += delta
}

func (c *countingCollector) SetGauge(string, int64) {}

func (c *countingCollector) ObserveHistogram(string, float64) {}

func (c *countingCollector) get(name string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters[name]
}

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.CacheRoot = filepath.Join(t.TempDir(), "cache")
	return cfg
}

func newTestBackend(t *testing.T, cfg Config, opts ...Option) *Backend {
	t.Helper()
	b, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func mustSet(t *testing.T, b *Backend, id, content string, tags []string, lifetime time.Duration) {
	t.Helper()
	if err := b.Set(context.Background(), id, []byte(content), tags, lifetime); err != nil {
		t.Fatalf("Set(%q) error = %v", id, err)
	}
}

func mustHas(t *testing.T, b *Backend, id string) bool {
	t.Helper()
	ok, err := b.Has(context.Background(), id)
	if err != nil {
		t.Fatalf("Has(%q) error = %v", id, err)
	}
	return ok
}

func gunzip(t *testing.T, data []byte) []byte {
	t.Helper()
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("gzip.NewReader() error = %v", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("reading gzip: %v", err)
	}
	return out
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "empty root", mutate: func(c *Config) { c.CacheRoot = "" }},
		{name: "negative lifetime", mutate: func(c *Config) { c.DefaultLifetime = -time.Second }},
		{name: "negative path cache", mutate: func(c *Config) { c.PathCacheSize = -1 }},
		{name: "filesystem root", mutate: func(c *Config) { c.CacheRoot = "/" }},
		{name: "filesystem root unclean", mutate: func(c *Config) { c.CacheRoot = "/tmp/.." }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(&cfg)
			if _, err := New(cfg); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("New() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestNew_CreatesRoot(t *testing.T) {
	cfg := testConfig(t)
	b := newTestBackend(t, cfg)

	info, err := os.Stat(b.Root())
	if err != nil {
		t.Fatalf("Stat(root) error = %v", err)
	}
	if !info.IsDir() {
		t.Error("cache root is not a directory")
	}
	if !filepath.IsAbs(b.Root()) {
		t.Errorf("Root() = %q, want absolute path", b.Root())
	}
}

func TestBackend_Scenario(t *testing.T) {
	b := newTestBackend(t, testConfig(t))
	ctx := context.Background()
	id := "http://example.com/"

	mustSet(t, b, id, "<html>A</html>", nil, 0)

	if !mustHas(t, b, id) {
		t.Fatal("Has() = false after Set")
	}
	got, err := b.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "<html>A</html>" {
		t.Errorf("Get() = %q, want %q", got, "<html>A</html>")
	}

	path, err := b.Path(id)
	if err != nil {
		t.Fatalf("Path() error = %v", err)
	}
	if want := filepath.Join(b.Root(), "example.com", "index.html"); path != want {
		t.Errorf("Path() = %q, want %q", path, want)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("plain file missing: %v", err)
	}
}

func TestBackend_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		content []byte
	}{
		{name: "html page", id: "https://example.com/blog/post", content: []byte("<html>post</html>")},
		{name: "allowed extension", id: "https://example.com/style.css", content: []byte("body{}")},
		{name: "empty content", id: "https://example.com/empty", content: []byte{}},
		{name: "binary content", id: "https://example.com/data.json", content: []byte{0, 1, 2, 0xff, '\n'}},
		{name: "query ignored", id: "https://example.com/search?q=x", content: []byte("results")},
	}

	b := newTestBackend(t, testConfig(t), WithMetadataStore(memstore.New()))
	ctx := context.Background()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := b.Set(ctx, tt.id, tt.content, nil, UseDefaultLifetime); err != nil {
				t.Fatalf("Set() error = %v", err)
			}
			got, err := b.Get(ctx, tt.id)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if !bytes.Equal(got, tt.content) {
				t.Errorf("Get() = %q, want %q", got, tt.content)
			}
		})
	}
}

func TestBackend_SetReplaces(t *testing.T) {
	b := newTestBackend(t, testConfig(t))
	id := "https://example.com/page"

	mustSet(t, b, id, "first", nil, 0)
	mustSet(t, b, id, "second", nil, 0)

	got, err := b.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "second" {
		t.Errorf("Get() = %q, want %q", got, "second")
	}
}

func TestBackend_CompressedSibling(t *testing.T) {
	cfg := testConfig(t)
	level := 9
	cfg.CompressionLevel = &level
	b := newTestBackend(t, cfg)
	id := "https://example.com/article"
	content := bytes.Repeat([]byte("<p>compressible</p>"), 100)

	if err := b.Set(context.Background(), id, content, nil, 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	path, _ := b.Path(id)
	data, err := os.ReadFile(path + ".gz")
	if err != nil {
		t.Fatalf("reading compressed sibling: %v", err)
	}
	if got := gunzip(t, data); !bytes.Equal(got, content) {
		t.Error("decompressed sibling differs from content")
	}
}

func TestBackend_CompressionDisabled(t *testing.T) {
	cfg := testConfig(t)
	id := "https://example.com/article"

	// Populate with compression on, then reopen the same root with it off.
	on := newTestBackend(t, cfg)
	mustSet(t, on, id, "old", nil, 0)
	path, _ := on.Path(id)
	if _, err := os.Stat(path + ".gz"); err != nil {
		t.Fatalf("compressed sibling missing: %v", err)
	}

	cfg.EnableCompression = false
	off := newTestBackend(t, cfg, WithSweepLock(false))
	mustSet(t, off, id, "new", nil, 0)

	if _, err := os.Stat(path + ".gz"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("stale compressed sibling still exists: %v", err)
	}
	got, err := off.Get(context.Background(), id)
	if err != nil || string(got) != "new" {
		t.Errorf("Get() = %q, %v, want %q", got, err, "new")
	}
}

func TestBackend_HasAndRemove(t *testing.T) {
	meta := memstore.New()
	b := newTestBackend(t, testConfig(t), WithMetadataStore(meta))
	ctx := context.Background()
	id := "https://example.com/page"

	if mustHas(t, b, id) {
		t.Error("Has() = true before Set")
	}
	removed, err := b.Remove(ctx, id)
	if err != nil || removed {
		t.Errorf("Remove() on missing entry = %v, %v, want false, nil", removed, err)
	}

	mustSet(t, b, id, "content", []string{"pageId_1"}, 0)
	if !mustHas(t, b, id) {
		t.Fatal("Has() = false after Set")
	}

	removed, err = b.Remove(ctx, id)
	if err != nil || !removed {
		t.Fatalf("Remove() = %v, %v, want true, nil", removed, err)
	}
	if mustHas(t, b, id) {
		t.Error("Has() = true after Remove")
	}
	path, _ := b.Path(id)
	if _, err := os.Stat(path + ".gz"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("compressed sibling survived Remove: %v", err)
	}
	if _, err := meta.Get(ctx, id); !errors.Is(err, metastore.ErrNotFound) {
		t.Errorf("metadata survived Remove: %v", err)
	}

	removed, err = b.Remove(ctx, id)
	if err != nil || removed {
		t.Errorf("second Remove() = %v, %v, want false, nil", removed, err)
	}
}

func TestBackend_GetMissing(t *testing.T) {
	b := newTestBackend(t, testConfig(t))

	if _, err := b.Get(context.Background(), "https://example.com/missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestBackend_FilesystemIsAuthoritative(t *testing.T) {
	meta := memstore.New()
	b := newTestBackend(t, testConfig(t), WithMetadataStore(meta))
	ctx := context.Background()
	id := "https://example.com/page"

	// Metadata without a file is not servable.
	if err := meta.Put(ctx, metastore.Record{Identifier: id}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if mustHas(t, b, id) {
		t.Error("Has() = true for metadata-only entry")
	}

	// A file without metadata is servable.
	mustSet(t, b, id, "content", nil, 0)
	if _, err := meta.Remove(ctx, id); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if !mustHas(t, b, id) {
		t.Error("Has() = false for file-only entry")
	}
}

func TestBackend_InvalidIdentifier(t *testing.T) {
	tests := []struct {
		id      string
		wantErr error
	}{
		{id: "not a url", wantErr: ErrInvalidIdentifier},
		{id: "/relative/path", wantErr: ErrInvalidIdentifier},
		{id: "http://example.com/../../etc/passwd", wantErr: ErrPathTraversal},
		{id: "http://example.com/%2e%2e/%2e%2e/escape", wantErr: ErrPathTraversal},
	}

	b := newTestBackend(t, testConfig(t))
	ctx := context.Background()

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			if err := b.Set(ctx, tt.id, []byte("x"), nil, 0); !errors.Is(err, tt.wantErr) {
				t.Errorf("Set() error = %v, want %v", err, tt.wantErr)
			}
			if _, err := b.Has(ctx, tt.id); !errors.Is(err, tt.wantErr) {
				t.Errorf("Has() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestBackend_Flush(t *testing.T) {
	for _, async := range []bool{false, true} {
		name := "sync"
		if async {
			name = "async"
		}
		t.Run(name, func(t *testing.T) {
			meta := memstore.New()
			b := newTestBackend(t, testConfig(t), WithMetadataStore(meta), WithAsyncFlush(async))
			ctx := context.Background()
			ids := []string{
				"https://example.com/",
				"https://example.com/a/b",
				"https://other.example/style.css",
			}
			for _, id := range ids {
				mustSet(t, b, id, "content", []string{"t"}, 0)
			}

			if err := b.Flush(ctx); err != nil {
				t.Fatalf("Flush() error = %v", err)
			}
			b.Wait()

			for _, id := range ids {
				if mustHas(t, b, id) {
					t.Errorf("Has(%q) = true after Flush", id)
				}
			}
			if meta.Len() != 0 {
				t.Errorf("metadata records after Flush = %d, want 0", meta.Len())
			}
			leftovers, err := filepath.Glob(b.Root() + ".flush-*")
			if err != nil {
				t.Fatalf("Glob() error = %v", err)
			}
			if len(leftovers) != 0 {
				t.Errorf("leftover flushed directories: %v", leftovers)
			}

			// The cache is usable again after a flush.
			mustSet(t, b, ids[0], "fresh", nil, 0)
			if !mustHas(t, b, ids[0]) {
				t.Error("Has() = false for entry written after Flush")
			}
		})
	}
}

func TestBackend_FlushEmptyRoot(t *testing.T) {
	b := newTestBackend(t, testConfig(t))
	ctx := context.Background()

	if err := b.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	// The root is gone now; a second flush has nothing to rename.
	if err := b.Flush(ctx); err != nil {
		t.Errorf("second Flush() error = %v", err)
	}
}

func TestBackend_FlushMetadataFailure(t *testing.T) {
	meta := &failingStore{Store: memstore.New(), failRemoveAll: true}
	b := newTestBackend(t, testConfig(t), WithMetadataStore(meta))
	id := "https://example.com/page"
	mustSet(t, b, id, "content", nil, 0)

	err := b.Flush(context.Background())
	if !errors.Is(err, ErrMetadataStore) {
		t.Errorf("Flush() error = %v, want ErrMetadataStore", err)
	}
	if mustHas(t, b, id) {
		t.Error("Has() = true after Flush with metadata failure")
	}
}

func TestBackend_PurgesLeftoverFlushDirs(t *testing.T) {
	b := newTestBackend(t, testConfig(t))
	leftover := b.Root() + ".flush-1-crashed"
	if err := os.MkdirAll(filepath.Join(leftover, "example.com"), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}

	if err := b.CollectGarbage(context.Background()); err != nil {
		t.Fatalf("CollectGarbage() error = %v", err)
	}
	if _, err := os.Stat(leftover); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("leftover flushed directory not purged: %v", err)
	}
}

func TestBackend_CollectGarbage(t *testing.T) {
	clock := newFakeClock()
	meta := memstore.New()
	collector := &countingCollector{}
	b := newTestBackend(t, testConfig(t),
		WithMetadataStore(meta),
		WithClock(clock.Now),
		WithStats(collector),
	)
	ctx := context.Background()

	expiring := "https://example.com/expiring"
	unlimited := "https://example.com/unlimited"
	longLived := "https://example.com/long"
	mustSet(t, b, expiring, "a", nil, time.Minute)
	mustSet(t, b, unlimited, "b", nil, 0)
	mustSet(t, b, longLived, "c", nil, time.Hour)

	clock.Advance(2 * time.Minute)
	if err := b.CollectGarbage(ctx); err != nil {
		t.Fatalf("CollectGarbage() error = %v", err)
	}

	if mustHas(t, b, expiring) {
		t.Error("expired entry still has a file")
	}
	if _, err := meta.Get(ctx, expiring); !errors.Is(err, metastore.ErrNotFound) {
		t.Errorf("expired entry still has metadata: %v", err)
	}
	for _, id := range []string{unlimited, longLived} {
		if !mustHas(t, b, id) {
			t.Errorf("Has(%q) = false, want surviving entry", id)
		}
	}
	if got := collector.get("staticcache_gc_removed_total"); got != 1 {
		t.Errorf("gc removed counter = %d, want 1", got)
	}
}

// blockDelete makes the files of id undeletable by putting a non-empty
// directory where its compressed sibling goes.
func blockDelete(t *testing.T, b *Backend, id string) {
	t.Helper()
	plain, err := b.Path(id)
	if err != nil {
		t.Fatalf("Path(%q) error = %v", id, err)
	}
	gz := plain + ".gz"
	if err := os.Remove(gz); err != nil && !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("removing %s: %v", gz, err)
	}
	if err := os.MkdirAll(filepath.Join(gz, "pinned"), 0o755); err != nil {
		t.Fatalf("creating %s: %v", gz, err)
	}
}

func TestBackend_CollectGarbageContinuesPastFailures(t *testing.T) {
	clock := newFakeClock()
	meta := memstore.New()
	b := newTestBackend(t, testConfig(t), WithMetadataStore(meta), WithClock(clock.Now))
	ctx := context.Background()

	stuck := "https://example.com/stuck"
	others := []string{"https://example.com/a", "https://example.com/b", "https://example.com/c"}
	for _, id := range append([]string{stuck}, others...) {
		mustSet(t, b, id, "x", nil, time.Minute)
	}
	blockDelete(t, b, stuck)

	clock.Advance(2 * time.Minute)
	err := b.CollectGarbage(ctx)
	if !errors.Is(err, ErrIO) {
		t.Fatalf("CollectGarbage() error = %v, want ErrIO", err)
	}

	for _, id := range others {
		if mustHas(t, b, id) {
			t.Errorf("Has(%q) = true after CollectGarbage", id)
		}
		if _, err := meta.Get(ctx, id); !errors.Is(err, metastore.ErrNotFound) {
			t.Errorf("meta.Get(%q) error = %v, want ErrNotFound", id, err)
		}
	}
	if !mustHas(t, b, stuck) {
		t.Error("undeletable entry lost its plain file")
	}
	if _, err := meta.Get(ctx, stuck); err != nil {
		t.Errorf("undeletable entry lost its record: %v", err)
	}
}

func TestBackend_FlushByTagContinuesPastFailures(t *testing.T) {
	meta := memstore.New()
	b := newTestBackend(t, testConfig(t), WithMetadataStore(meta))
	ctx := context.Background()

	stuck := "https://example.com/stuck"
	others := []string{"https://example.com/a", "https://example.com/b"}
	for _, id := range append([]string{stuck}, others...) {
		mustSet(t, b, id, "x", []string{"pageId_7"}, 0)
	}
	blockDelete(t, b, stuck)

	if err := b.FlushByTag(ctx, "pageId_7"); !errors.Is(err, ErrIO) {
		t.Fatalf("FlushByTag() error = %v, want ErrIO", err)
	}

	for _, id := range others {
		if mustHas(t, b, id) {
			t.Errorf("Has(%q) = true after FlushByTag", id)
		}
		if _, err := meta.Get(ctx, id); !errors.Is(err, metastore.ErrNotFound) {
			t.Errorf("meta.Get(%q) error = %v, want ErrNotFound", id, err)
		}
	}
	ids, err := b.FindIdentifiersByTag(ctx, "pageId_7")
	if err != nil {
		t.Fatalf("FindIdentifiersByTag() error = %v", err)
	}
	if diff := cmp.Diff([]string{stuck}, ids); diff != "" {
		t.Errorf("FindIdentifiersByTag() mismatch (-want +got):\n%s", diff)
	}
}

func TestBackend_FlushByTagPartialLookup(t *testing.T) {
	meta := &failingStore{Store: memstore.New(), failFindByTag: true}
	b := newTestBackend(t, testConfig(t), WithMetadataStore(meta))
	ctx := context.Background()
	id := "https://example.com/a"
	mustSet(t, b, id, "a", []string{"pageId_1"}, 0)

	ids, err := b.FindIdentifiersByTag(ctx, "pageId_1")
	if !errors.Is(err, ErrMetadataStore) {
		t.Errorf("FindIdentifiersByTag() error = %v, want ErrMetadataStore", err)
	}
	if diff := cmp.Diff([]string{id}, ids); diff != "" {
		t.Errorf("FindIdentifiersByTag() mismatch (-want +got):\n%s", diff)
	}

	if err := b.FlushByTag(ctx, "pageId_1"); !errors.Is(err, errStoreDown) {
		t.Errorf("FlushByTag() error = %v, want errStoreDown", err)
	}
	if mustHas(t, b, id) {
		t.Error("entry found before the lookup failure was not flushed")
	}
}

func TestBackend_DefaultLifetime(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig(t)
	cfg.DefaultLifetime = 10 * time.Minute
	meta := memstore.New()
	b := newTestBackend(t, cfg, WithMetadataStore(meta), WithClock(clock.Now))
	ctx := context.Background()
	id := "https://example.com/page"

	mustSet(t, b, id, "content", []string{"b", "a", "b", ""}, UseDefaultLifetime)

	got, err := b.Lookup(ctx, id)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	want := Record{
		Identifier: id,
		Tags:       []string{"b", "a"},
		ExpiresAt:  clock.Now().Add(10 * time.Minute),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Lookup() mismatch (-want +got):\n%s", diff)
	}

	clock.Advance(10 * time.Minute)
	if _, err := b.Lookup(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup() after expiry error = %v, want ErrNotFound", err)
	}
}

func TestBackend_FlushByTag(t *testing.T) {
	meta := memstore.New()
	b := newTestBackend(t, testConfig(t), WithMetadataStore(meta))
	ctx := context.Background()

	mustSet(t, b, "https://example.com/a", "a", []string{"pageId_1"}, 0)
	mustSet(t, b, "https://example.com/b", "b", []string{"pageId_1", "pageId_2"}, 0)
	mustSet(t, b, "https://example.com/c", "c", []string{"pageId_2"}, 0)

	ids, err := b.FindIdentifiersByTag(ctx, "pageId_1")
	if err != nil {
		t.Fatalf("FindIdentifiersByTag() error = %v", err)
	}
	if diff := cmp.Diff([]string{"https://example.com/a", "https://example.com/b"}, ids); diff != "" {
		t.Errorf("FindIdentifiersByTag() mismatch (-want +got):\n%s", diff)
	}

	if err := b.FlushByTag(ctx, "pageId_1"); err != nil {
		t.Fatalf("FlushByTag() error = %v", err)
	}

	for id, want := range map[string]bool{
		"https://example.com/a": false,
		"https://example.com/b": false,
		"https://example.com/c": true,
	} {
		if got := mustHas(t, b, id); got != want {
			t.Errorf("Has(%q) = %v, want %v", id, got, want)
		}
	}

	ids, err = b.FindIdentifiersByTag(ctx, "pageId_2")
	if err != nil {
		t.Fatalf("FindIdentifiersByTag() error = %v", err)
	}
	if diff := cmp.Diff([]string{"https://example.com/c"}, ids); diff != "" {
		t.Errorf("FindIdentifiersByTag() after flush mismatch (-want +got):\n%s", diff)
	}
}

func TestBackend_TagsUnsupportedWithoutMetadata(t *testing.T) {
	b := newTestBackend(t, testConfig(t))
	ctx := context.Background()

	if _, err := b.FindIdentifiersByTag(ctx, "pageId_1"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("FindIdentifiersByTag() error = %v, want ErrUnsupported", err)
	}
	if err := b.FlushByTag(ctx, "pageId_1"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("FlushByTag() error = %v, want ErrUnsupported", err)
	}
}

func TestBackend_ReservedTag(t *testing.T) {
	meta := memstore.New()
	b := newTestBackend(t, testConfig(t), WithMetadataStore(meta))
	ctx := context.Background()
	id := "internal:warmup-state"

	if err := b.Set(ctx, id, []byte("state"), []string{ReservedTag}, 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	rec, err := b.Lookup(ctx, id)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if string(rec.Content) != "state" {
		t.Errorf("Lookup().Content = %q, want %q", rec.Content, "state")
	}

	entries, err := os.ReadDir(b.Root())
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("cache root has %d entries, want none", len(entries))
	}

	removed, err := b.Remove(ctx, id)
	if err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if !removed {
		t.Error("Remove() = false, want true")
	}
	if _, err := b.Lookup(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup() after Remove error = %v, want ErrNotFound", err)
	}
	if removed, err := b.Remove(ctx, id); removed || !errors.Is(err, ErrInvalidIdentifier) {
		t.Errorf("second Remove() = %v, %v, want false, ErrInvalidIdentifier", removed, err)
	}
}

func TestBackend_SetMetadataFailure(t *testing.T) {
	meta := &failingStore{Store: memstore.New(), failPut: true}
	b := newTestBackend(t, testConfig(t), WithMetadataStore(meta))
	id := "https://example.com/page"

	err := b.Set(context.Background(), id, []byte("content"), nil, 0)
	if !errors.Is(err, ErrMetadataStore) || !errors.Is(err, errStoreDown) {
		t.Errorf("Set() error = %v, want ErrMetadataStore wrapping store error", err)
	}
	if mustHas(t, b, id) {
		t.Error("Has() = true after failed Set")
	}
}

func TestBackend_Stats(t *testing.T) {
	collector := &countingCollector{}
	b := newTestBackend(t, testConfig(t), WithStats(collector))
	ctx := context.Background()
	id := "https://example.com/page"

	mustSet(t, b, id, "content", nil, 0)
	b.Get(ctx, id)
	b.Get(ctx, "https://example.com/missing")

	for name, want := range map[string]int64{
		"staticcache_sets_total":       1,
		"staticcache_compressed_total": 1,
		"staticcache_hits_total":       1,
		"staticcache_misses_total":     1,
	} {
		if got := collector.get(name); got != want {
			t.Errorf("%s = %d, want %d", name, got, want)
		}
	}
}

func TestBackend_Close(t *testing.T) {
	b, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := b.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := b.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("Close() second call error = %v, want ErrClosed", err)
	}

	ctx := context.Background()
	id := "https://example.com/"
	if err := b.Set(ctx, id, []byte("x"), nil, 0); !errors.Is(err, ErrClosed) {
		t.Errorf("Set() after close error = %v, want ErrClosed", err)
	}
	if _, err := b.Get(ctx, id); !errors.Is(err, ErrClosed) {
		t.Errorf("Get() after close error = %v, want ErrClosed", err)
	}
	if err := b.Flush(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Flush() after close error = %v, want ErrClosed", err)
	}
}

func TestBackend_ConcurrentSet(t *testing.T) {
	b := newTestBackend(t, testConfig(t))
	ctx := context.Background()
	id := "https://example.com/contended"

	contents := []string{"aaaa", "bbbb", "cccc", "dddd"}
	var wg sync.WaitGroup
	for _, c := range contents {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				if err := b.Set(ctx, id, []byte(c), nil, 0); err != nil {
					t.Errorf("Set() error = %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	got, err := b.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	found := false
	for _, c := range contents {
		if string(got) == c {
			found = true
		}
	}
	if !found {
		t.Errorf("Get() = %q, want one complete write", got)
	}
}
