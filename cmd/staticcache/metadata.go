package main

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/staticfilecache/staticcache/internal/metastore"
	"github.com/staticfilecache/staticcache/internal/metastore/gcsstore"
	"github.com/staticfilecache/staticcache/internal/metastore/memstore"
	"github.com/staticfilecache/staticcache/internal/metastore/s3store"
)

// metadataSpec is a parsed --metadata value.
type metadataSpec struct {
	kind     string // none, memory, s3 or gs
	bucket   string
	prefix   string
	region   string // s3 only
	endpoint string // s3 only, for S3-compatible services
}

func parseMetadataURL(raw string) (metadataSpec, error) {
	switch raw {
	case "", "none":
		return metadataSpec{kind: "none"}, nil
	case "memory":
		return metadataSpec{kind: "memory"}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return metadataSpec{}, fmt.Errorf("parsing metadata URL: %w", err)
	}
	if u.Scheme != "s3" && u.Scheme != "gs" {
		return metadataSpec{}, fmt.Errorf("unsupported metadata store %q", raw)
	}
	if u.Host == "" {
		return metadataSpec{}, fmt.Errorf("metadata URL %q has no bucket", raw)
	}

	spec := metadataSpec{
		kind:   u.Scheme,
		bucket: u.Host,
		prefix: strings.Trim(u.Path, "/"),
	}
	if spec.kind == "s3" {
		q := u.Query()
		spec.region = q.Get("region")
		spec.endpoint = q.Get("endpoint")
	}
	return spec, nil
}

// openMetadata opens the store named by raw, e.g. "memory",
// "s3://bucket/prefix?region=eu-west-1" or "gs://bucket/prefix". It returns nil for "none",
// which leaves the backend in file-only mode.
func openMetadata(ctx context.Context, raw string) (metastore.Store, error) {
	spec, err := parseMetadataURL(raw)
	if err != nil {
		return nil, err
	}

	switch spec.kind {
	case "memory":
		return memstore.New(), nil
	case "s3":
		opts := []s3store.Option{s3store.WithPrefix(spec.prefix)}
		if spec.region != "" {
			opts = append(opts, s3store.WithRegion(spec.region))
		}
		if spec.endpoint != "" {
			opts = append(opts, s3store.WithEndpoint(spec.endpoint))
		}
		s, err := s3store.New(ctx, spec.bucket, opts...)
		if err != nil {
			return nil, fmt.Errorf("opening S3 metadata store: %w", err)
		}
		return s, nil
	case "gs":
		s, err := gcsstore.New(ctx, spec.bucket, gcsstore.WithPrefix(spec.prefix))
		if err != nil {
			return nil, fmt.Errorf("opening GCS metadata store: %w", err)
		}
		return s, nil
	}
	return nil, nil
}
