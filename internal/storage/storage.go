// Package storage provides the object-store layer for the three asset tiers
// (input, processed, approved) and the copy-then-delete move primitive that
// relocates assets between them.
//
// All callers work against the ObjectStore interface; the production
// implementation is S3-backed, tests use MemoryStore. Object locations are
// exchanged as s3:// URIs so ledger rows stay portable across buckets.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrObjectNotFound is returned when the object a call names does not exist.
// Callers branch with errors.Is.
var ErrObjectNotFound = errors.New("object not found")

// Tiers names the three buckets an asset moves through.
type Tiers struct {
	Input     string
	Processed string
	Approved  string
}

// Object describes one stored object from a listing. ContentType is empty
// for S3 listings (ListObjectsV2 does not return it); consumers fall back to
// extension-based detection.
type Object struct {
	Key         string
	Size        int64
	ContentType string
}

// Ref locates one object.
type Ref struct {
	Bucket string
	Key    string
}

// URI renders the ref as an s3:// URI.
func (r Ref) URI() string {
	return "s3://" + r.Bucket + "/" + r.Key
}

// Filename returns the last path segment of the key.
func (r Ref) Filename() string {
	if i := strings.LastIndex(r.Key, "/"); i >= 0 {
		return r.Key[i+1:]
	}
	return r.Key
}

// ParseURI parses an s3://bucket/key URI into a Ref.
func ParseURI(uri string) (Ref, error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return Ref{}, fmt.Errorf("parse uri %q: missing s3:// scheme", uri)
	}
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return Ref{}, fmt.Errorf("parse uri %q: want s3://bucket/key", uri)
	}
	return Ref{Bucket: bucket, Key: key}, nil
}

// ObjectStore is the object-storage interface the pipeline depends on.
// List returns objects under the prefix sorted by key; copy and delete are
// separate, non-atomic calls by contract.
type ObjectStore interface {
	// List returns all objects in the bucket under the prefix, ordered by
	// key. An empty prefix lists the whole bucket.
	List(ctx context.Context, bucket, prefix string) ([]Object, error)

	// Get reads an object's bytes. Returns ErrObjectNotFound if missing.
	Get(ctx context.Context, ref Ref) ([]byte, error)

	// Put writes an object.
	Put(ctx context.Context, ref Ref, data []byte, contentType string) error

	// Copy duplicates src to dst across buckets. Returns ErrObjectNotFound
	// if src is missing.
	Copy(ctx context.Context, src, dst Ref) error

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, ref Ref) error

	// Exists reports whether the object is present.
	Exists(ctx context.Context, ref Ref) (bool, error)
}
