// Package storage holds the object stores metadata snapshots are kept in.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("object not found")

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key  string `json:"name"`
	Size int64  `json:"size"`
}

// ObjectStorage is a flat key space of immutable blobs. Keys use forward
// slashes.
type ObjectStorage interface {
	// Put stores r under key, replacing any previous object. Readers never
	// see a partial object.
	Put(ctx context.Context, key string, r io.Reader) error

	// Get opens key for reading; the caller closes it.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes key. A missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns the objects whose key starts with prefix, ordered by key.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// OpError records a failed storage operation.
type OpError struct {
	Op  string
	Key string
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

func opError(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Key: key, Err: err}
}

// checkKey rejects keys that are empty or would escape the store root.
func checkKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") {
		return fmt.Errorf("invalid key %q", key)
	}
	if clean := path.Clean(key); clean != key || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("invalid key %q", key)
	}
	return nil
}
