// Package storage defines the FileStore interface used for the catalog's
// object-level I/O: reading design images out of the private bucket and
// persisting the two-file descriptor cache.
//
// Two backends are provided. [Local] keeps files under a root directory and
// can hold an exclusive lock while the cache is rewritten. [S3Store] talks to
// Amazon S3 or any S3-compatible object store and additionally lists objects
// and signs short-lived download links.
package storage

import (
	"context"
	"io"
)

// FileStore is a minimal interface for file-oriented storage.
//
// Paths are forward-slash separated and relative to the store root.
// Implementations must be safe for concurrent use.
type FileStore interface {
	// Read opens the named file for reading.
	// The caller must close the returned ReadCloser when done.
	// If the file does not exist, an error wrapping os.ErrNotExist is returned.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Write opens the named file for writing, truncating any existing content.
	// The caller must close the returned WriteCloser to flush data.
	Write(ctx context.Context, path string) (io.WriteCloser, error)

	// Delete removes the named file. Missing files are not an error.
	Delete(ctx context.Context, path string) error

	// Exists reports whether the named file exists.
	Exists(ctx context.Context, path string) (bool, error)
}

// Locker is implemented by stores that can serialize writers across
// processes. Lock blocks until the named lock is held or ctx is done and
// returns the function that releases it.
type Locker interface {
	Lock(ctx context.Context, name string) (unlock func() error, err error)
}

// ReadAll reads the whole named file, refusing files larger than limit bytes
// when limit is positive.
func ReadAll(ctx context.Context, fs FileStore, path string, limit int64) ([]byte, error) {
	rc, err := fs.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	if limit <= 0 {
		return io.ReadAll(rc)
	}
	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, &TooLargeError{Path: path, Limit: limit}
	}
	return data, nil
}
