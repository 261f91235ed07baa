// Package store provides a goroutine safe key-value interface whose
// values are streams instead of opaque byte arrays. Saved groves can
// run to many gigabytes, so nothing here ever asks for a whole value
// in memory.
//
// The FileSystem store is the one used in production. The others are
// useful for testing, for caching, and for keeping containers in S3.
package store

import (
	"io"
)

// ReadAtCloser is an io.ReaderAt that needs to be closed when done.
type ReadAtCloser interface {
	io.ReaderAt
	io.Closer
}

// Store is a stream based key-value store. A value is immutable once
// written, though it may be deleted and the key reused.
//
// Keys turn into file names in the FileSystem store, so they must not
// contain characters a file name cannot, such as '/'.
//
// Open hands back a ReadAtCloser rather than a ReadCloser so that a
// container can be windowed without reading all of it.
type Store interface {
	ROStore
	Create(key string) (io.WriteCloser, error)
	Delete(key string) error
}

// ROStore is the read-only half of a Store: listing keys and reading
// values.
type ROStore interface {
	List() <-chan string
	ListPrefix(prefix string) ([]string, error)
	Open(key string) (ReadAtCloser, int64, error)
}

// NewReader adapts an io.ReaderAt into an io.Reader that starts at
// offset 0. Handy for the ReadAtCloser values Open returns.
func NewReader(r io.ReaderAt) io.Reader {
	return &offsetReader{src: r}
}

// offsetReader tracks how far sequential reads have advanced into an
// io.ReaderAt.
type offsetReader struct {
	src io.ReaderAt
	off int64
}

func (r *offsetReader) Read(p []byte) (int, error) {
	n, err := r.src.ReadAt(p, r.off)
	r.off += int64(n)
	// a short read is fine for an io.Reader, hold the EOF back until
	// the next call
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}
