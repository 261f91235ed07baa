package blobcache

import (
	"io"
	"io/ioutil"

	"github.com/ndlib/grove/store"
)

// An EmptyCache misses every Get and drops every Put. The server uses
// it when caching is turned off.
type EmptyCache struct{}

// Contains reports false for every key.
func (EmptyCache) Contains(key string) bool {
	return false
}

// Get always misses.
func (EmptyCache) Get(key string) (store.ReadAtCloser, int64, error) {
	return nil, 0, nil
}

// Put returns a writer that discards everything written to it. The
// item never enters the cache.
func (EmptyCache) Put(key string) (io.WriteCloser, error) {
	return discardCloser{ioutil.Discard}, nil
}

// Delete has nothing to remove.
func (EmptyCache) Delete(key string) error { return nil }

// Size returns 0. Nothing is ever kept.
func (EmptyCache) Size() int64 { return 0 }

// MaxSize returns 0.
func (EmptyCache) MaxSize() int64 { return 0 }

type discardCloser struct {
	io.Writer
}

func (discardCloser) Close() error { return nil }
