package store

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// Memory is a Store kept entirely in memory. Tests use it heavily, and the
// server falls back to it when no cache location is configured.
type Memory struct {
	m    sync.RWMutex
	data map[string]*memblob
}

var _ Store = &Memory{}

// NewMemory returns a new, empty memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]*memblob)}
}

// A memblob is one entry. Its lock is held for writing from Create until
// the writer is closed, and for reading while a reader is open, so opening
// a key blocks until its data is completely in. Close needs the flag to
// know which way the lock was taken.
type memblob struct {
	m       sync.RWMutex
	writing bool
	b       []byte
}

// List returns a channel yielding the key of every entry. The key list is
// a snapshot taken when List is called.
func (ms *Memory) List() <-chan string {
	ms.m.RLock()
	keys := make([]string, 0, len(ms.data))
	for k := range ms.data {
		keys = append(keys, k)
	}
	ms.m.RUnlock()
	c := make(chan string)
	go func() {
		for _, k := range keys {
			c <- k
		}
		close(c)
	}()
	return c
}

// ListPrefix returns the keys beginning with the given prefix.
func (ms *Memory) ListPrefix(prefix string) ([]string, error) {
	var result []string
	ms.m.RLock()
	for k := range ms.data {
		if strings.HasPrefix(k, prefix) {
			result = append(result, k)
		}
	}
	ms.m.RUnlock()
	return result, nil
}

// Open returns a reader for the given key and the entry's size. Readers
// stay usable after the key is deleted.
func (ms *Memory) Open(key string) (ReadAtCloser, int64, error) {
	ms.m.RLock()
	blob, ok := ms.data[key]
	ms.m.RUnlock()
	if !ok {
		return nil, 0, fmt.Errorf("No container %s", key)
	}
	blob.m.RLock()
	return blob, int64(len(blob.b)), nil
}

// Create makes a new entry and returns a writer filling it in. Keys are
// write once: creating one that exists is refused.
func (ms *Memory) Create(key string) (io.WriteCloser, error) {
	ms.m.Lock()
	defer ms.m.Unlock()
	if _, exists := ms.data[key]; exists {
		return nil, ErrKeyExists
	}
	blob := &memblob{writing: true}
	blob.m.Lock()
	ms.data[key] = blob
	return blob, nil
}

// Delete removes the given key. Deleting a missing key is not an error.
func (ms *Memory) Delete(key string) error {
	ms.m.Lock()
	delete(ms.data, key)
	ms.m.Unlock()
	return nil
}

func (b *memblob) ReadAt(p []byte, off int64) (int, error) {
	if int(off) >= len(b.b) {
		return 0, io.EOF
	}
	n := copy(p, b.b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b *memblob) Write(p []byte) (int, error) {
	b.b = append(b.b, p...)
	return len(p), nil
}

func (b *memblob) Close() error {
	if b.writing {
		b.writing = false
		b.m.Unlock()
	} else {
		b.m.RUnlock()
	}
	return nil
}
