// Package blobcache caches rendered container blobs. Cached content
// lives in a store, so a cache can be memory only or persist on disk.
// The usage bookkeeping lives in memory only, and is rebuilt by
// scanning the store on startup, in no particular order.
package blobcache

import (
	"container/list"
	"errors"
	"io"
	"sync"

	"github.com/ndlib/grove/store"
)

// T is the interface every cache here provides. The server keeps its
// cache behind this interface so the policy is chosen at runtime.
type T interface {
	Contains(key string) bool
	Get(key string) (store.ReadAtCloser, int64, error)
	Put(key string) (io.WriteCloser, error)
	Delete(key string) error
	Size() int64    // bytes of storage in use
	MaxSize() int64 // the cache's limit; 0 means none
}

var (
	ErrCacheFull = errors.New("Cache is full and no more items can be removed")
)

// An LRU cache keeps its contents under a maximum total size by
// evicting the least recently used keys as room is needed.
type LRU struct {
	// where cached content is kept
	s store.Store

	m sync.RWMutex // protects everything below

	// bytes used by cached items. 0 until the first reserve or Scan.
	size int64

	maxSize int64

	lru     *list.List               // of entry, most recently used first
	keys    map[string]*list.Element // key to its place in lru
}

type entry struct {
	key  string
	size int64
}

// NewLRU makes an empty cache keeping at most maxSize bytes in s. The
// store may already hold items. Call Scan, inline or in a goroutine,
// to bring those into the cache.
func NewLRU(s store.Store, maxSize int64) *LRU {
	return &LRU{
		s:       s,
		maxSize: maxSize,
		lru:     list.New(),
		keys:    make(map[string]*list.Element),
	}
}

// Scan enumerates the backing store and adds what it finds to the
// cache. It blocks until finished. Items too large to ever fit are
// deleted from the backing store.
func (t *LRU) Scan() {
	for key := range t.s.List() {
		if t.Contains(key) {
			continue
		}
		rc, size, err := t.s.Open(key)
		if err != nil {
			continue
		}
		rc.Close()
		if err := t.reserve(size); err != nil {
			t.s.Delete(key)
			continue
		}
		t.linkEntry(entry{key: key, size: size})
	}
}

// Contains reports whether key is in the cache right now. It does not
// touch the usage order, and the key may be evicted before a Get.
func (t *LRU) Contains(key string) bool {
	t.m.RLock()
	_, ok := t.keys[key]
	t.m.RUnlock()
	return ok
}

// Get returns a reader on the content of key and marks the key as
// used. A key not in the cache returns a nil ReadAtCloser and a nil
// error, so check the reader, not the error, for a miss.
func (t *LRU) Get(key string) (store.ReadAtCloser, int64, error) {
	t.m.Lock()
	e, ok := t.keys[key]
	if !ok {
		t.m.Unlock()
		return nil, 0, nil
	}
	t.lru.MoveToFront(e)
	t.m.Unlock()
	return t.s.Open(key)
}

// Put returns a WriteCloser that saves what is written to it under
// key. Space is evicted as content arrives, and the key joins the
// cache when the writer is closed.
//
// A second Put for a key errors while the first is open, and again
// while the item stays in the cache.
func (t *LRU) Put(key string) (io.WriteCloser, error) {
	w, err := t.s.Create(key)
	if err != nil {
		return nil, err
	}
	return &writer{parent: t, key: key, w: w}, nil
}

// linkEntry records en as the most recently used. Space for it must
// already be reserved.
func (t *LRU) linkEntry(en entry) {
	t.m.Lock()
	t.keys[en.key] = t.lru.PushFront(en)
	t.m.Unlock()
}

// Delete removes key from the cache and the backing store. Removing a
// key that is not cached is a nop.
func (t *LRU) Delete(key string) error {
	t.m.Lock()
	e, ok := t.keys[key]
	if !ok {
		t.m.Unlock()
		return nil
	}
	en := t.lru.Remove(e).(entry)
	delete(t.keys, key)
	t.size -= en.size
	t.m.Unlock()
	return t.s.Delete(key)
}

// Size returns the bytes of storage the cache is using.
func (t *LRU) Size() int64 {
	t.m.RLock()
	defer t.m.RUnlock()
	return t.size
}

// MaxSize returns the cache's size limit.
func (t *LRU) MaxSize() int64 {
	return t.maxSize
}

// save is called by a child writer once a new item has arrived whole.
// Space was reserved write by write, so only bookkeeping is left.
func (t *LRU) save(w *writer) {
	t.linkEntry(entry{key: w.key, size: w.size})
}

// discard is called by a child writer to forget a partial item. The
// reservation is returned and whatever reached the store is removed.
func (t *LRU) discard(w *writer) {
	t.reserve(-w.size)
	t.s.Delete(w.key)
}

// reserve claims size bytes, evicting items as needed to stay under
// maxSize. A negative size returns an earlier claim. On error nothing
// stays reserved.
func (t *LRU) reserve(size int64) error {
	t.m.Lock()
	defer t.m.Unlock()

	t.size += size
	for t.size > t.maxSize {
		e := t.lru.Back()
		if e == nil {
			t.size -= size
			return ErrCacheFull
		}
		en := t.lru.Remove(e).(entry)
		delete(t.keys, en.key)
		if err := t.s.Delete(en.key); err != nil {
			t.size -= size
			return err
		}
		t.size -= en.size
	}
	return nil
}
