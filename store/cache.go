package store

// Browsing a remote store would cost a HEAD request per Open just to
// learn object sizes. The S3 adapter remembers sizes it has already
// seen so repeated opens stay cheap.

import (
	"sync"
	"time"
)

// A sizecache maps keys to object sizes learned from a remote store.
// A positive size is authoritative, 0 means unknown, and sizeMissing
// records that the remote reported no such key. Entries expire, with
// missing keys aging out sooner than known sizes.
type sizecache struct {
	m       sync.RWMutex // protects everything below
	entries map[string]sizeEntry
	sweepAt time.Time // when to next purge expired entries
}

type sizeEntry struct {
	size    int64
	expires time.Time
}

const (
	// size value marking a key the remote reported as absent
	sizeMissing int64 = -1

	missingTTL = 3 * time.Hour
	knownTTL   = 10 * 24 * time.Hour
	sweepEvery = time.Hour
)

func newSizeCache() *sizecache {
	return &sizecache{entries: make(map[string]sizeEntry)}
}

// Get returns the size recorded for key, calling fill to ask the remote
// if nothing is cached. Keys previously marked missing return
// ErrNotExist without consulting the remote again.
func (s *sizecache) Get(key string, fill func(key string) (int64, error)) (int64, error) {
	s.m.Lock()
	defer s.m.Unlock()
	if now := time.Now(); now.After(s.sweepAt) {
		s.sweepAt = now.Add(sweepEvery)
		go s.sweep()
	}
	entry := s.entries[key]
	switch {
	case entry.size > 0:
		return entry.size, nil
	case entry.size < 0:
		return 0, ErrNotExist
	case fill == nil:
		return 0, nil
	}
	// The lock is held across fill so a concurrent Set or Delete
	// cannot race with recording the result. Fills are rare once
	// the cache is warm.
	size, err := fill(key)
	s.put(key, size)
	return size, err
}

// Set records a size for key. Pass sizeMissing to mark the key absent.
func (s *sizecache) Set(key string, size int64) {
	s.m.Lock()
	s.put(key, size)
	s.m.Unlock()
}

// put stores an entry. Caller must hold s.m.
func (s *sizecache) put(key string, size int64) {
	var ttl time.Duration
	switch {
	case size > 0:
		ttl = knownTTL
	case size < 0:
		ttl = missingTTL
	}
	s.entries[key] = sizeEntry{size: size, expires: time.Now().Add(ttl)}
}

// sweep removes every expired entry. It holds the lock the whole time.
func (s *sizecache) sweep() {
	s.m.Lock()
	defer s.m.Unlock()
	now := time.Now()
	for k, v := range s.entries {
		if now.After(v.expires) {
			delete(s.entries, k)
		}
	}
}
